// Package model defines the typed entities (C3): MinerBlock, MinerCheckpoint,
// ValidatorBlock, Contract and Commit, each with a templated key path, a
// field list with defaults, and migration-tolerant JSON decoding. The
// fixed-size Hash/Address types follow the 32/20-byte convention
// core/common_structs.go uses throughout the teacher's codebase.
package model

import (
	"encoding/hex"
	"errors"
)

// Hash is a 32-byte content digest (block hash, commit hash, certificate
// digest).
type Hash [32]byte

func (h Hash) Hex() string    { return hex.EncodeToString(h[:]) }
func (h Hash) String() string { return h.Hex() }
func (h Hash) IsZero() bool   { return h == Hash{} }

// HashFromHex parses a hex-encoded 32-byte hash.
func HashFromHex(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}
	if len(b) != len(h) {
		return h, errors.New("model: hash must be 32 bytes")
	}
	copy(h[:], b)
	return h, nil
}

// Address is a 20-byte peer/account identifier, matching common.Address's
// width from go-ethereum.
type Address [20]byte

func (a Address) Hex() string    { return hex.EncodeToString(a[:]) }
func (a Address) String() string { return a.Hex() }
func (a Address) Bytes() []byte  { return a[:] }
