package model

import (
	"encoding/json"
	"fmt"
)

// ActionMethod is one of the commit action verbs a contract commit body can
// carry (spec data model section 3).
type ActionMethod string

const (
	MethodPost    ActionMethod = "POST"
	MethodRepost  ActionMethod = "REPOST"
	MethodRule    ActionMethod = "RULE"
	MethodModel   ActionMethod = "MODEL"
	MethodAction  ActionMethod = "ACTION"
	MethodGenesis ActionMethod = "GENESIS"
	MethodCreate  ActionMethod = "CREATE"
	MethodSend    ActionMethod = "SEND"
	MethodRecv    ActionMethod = "RECV"
)

// Action is a single operation inside a commit body.
type Action struct {
	Method ActionMethod    `json:"method"`
	Path   string          `json:"path,omitempty"`
	Value  json.RawMessage `json:"value,omitempty"`
	// Labels carries the positive action labels for MODEL-state advancement
	// when Method == MethodAction.
	Labels []string `json:"labels,omitempty"`
	// Content carries raw source text alongside a MODEL/RULE commit.
	// contractstore does not read it: the model or formula is decoded from
	// Value as JSON.
	Content string `json:"content,omitempty"`
}

// CommitHead carries a commit's linkage and authentication metadata.
type CommitHead struct {
	Parent     *Hash    `json:"parent,omitempty"`
	Signatures [][]byte `json:"signatures,omitempty"`
	Timestamp  int64    `json:"timestamp"`
}

// Commit is one node in a contract's append-only commit chain. Hash is the
// content hash of {body, head} in canonical JSON and is computed by the
// contractstore package, not stored redundantly on this struct to avoid two
// sources of truth — see contractstore.ComputeCommitHash.
type Commit struct {
	Body []Action   `json:"body"`
	Head CommitHead `json:"head"`
}

// Contract is a named commit chain (spec data model section 3).
type Contract struct {
	ID          string `json:"id"`
	Head        Hash   `json:"head"`
	CreatedAt   int64  `json:"created_at"`
	GenesisBody []Action `json:"genesis_body"`
}

func (c *Contract) KeyPath() string {
	return ContractKey(c.ID)
}

func (c *Contract) Defaults() map[string]json.RawMessage {
	return map[string]json.RawMessage{}
}

// ContractKey renders /contracts/${id} (materialized state root record).
func ContractKey(id string) string {
	return fmt.Sprintf("/contracts/%s", id)
}

// ContractValueKey renders /contracts/${id}/${normalized_path}.
func ContractValueKey(id, normalizedPath string) string {
	return fmt.Sprintf("/contracts/%s/%s", id, normalizedPath)
}

// CommitKey renders /commits/${contract_id}/${commit_hash}.
func CommitKey(contractID string, h Hash) string {
	return fmt.Sprintf("/commits/%s/%s", contractID, h.Hex())
}
