package contractstore

import (
	"strings"

	"modalnode/errkind"
)

// ValueType is the declared type of a materialized contract value, carried
// by the path's extension per section 3: "/segment/segment/.../name.type".
type ValueType string

const (
	TypeText    ValueType = "text"
	TypeInt     ValueType = "int"
	TypeBool    ValueType = "bool"
	TypeBalance ValueType = "balance"
	TypePubkey  ValueType = "pubkey"
	TypeSet     ValueType = "set"
	TypeList    ValueType = "list"
	TypeJSON    ValueType = "json"
)

func validValueType(t ValueType) bool {
	switch t {
	case TypeText, TypeInt, TypeBool, TypeBalance, TypePubkey, TypeSet, TypeList, TypeJSON:
		return true
	default:
		return false
	}
}

// normalizePath trims a leading '/' the way the materialized-value key
// (/contracts/${id}/${normalized_path}) expects.
func normalizePath(path string) string {
	return strings.TrimPrefix(path, "/")
}

// pathType extracts the declared type from a path's trailing ".type"
// extension. A path without a recognized extension is rejected: every
// materialized value must declare its type per section 3's invariant.
func pathType(path string) (ValueType, error) {
	name := path
	if idx := strings.LastIndexByte(path, '/'); idx >= 0 {
		name = path[idx+1:]
	}
	dot := strings.LastIndexByte(name, '.')
	if dot < 0 || dot == len(name)-1 {
		return "", errkind.New(errkind.Invalid, "path has no type extension: "+path)
	}
	t := ValueType(name[dot+1:])
	if !validValueType(t) {
		return "", errkind.New(errkind.Invalid, "unknown value type in path: "+path)
	}
	return t, nil
}
