package model

import "encoding/json"

// Entity is implemented by every templated model type: KeyPath renders the
// entity's primary key (e.g. "/miner_blocks/hash/${hash}") and Defaults
// supplies the field values a migration-tolerant Decode should fill in when
// an older on-disk record is missing a field a newer schema added.
type Entity interface {
	KeyPath() string
	Defaults() map[string]json.RawMessage
}

// Decode unmarshals raw into out after filling in any field present in
// defaults but absent from raw. This gives every entity migration-tolerant
// reads: a record written before a field existed loads with that field's
// default rather than failing or zeroing silently, matching the model
// layer's "defaults fill missing fields on load" contract.
func Decode(raw []byte, defaults map[string]json.RawMessage, out any) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return err
	}
	for k, v := range defaults {
		if _, present := fields[k]; !present {
			fields[k] = v
		}
	}
	merged, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	return json.Unmarshal(merged, out)
}

// Encode is a thin alias over json.Marshal kept here so callers only need to
// import model's codec, not encoding/json, when round-tripping entities.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// rawDefault is a small helper for building a Defaults() map literal without
// repeating json.Marshal(...) at every call site.
func rawDefault(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err) // defaults are compile-time literals; a marshal failure is a bug
	}
	return b
}
