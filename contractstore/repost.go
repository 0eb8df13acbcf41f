package contractstore

import (
	"encoding/json"
	"strings"

	"modalnode/errkind"
	"modalnode/model"
)

// repostSnapshot is validation-time state cross-checked right before
// persisting the commit that depends on it (Open Question 3's
// compare-and-swap recommendation): REPOST reads another contract's live
// state, and that state can change between validation and persistence.
// Taking the source's HEAD at validation time and rejecting if it moved
// before the writing contract's own commit lands avoids committing against
// a value that's already stale by the time the new commit is durable.
type repostSnapshot struct {
	sourceID   string
	sourceHead model.Hash
}

// parseRepostPath splits "$SOURCE_ID:/remote/path" into its contract id and
// remote path, per section 4.11's REPOST grammar.
func parseRepostPath(path string) (sourceID, remotePath string, err error) {
	if !strings.HasPrefix(path, "$") {
		return "", "", errkind.New(errkind.Invalid, "REPOST path must start with '$': "+path)
	}
	rest := path[1:]
	idx := strings.Index(rest, ":/")
	if idx < 0 {
		return "", "", errkind.New(errkind.Invalid, "REPOST path must contain ':/': "+path)
	}
	sourceID = rest[:idx]
	remotePath = rest[idx+1:]
	if sourceID == "" {
		return "", "", errkind.New(errkind.Invalid, "REPOST path has empty contract id: "+path)
	}
	if !strings.HasPrefix(remotePath, "/") {
		return "", "", errkind.New(errkind.Invalid, "REPOST remote path must start with '/': "+path)
	}
	return sourceID, remotePath, nil
}

// validateRepostActions checks every REPOST action in body against its
// source contract's current materialized value and returns one
// repostSnapshot per distinct source contract referenced, for the caller to
// re-verify immediately before persisting (see verifyRepostSnapshots).
func (s *Store) validateRepostActions(body []model.Action) ([]repostSnapshot, error) {
	seen := make(map[string]bool)
	var snaps []repostSnapshot
	for _, a := range body {
		if a.Method != model.MethodRepost {
			continue
		}
		sourceID, remotePath, err := parseRepostPath(a.Path)
		if err != nil {
			return nil, err
		}
		source, ok, err := s.getContractRecord(sourceID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errkind.New(errkind.Missing, "REPOST source contract not found: "+sourceID)
		}
		current, ok, err := s.Get(sourceID, remotePath)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errkind.New(errkind.Missing, "REPOST source path not found: "+remotePath+" in "+sourceID)
		}
		if !jsonValuesEqual(current, a.Value) {
			return nil, errkind.New(errkind.Invalid, "REPOST value does not match source contract's current value at "+remotePath)
		}
		if !seen[sourceID] {
			seen[sourceID] = true
			snaps = append(snaps, repostSnapshot{sourceID: sourceID, sourceHead: source.Head})
		}
	}
	return snaps, nil
}

// verifyRepostSnapshots re-checks that every snapshotted source contract's
// HEAD is unchanged since validation, rejecting the commit as a Conflict if
// not — the compare-and-swap half of Open Question 3's recommendation.
func (s *Store) verifyRepostSnapshots(snaps []repostSnapshot) error {
	for _, snap := range snaps {
		head, ok, err := s.Head(snap.sourceID)
		if err != nil {
			return err
		}
		if !ok || head != snap.sourceHead {
			return errkind.New(errkind.Conflict, "REPOST source contract changed during validation: "+snap.sourceID)
		}
	}
	return nil
}

func jsonValuesEqual(a, b json.RawMessage) bool {
	var va, vb any
	if json.Unmarshal(a, &va) != nil || json.Unmarshal(b, &vb) != nil {
		return string(a) == string(b)
	}
	return deepEqualJSON(va, vb)
}

func deepEqualJSON(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			bvv, ok := bv[k]
			if !ok || !deepEqualJSON(v, bvv) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !deepEqualJSON(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}
