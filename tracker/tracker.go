// Change detection for moderated subjects: given the attribute values a
// record had before a save and the values it has after, compute the set of
// moderation-relevant changes. An empty result means the save does not need
// review.
package tracker

import (
	"reflect"

	"github.com/warden-project/warden/models"
)

// bookkeeping attributes are never moderation-relevant
var excludedAttrs = map[string]bool{
	"id":         true,
	"created_at": true,
	"updated_at": true,
}

// Changes assembles the raw change map between two attribute snapshots.
// Attributes present in only one snapshot are treated as changing from or
// to nil.
func Changes(prev, curr map[string]any) models.AttrDiff {
	out := models.AttrDiff{}
	for k, nv := range curr {
		pv, ok := prev[k]
		if !ok {
			pv = nil
		}
		if !equalValue(pv, nv) {
			out[k] = models.AttrChange{pv, nv}
		}
	}
	for k, pv := range prev {
		if _, ok := curr[k]; !ok {
			out[k] = models.AttrChange{pv, nil}
		}
	}
	return out
}

// Diff computes the moderation-relevant subset of Changes. Rules, in order:
// identity/bookkeeping attributes are dropped; a nil previous value becoming
// an empty string is dropped (optional fields saved blank on fresh records
// are not edits); when watched is non-empty, attributes outside it are
// dropped.
func Diff(prev, curr map[string]any, watched []string) models.AttrDiff {
	diff := Changes(prev, curr)
	for k, ch := range diff {
		if excludedAttrs[k] {
			delete(diff, k)
			continue
		}
		if ch.Previous() == nil {
			if s, ok := ch.New().(string); ok && s == "" {
				delete(diff, k)
				continue
			}
		}
	}
	if len(watched) > 0 {
		allow := make(map[string]bool, len(watched))
		for _, a := range watched {
			allow[a] = true
		}
		for k := range diff {
			if !allow[k] {
				delete(diff, k)
			}
		}
	}
	return diff
}

func equalValue(a, b any) bool {
	if a == nil || b == nil {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}
