package transfer

import (
	"sort"
	"strconv"
	"strings"

	"github.com/ellogroup/ello-golang-closeio/closeio"
)

// OriginFields are identity fields that only make sense in the organization a record came from.
var OriginFields = []string{"id", "organization_id"}

// Strip returns a copy of record without the given fields.
func Strip(record closeio.Record, fields ...string) closeio.Record {
	out := record.Clone()
	for _, f := range fields {
		delete(out, f)
	}
	return out
}

// StripForCreate returns a copy of record without its origin identity fields and any extra fields.
func StripForCreate(record closeio.Record, extra ...string) closeio.Record {
	return Strip(record, append(append([]string(nil), OriginFields...), extra...)...)
}

// ClearUnknownUsers returns a copy of record in which every user id value (`user_...`) of a
// user not in known is removed.
func ClearUnknownUsers(record closeio.Record, known map[string]bool) closeio.Record {
	out := record.Clone()
	for k, v := range out {
		s, ok := v.(string)
		if ok && strings.HasPrefix(s, "user_") && !known[s] {
			delete(out, k)
		}
	}
	return out
}

// StructuredReplace walks v and rewrites every string leaf found in m. Objects keep their
// keys, arrays keep their order, anything else passes through. v is never modified.
func StructuredReplace(v any, m Mapping) any {
	switch val := v.(type) {
	case closeio.Record:
		out := make(closeio.Record, len(val))
		for k, item := range val {
			out[k] = StructuredReplace(item, m)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = StructuredReplace(item, m)
		}
		return out
	case []closeio.Record:
		out := make([]closeio.Record, len(val))
		for i, item := range val {
			out[i] = StructuredReplace(item, m).(closeio.Record)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = StructuredReplace(item, m)
		}
		return out
	case []string:
		out := make([]string, len(val))
		for i, item := range val {
			out[i] = m.Resolve(item)
		}
		return out
	case string:
		return m.Resolve(val)
	}
	return v
}

// TextualReplace substitutes every mapped id found in a textual query. Longer ids are
// replaced first so an id that is a prefix of another never clobbers it.
func TextualReplace(query string, m Mapping) string {
	if len(m) == 0 || query == "" {
		return query
	}
	ids := make([]string, 0, len(m))
	for id := range m {
		if id != "" {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		if len(ids[i]) != len(ids[j]) {
			return len(ids[i]) > len(ids[j])
		}
		return ids[i] < ids[j]
	})

	pairs := make([]string, 0, 2*len(ids))
	for _, id := range ids {
		pairs = append(pairs, id, m[id])
	}
	return strings.NewReplacer(pairs...).Replace(query)
}

// MergeMultiValue appends incoming to existing. Values already present are appended again:
// merging ["a"] into ["a"] yields ["a", "a"].
func MergeMultiValue(existing, incoming any) []any {
	out := toSlice(existing)
	return append(out, toSlice(incoming)...)
}

// MergeMultiValues returns a copy of payload where each of fields holds the destination's
// current values followed by the payload's values. Fields absent from payload are left out.
func MergeMultiValues(payload, current closeio.Record, fields []string) closeio.Record {
	out := payload.Clone()
	for _, f := range fields {
		incoming, ok := out[f]
		if !ok {
			continue
		}
		out[f] = MergeMultiValue(current[f], incoming)
	}
	return out
}

func toSlice(v any) []any {
	switch val := v.(type) {
	case nil:
		return []any{}
	case []any:
		return append([]any{}, val...)
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out
	}
	return []any{v}
}

// FormatCents renders an amount in cents as dollars, e.g. 1250 as "$12.5".
func FormatCents(cents float64) string {
	return "$" + strconv.FormatFloat(cents/100, 'f', -1, 64)
}
