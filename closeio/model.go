package closeio

// Page is one response of a Close listing endpoint.
// Offset paged collections report HasMore, cursor paged collections (events) report CursorNext.
// TotalResults is only populated when the request asked for it (e.g. `_limit=0`).
type Page[E any] struct {
	Data         []E    `json:"data"`
	HasMore      bool   `json:"has_more"`
	TotalResults int    `json:"total_results"`
	CursorNext   string `json:"cursor_next"`
}

// Record is a schema-less Close object. Nested objects decode as map[string]any and
// nested arrays as []any.
type Record map[string]any

// ID returns the `id` field of the record, or "" if it has none.
func (r Record) ID() string {
	return r.String("id")
}

// String returns the field as a string, or "" if it is missing or not a string.
func (r Record) String(key string) string {
	s, _ := r[key].(string)
	return s
}

// Bool returns the field as a bool, false if it is missing or not a bool.
func (r Record) Bool(key string) bool {
	b, _ := r[key].(bool)
	return b
}

// Map returns a nested object as a Record, or nil.
func (r Record) Map(key string) Record {
	return AsRecord(r[key])
}

// Records returns a nested array of objects. Elements that are not objects are dropped.
func (r Record) Records(key string) []Record {
	return AsRecords(r[key])
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	return cloneValue(r).(Record)
}

// AsRecord converts a decoded JSON object to a Record. It returns nil for anything else.
func AsRecord(v any) Record {
	switch m := v.(type) {
	case Record:
		return m
	case map[string]any:
		return Record(m)
	}
	return nil
}

// AsRecords converts a decoded JSON array of objects to records.
func AsRecords(v any) []Record {
	switch items := v.(type) {
	case []Record:
		return items
	case []any:
		out := make([]Record, 0, len(items))
		for _, item := range items {
			if rec := AsRecord(item); rec != nil {
				out = append(out, rec)
			}
		}
		return out
	}
	return nil
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case Record:
		out := make(Record, len(val))
		for k, item := range val {
			out[k] = cloneValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = cloneValue(item)
		}
		return out
	case []Record:
		out := make([]Record, len(val))
		for i, item := range val {
			out[i] = cloneValue(item).(Record)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	}
	return v
}
