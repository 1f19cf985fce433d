package docstore

import "encoding/json"

// Snapshot is a decoded read of one document. Field accessors absorb the
// loosely typed payloads the store holds: numbers arrive as float64 from the
// JSON decoder, and a few legacy fields may hold either a scalar or a list.
type Snapshot struct {
	Ref    Ref
	fields map[string]any
}

func newSnapshot(ref Ref, payloadJSON string) (Snapshot, error) {
	fields := map[string]any{}
	if payloadJSON != "" {
		if err := json.Unmarshal([]byte(payloadJSON), &fields); err != nil {
			return Snapshot{}, err
		}
	}
	return Snapshot{Ref: ref, fields: fields}, nil
}

// NewSnapshot builds a snapshot from already decoded fields. Intended for
// tests and for handler payloads arriving over the webhook.
func NewSnapshot(ref Ref, fields map[string]any) Snapshot {
	if fields == nil {
		fields = map[string]any{}
	}
	return Snapshot{Ref: ref, fields: fields}
}

// Data returns the decoded fields.
func (s Snapshot) Data() map[string]any {
	return s.fields
}

// String returns the named field as a string, or fallback when the field is
// absent or not a string.
func (s Snapshot) String(field, fallback string) string {
	if value, ok := s.fields[field].(string); ok {
		return value
	}
	return fallback
}

// Int64 returns the named field as an integer, or fallback when absent.
func (s Snapshot) Int64(field string, fallback int64) int64 {
	switch value := s.fields[field].(type) {
	case float64:
		return int64(value)
	case int64:
		return value
	case int:
		return int64(value)
	case json.Number:
		parsed, err := value.Int64()
		if err != nil {
			return fallback
		}
		return parsed
	default:
		return fallback
	}
}

// Bool returns the named field as a boolean, defaulting to false.
func (s Snapshot) Bool(field string) bool {
	value, ok := s.fields[field].(bool)
	return ok && value
}

// StringSlice normalizes the named field into a sequence of strings. Legacy
// documents store some list fields (owners) as a bare scalar; the union is
// resolved here at the read boundary and never propagated downstream.
func (s Snapshot) StringSlice(field string) []string {
	switch value := s.fields[field].(type) {
	case string:
		return []string{value}
	case []string:
		return value
	case []any:
		out := make([]string, 0, len(value))
		for _, item := range value {
			if text, ok := item.(string); ok {
				out = append(out, text)
			}
		}
		return out
	default:
		return nil
	}
}

// Map returns the named field as a nested object, or an empty map.
func (s Snapshot) Map(field string) map[string]any {
	if value, ok := s.fields[field].(map[string]any); ok {
		return value
	}
	return map[string]any{}
}
