package store

// Field accessors tolerant of JSON round-trips: numbers come back as
// float64 from the Postgres backend but stay int64 in the memory backend.

// String returns the named field as a string, or "" when absent.
func String(doc Document, field string) string {
	s, _ := doc[field].(string)
	return s
}

// Bool returns the named field as a bool, or false when absent.
func Bool(doc Document, field string) bool {
	b, _ := doc[field].(bool)
	return b
}

// Int64 returns the named field as an int64, or 0 when absent.
func Int64(doc Document, field string) int64 {
	switch v := doc[field].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

// StringMap returns the named field as a string map, or nil when absent.
func StringMap(doc Document, field string) map[string]string {
	switch v := doc[field].(type) {
	case map[string]string:
		return v
	case map[string]any:
		out := make(map[string]string, len(v))
		for k, val := range v {
			if s, ok := val.(string); ok {
				out[k] = s
			}
		}
		return out
	default:
		return nil
	}
}

// SubDoc returns the named field as a nested document, or nil when absent.
func SubDoc(doc Document, field string) Document {
	switch v := doc[field].(type) {
	case Document:
		return v
	case map[string]any:
		return Document(v)
	default:
		return nil
	}
}
