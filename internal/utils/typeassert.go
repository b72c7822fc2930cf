// Package utils reads typed values out of knowledge graph node metadata.
//
// Metadata is map[string]interface{}; after a snapshot round trip numbers
// come back as float64 and lists as []interface{}.
package utils

// GetString safely extracts a string from a map, returning defaultVal if not found or wrong type.
func GetString(m map[string]interface{}, key, defaultVal string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return defaultVal
}

// GetStringSlice safely extracts a string slice from a map.
// Handles both []string and []interface{} cases.
func GetStringSlice(m map[string]interface{}, key string) []string {
	if v, ok := m[key].([]string); ok {
		return v
	}
	// Handle []interface{} case (common from JSON unmarshaling)
	if v, ok := m[key].([]interface{}); ok {
		result := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				result = append(result, s)
			}
		}
		return result
	}
	return nil
}

// GetFloat64 safely extracts a float64 from a map.
// Also accepts int, which metadata built in memory may hold.
func GetFloat64(m map[string]interface{}, key string, defaultVal float64) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return defaultVal
}
