package types

// StringNilOrEmpty checks if a pointer to a string is nil or empty
func StringNilOrEmpty(s *string) bool {
	return s == nil || *s == ""
}

// SafeBool returns the pointed-at bool, or the fallback when nil
func SafeBool(b *bool, fallback bool) bool {
	if b == nil {
		return fallback
	}
	return *b
}
