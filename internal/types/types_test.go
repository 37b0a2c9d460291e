package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func stringPtr(s string) *string {
	return &s
}

func boolPtr(b bool) *bool {
	return &b
}

func TestStringNilOrEmpty(t *testing.T) {
	tests := []struct {
		name     string
		input    *string
		expected bool
	}{
		{
			name:     "nil pointer",
			input:    nil,
			expected: true,
		},
		{
			name:     "empty string",
			input:    stringPtr(""),
			expected: true,
		},
		{
			name:     "non-empty string",
			input:    stringPtr("test"),
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := StringNilOrEmpty(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestSafeBool(t *testing.T) {
	tests := []struct {
		name     string
		input    *bool
		fallback bool
		expected bool
	}{
		{
			name:     "nil pointer uses fallback",
			input:    nil,
			fallback: true,
			expected: true,
		},
		{
			name:     "explicit false wins over fallback",
			input:    boolPtr(false),
			fallback: true,
			expected: false,
		},
		{
			name:     "explicit true",
			input:    boolPtr(true),
			fallback: false,
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SafeBool(tt.input, tt.fallback)
			assert.Equal(t, tt.expected, result)
		})
	}
}
