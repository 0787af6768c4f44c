package strings

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrim(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		fold     func(string) string
		expected []string
	}{
		{name: "nil slice", input: nil, expected: nil},
		{name: "empty slice", input: []string{}, expected: []string{}},
		{
			name:     "trims and removes blanks",
			input:    []string{"  dob  ", "", "   ", "address"},
			expected: []string{"dob", "address"},
		},
		{
			name:     "keeps first-seen order",
			input:    []string{"address", "dob", "address"},
			expected: []string{"address", "dob"},
		},
		{
			name:     "case sensitive without fold",
			input:    []string{"DOB", "dob"},
			expected: []string{"DOB", "dob"},
		},
		{
			name:     "folds before comparing",
			input:    []string{" DOB ", "address", "dob", "Address"},
			fold:     strings.ToLower,
			expected: []string{"dob", "address"},
		},
		{
			name:     "fold to empty drops the element",
			input:    []string{"x", "keep"},
			fold:     func(s string) string { return strings.TrimPrefix(s, "x") },
			expected: []string{"keep"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DedupeAndTrim(tt.input, tt.fold))
		})
	}
}
