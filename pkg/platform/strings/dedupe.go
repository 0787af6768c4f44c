// Package strings provides string set helpers shared by request parsing.
package strings

import (
	"strings"
)

// DedupeAndTrim removes duplicates and blanks from values after trimming and
// applying fold to each element. First-seen order is kept. A nil fold leaves
// elements unchanged apart from trimming.
//
//	DedupeAndTrim([]string{" DOB ", "address", "dob", ""}, strings.ToLower)
//	// Returns: []string{"dob", "address"}
func DedupeAndTrim(values []string, fold func(string) string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		normalized := strings.TrimSpace(v)
		if fold != nil {
			normalized = fold(normalized)
		}
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		result = append(result, normalized)
	}
	return result
}
