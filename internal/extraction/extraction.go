// Package extraction turns an uploaded identity document into best-effort
// profile attributes. Output may be partial; callers must not assume any
// field is set.
package extraction

import (
	"context"
	"strings"
	"unicode/utf8"
)

// Document is an uploaded evidence file.
type Document struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Attributes are the extracted guesses. Address is raw and must be digested
// before it is stored.
type Attributes struct {
	CanonicalName string `json:"canonical_name"`
	DOB           string `json:"dob"`
	Address       string `json:"address"`
}

// Extractor is implemented by the heuristic and remote model-backed
// extractors.
type Extractor interface {
	Extract(ctx context.Context, doc Document) (Attributes, error)
}

// Summarizer condenses generated consent text.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// maxTextRunes caps the decoded text when the document is read as plain text.
const maxTextRunes = 1000

// documentText decodes the bytes as UTF-8, dropping invalid sequences, and
// keeps the first maxTextRunes runes.
func documentText(data []byte) string {
	text := strings.ToValidUTF8(string(data), "")
	if utf8.RuneCountInString(text) <= maxTextRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxTextRunes])
}
