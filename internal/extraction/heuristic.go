package extraction

import (
	"context"
	"strings"
)

// scannedLines bounds how many non-empty lines are inspected for dob and
// address hints.
const scannedLines = 10

var addressHints = []string{"street", "st.", "road", "rd", "lane", "addr", "city"}

// Heuristic reads the document as text: the first non-empty line is the
// name, the last line carrying a date hint is the dob, and lines with address
// words are joined into the address.
type Heuristic struct{}

func NewHeuristic() *Heuristic {
	return &Heuristic{}
}

func (h *Heuristic) Extract(_ context.Context, doc Document) (Attributes, error) {
	return ExtractText(documentText(doc.Data)), nil
}

// ExtractText applies the line heuristics to already decoded text.
func ExtractText(text string) Attributes {
	var lines []string
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}

	var attrs Attributes
	if len(lines) > 0 {
		attrs.CanonicalName = lines[0]
	}

	var address []string
	for _, l := range lines[:min(len(lines), scannedLines)] {
		low := strings.ToLower(l)
		if looksLikeDOB(l, low) {
			attrs.DOB = l
		}
		if containsAny(low, addressHints) {
			address = append(address, l)
		}
	}
	attrs.Address = strings.Join(address, " ")
	return attrs
}

func looksLikeDOB(line, low string) bool {
	if strings.Contains(low, "dob") || strings.Contains(low, "date of birth") {
		return true
	}
	for _, field := range strings.Fields(line) {
		if strings.Count(field, "/") == 2 {
			return true
		}
	}
	return false
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
