package extraction

import (
	"context"
	"strings"
)

// FirstSentence summarizes by keeping the text up to the first period.
type FirstSentence struct{}

func (FirstSentence) Summarize(_ context.Context, text string) (string, error) {
	if text == "" {
		return "", nil
	}
	first, _, _ := strings.Cut(text, ".")
	return first + ".", nil
}
