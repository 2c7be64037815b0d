package text

import (
	"errors"
	"strings"
)

// ErrEmptyText is returned when the input text is empty or whitespace-only.
var ErrEmptyText = errors.New("text is empty")

// Normalize prepares raw input text for synthesis.
// Every run of whitespace (including line breaks) collapses to a single
// space and the result is trimmed. Blank input returns ErrEmptyText.
func Normalize(s string) (string, error) {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return "", ErrEmptyText
	}

	return s, nil
}
