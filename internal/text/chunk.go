package text

import (
	"strings"
	"unicode/utf8"
)

// ChunkBySentence splits text into utterances at sentence boundaries
// (., !, ?), grouping consecutive sentences while each utterance stays
// within maxRunes characters. The input is normalized first, so chunk
// lengths match synthesis slot counts. maxRunes <= 0 disables splitting.
// A sentence longer than maxRunes is kept whole. Blank input yields nil.
func ChunkBySentence(s string, maxRunes int) []string {
	norm, err := Normalize(s)
	if err != nil {
		return nil
	}
	if maxRunes <= 0 {
		return []string{norm}
	}

	var (
		chunks  []string
		current []string
		size    int
	)
	for _, sentence := range sentences(norm) {
		n := utf8.RuneCountInString(sentence)
		if len(current) > 0 && size+1+n > maxRunes {
			chunks = append(chunks, strings.Join(current, " "))
			current, size = nil, 0
		}
		if len(current) > 0 {
			size++
		}
		current = append(current, sentence)
		size += n
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}

	return chunks
}

// sentences splits normalized text after each terminator run, so "Wait?!"
// stays one sentence.
func sentences(s string) []string {
	var out []string
	start := 0
	runes := []rune(s)
	for i, r := range runes {
		if !isTerminator(r) {
			continue
		}
		if i+1 < len(runes) && isTerminator(runes[i+1]) {
			continue
		}
		if seg := strings.TrimSpace(string(runes[start : i+1])); seg != "" {
			out = append(out, seg)
		}
		start = i + 1
	}
	if start < len(runes) {
		if seg := strings.TrimSpace(string(runes[start:])); seg != "" {
			out = append(out, seg)
		}
	}

	return out
}

func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}
