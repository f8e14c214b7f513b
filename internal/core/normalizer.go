package core

import (
	"bytes"
	"strings"
)

// LineNormalizer converts CRLF and lone CR line endings to LF.
//
// Participant machines produced logs and sources with mixed line endings;
// everything that splits text into lines goes through here first.
type LineNormalizer struct{}

// NewLineNormalizer creates a LineNormalizer.
func NewLineNormalizer() *LineNormalizer { return &LineNormalizer{} }

// Normalize returns content with every line ending rewritten to "\n".
func (LineNormalizer) Normalize(content []byte) []byte {
	if !bytes.ContainsRune(content, '\r') {
		return content
	}
	out := bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
	return bytes.ReplaceAll(out, []byte("\r"), []byte("\n"))
}

// Lines splits content into normalized lines. A trailing newline does not
// produce a final empty line.
func (n LineNormalizer) Lines(content []byte) []string {
	text := string(n.Normalize(content))
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

// ContainsMarker reports whether any line of output contains marker,
// compared case-insensitively. It returns the first matching line.
func ContainsMarker(output []byte, marker string) (string, bool) {
	if marker == "" {
		return "", false
	}
	needle := strings.ToLower(marker)
	for _, line := range (LineNormalizer{}).Lines(output) {
		if strings.Contains(strings.ToLower(line), needle) {
			return line, true
		}
	}
	return "", false
}
