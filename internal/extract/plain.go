package extract

import (
	"strings"
	"unicode/utf8"
)

var newlineReplacer = strings.NewReplacer("\r\n", "\n", "\r", "\n")

// extractPlain returns content as a string with LF line endings.
// Invalid UTF-8 sequences are replaced with the replacement character.
func extractPlain(content []byte) (string, map[string]string, error) {
	s := string(content)
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "�")
	}
	return newlineReplacer.Replace(s), nil, nil
}
