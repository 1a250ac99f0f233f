package extractor

import (
	"bytes"
	"strings"
	"unicode/utf8"
)

// TextParser handles plain text files.
type TextParser struct{}

func (p *TextParser) Parse(data []byte) (string, int, error) {
	return decodeUTF8(data), 1, nil
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// decodeUTF8 drops a leading BOM and replaces invalid sequences.
func decodeUTF8(data []byte) string {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return string(data)
	}
	return strings.ToValidUTF8(string(data), "�")
}
