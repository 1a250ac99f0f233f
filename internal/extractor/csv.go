package extractor

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"
)

// CSVParser renders each data row as "header: value" pairs so rows stay
// self-describing after chunking.
type CSVParser struct{}

func (p *CSVParser) Parse(data []byte) (string, int, error) {
	reader := csv.NewReader(bytes.NewReader([]byte(decodeUTF8(data))))
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return "", 0, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return "", 1, nil
	}

	headers := records[0]
	var text strings.Builder
	text.WriteString("Headers: " + strings.Join(headers, ", ") + "\n\n")
	for _, row := range records[1:] {
		for j, cell := range row {
			if j < len(headers) && headers[j] != "" {
				text.WriteString(headers[j] + ": " + cell)
			} else {
				text.WriteString(cell)
			}
			if j < len(row)-1 {
				text.WriteString(", ")
			}
		}
		text.WriteString("\n")
	}
	return text.String(), 1, nil
}
