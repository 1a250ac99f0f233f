package extractor

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/shakinm/xlsReader/xls"
	"github.com/shakinm/xlsReader/xls/structure"
	"github.com/xuri/excelize/v2"
)

// XLSXParser handles Office Open XML workbooks via excelize.
type XLSXParser struct{}

func (p *XLSXParser) Parse(data []byte) (string, int, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", 0, fmt.Errorf("open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	var buf strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil || len(rows) == 0 {
			continue
		}
		writeSheet(&buf, sheet, rows)
	}
	return buf.String(), 1, nil
}

// XLSParser handles legacy BIFF workbooks via xlsReader.
type XLSParser struct{}

func (p *XLSParser) Parse(data []byte) (string, int, error) {
	wb, err := xls.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", 0, fmt.Errorf("open xls: %w", err)
	}

	var buf strings.Builder
	for i := 0; i < wb.GetNumberSheets(); i++ {
		sheet, err := wb.GetSheet(i)
		if err != nil || sheet == nil {
			continue
		}
		var rows [][]string
		for _, row := range sheet.GetRows() {
			rows = append(rows, xlsRowValues(row.GetCols()))
		}
		if len(rows) == 0 {
			continue
		}
		writeSheet(&buf, sheet.GetName(), rows)
	}
	return buf.String(), 1, nil
}

func xlsRowValues(cols []structure.CellData) []string {
	out := make([]string, 0, len(cols))
	for _, col := range cols {
		val := col.GetString()
		if val == "" {
			if num := col.GetFloat64(); num != 0 {
				val = strconv.FormatFloat(num, 'f', -1, 64)
			} else if in := col.GetInt64(); in != 0 {
				val = strconv.FormatInt(in, 10)
			}
		}
		out = append(out, val)
	}
	return out
}

// writeSheet renders a sheet as a "Sheet:" line, a tab-joined header and one
// line per non-empty data row.
func writeSheet(buf *strings.Builder, name string, rows [][]string) {
	if buf.Len() > 0 {
		buf.WriteString("\n\n")
	}
	buf.WriteString("Sheet: ")
	buf.WriteString(name)
	buf.WriteString("\nHeader: ")
	buf.WriteString(strings.Join(rows[0], "\t"))
	for i, row := range rows[1:] {
		line := strings.TrimSpace(strings.Join(row, "\t"))
		if line == "" {
			continue
		}
		buf.WriteString("\nRow ")
		buf.WriteString(strconv.Itoa(i + 2))
		buf.WriteString(": ")
		buf.WriteString(line)
	}
}
