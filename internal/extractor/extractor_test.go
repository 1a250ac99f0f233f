package extractor

import (
	"archive/zip"
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/fumiama/go-docx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestFormatFor(t *testing.T) {
	tests := []struct {
		mime, name, want string
	}{
		{"application/pdf", "manual", "pdf"},
		{"text/plain; charset=utf-8", "notes.bin", "txt"},
		{"application/octet-stream", "Runbook.DOCX", "docx"},
		{"", "slides.pptx", "pptx"},
		{"", "ledger.xls", "xls"},
		{"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "", "xlsx"},
		{"image/png", "scan.png", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatFor(tt.mime, tt.name), "%s %s", tt.mime, tt.name)
	}
}

func TestExtractUnsupported(t *testing.T) {
	_, err := New(false).Extract([]byte("GIF89a"), "image/gif", "logo.gif")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))

	var extErr *ExtractionError
	assert.False(t, errors.As(err, &extErr))
}

func TestExtractEmptyTextFails(t *testing.T) {
	_, err := New(false).Extract([]byte("   \n\t "), "text/plain", "blank.txt")
	var extErr *ExtractionError
	require.True(t, errors.As(err, &extErr))
	assert.Equal(t, "txt", extErr.Format)
	assert.False(t, errors.Is(err, ErrUnsupportedFormat))
}

func TestExtractPlainText(t *testing.T) {
	data := append([]byte{0xEF, 0xBB, 0xBF}, []byte("Line one\nLine two \xff end")...)
	res, err := New(false).Extract(data, "text/plain", "notes.txt")
	require.NoError(t, err)
	assert.Equal(t, CategoryText, res.Category)
	assert.Equal(t, 1, res.SegmentCount)
	assert.True(t, strings.HasPrefix(res.Text, "Line one"))
	assert.Contains(t, res.Text, "�")
}

func TestExtractCorruptPDF(t *testing.T) {
	_, err := New(false).Extract([]byte("%PDF-1.4 not really"), "application/pdf", "broken.pdf")
	var extErr *ExtractionError
	require.True(t, errors.As(err, &extErr))
	assert.Equal(t, "pdf", extErr.Format)
}

func TestMarkdownParser(t *testing.T) {
	input := "# API Reference\n\nSome *intro* text.\n\n## Endpoints\n\n- list users\n- create users\n\n```\nGET /api/users\n```\n"
	text, segments, err := (&MarkdownParser{}).Parse([]byte(input))
	require.NoError(t, err)
	assert.Equal(t, 1, segments)
	assert.Contains(t, text, "API Reference\n\nSome intro text.")
	assert.Contains(t, text, "Endpoints")
	assert.Contains(t, text, "list users\ncreate users")
	assert.Contains(t, text, "GET /api/users")
	assert.Equal(t, 1, strings.Count(text, "Some intro text."))
}

func TestHTMLParser(t *testing.T) {
	input := `<html><head><title>Pump Guide</title><style>p{}</style></head>
<body><nav>Home | About</nav><h1>Startup</h1><p>Open the <b>inlet</b> valve.</p>
<script>var x = 1;</script><ul><li>Check pressure</li></ul></body></html>`
	text, _, err := (&HTMLParser{}).Parse([]byte(input))
	require.NoError(t, err)
	assert.Equal(t, "Pump Guide\n\nStartup\n\nOpen the inlet valve.\n\nCheck pressure", text)
}

func TestCSVParser(t *testing.T) {
	input := "name,role\nana,operator\nbo,lead,extra\n"
	text, _, err := (&CSVParser{}).Parse([]byte(input))
	require.NoError(t, err)
	assert.Contains(t, text, "Headers: name, role")
	assert.Contains(t, text, "name: ana, role: operator")
	assert.Contains(t, text, "name: bo, role: lead, extra")
}

func TestDOCXParser(t *testing.T) {
	doc := docx.New().WithDefaultTheme()
	doc.AddParagraph().AddText("Shutdown procedure")
	doc.AddParagraph().AddText("Close valve A before draining.")
	var buf bytes.Buffer
	_, err := doc.WriteTo(&buf)
	require.NoError(t, err)

	res, err := New(false).Extract(buf.Bytes(), "", "procedure.docx")
	require.NoError(t, err)
	assert.Equal(t, CategoryWord, res.Category)
	assert.Equal(t, 1, res.SegmentCount)
	assert.Contains(t, res.Text, "Shutdown procedure\n\nClose valve A before draining.")
}

func TestXLSXParser(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "Part"))
	require.NoError(t, f.SetCellValue("Sheet1", "B1", "Qty"))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", "Filter"))
	require.NoError(t, f.SetCellValue("Sheet1", "B2", 4))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	res, err := New(false).Extract(buf.Bytes(), "", "parts.xlsx")
	require.NoError(t, err)
	assert.Equal(t, CategorySheet, res.Category)
	assert.Equal(t, "Sheet: Sheet1\nHeader: Part\tQty\nRow 2: Filter\t4", res.Text)
}

func TestPPTXParser(t *testing.T) {
	slide := func(texts ...string) string {
		var sb strings.Builder
		sb.WriteString(`<p:sld xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main" xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main"><p:cSld><p:spTree>`)
		for _, tx := range texts {
			sb.WriteString(`<p:sp><p:txBody><a:p><a:r><a:t>` + tx + `</a:t></a:r></a:p></p:txBody></p:sp>`)
		}
		sb.WriteString(`</p:spTree></p:cSld></p:sld>`)
		return sb.String()
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	files := map[string]string{
		"ppt/slides/slide10.xml": slide("Tenth"),
		"ppt/slides/slide2.xml":  slide("Second", "More"),
		"ppt/slides/slide1.xml":  slide("First"),
		"ppt/presentation.xml":   "<p:presentation/>",
	}
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	res, err := New(false).Extract(buf.Bytes(), "", "deck.pptx")
	require.NoError(t, err)
	assert.Equal(t, CategorySlide, res.Category)
	assert.Equal(t, "First\n\nSecond\nMore\n\nTenth", res.Text)
}
