package sanitize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"control characters", "Reset\x00 the\x07 pump\u200b now", "Reset the pump now"},
		{"decorative glyphs", "■ Step one ● done", "Step one done"},
		{"long repeats", "Wait........... then aaaaaaaa", "Wait. then aaa"},
		{"mixed terminators", "Really?!?! Yes!!", "Really? Yes!"},
		{"dash and quote folding", "“Valve” – the ‘main’ one…", `"Valve" - the 'main' one.`},
		{"whitespace classes", "line\tone  here\r\nline two\fpage", "line one here\nline two\npage"},
		{"blank line collapse", "para one\n\n\n\n\npara two", "para one\n\npara two"},
		{"noise lines", "Heading\n-\n*)\n12\nBody text", "Heading\n12\nBody text"},
		{"cjk kept", "设备\n。\n手册", "设备\n手册"},
		{"trim", "  \n\n padded \n\n ", "padded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize(tt.in))
		})
	}
}

func TestSanitizeIdempotent(t *testing.T) {
	inputs := []string{
		"",
		"plain text",
		"“Quoted” —— dashes —————— and …… ellipses!!!!!!",
		"a\n\n-\n\nb\n\n\n\nc",
		"x\u200bx\u200bx\u200bx\u200bx\u200bx",
		"══════ TITLE ══════\n\n│ cell │ cell │\n",
		"end.\n.\n.\nstart",
		"\t\t  indented\r\n\r\n\r\n\r\ntext  \v more",
		"????!!!!....。。。！！",
		"OCR n0ise ~~~~~~~ ||||| ====== ���",
		strings.Repeat("line of text.\n", 20),
	}
	for _, in := range inputs {
		once := Sanitize(in)
		assert.Equal(t, once, Sanitize(once), "input %q", in)
	}
}

func TestMeaningfulRatio(t *testing.T) {
	assert.Zero(t, MeaningfulRatio(""))
	assert.Equal(t, 1.0, MeaningfulRatio("abc123"))
	assert.Equal(t, 0.5, MeaningfulRatio("ab##"))
	assert.Equal(t, 1.0, MeaningfulRatio("设备。"))
	assert.InDelta(t, 0.8, MeaningfulRatio("abcd "), 1e-9)
}

func TestIsCJK(t *testing.T) {
	assert.True(t, IsCJK('漢'))
	assert.True(t, IsCJK('ひ'))
	assert.True(t, IsCJK('カ'))
	assert.True(t, IsCJK('한'))
	assert.False(t, IsCJK('a'))
}
