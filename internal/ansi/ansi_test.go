package ansi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStrip(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "hello world", want: "hello world"},
		{name: "colour", in: "\x1b[31mred\x1b[0m text", want: "red text"},
		{name: "bold and reset", in: "\x1b[1;32mok\x1b[m", want: "ok"},
		{name: "cursor hide", in: "\x1b[?25lworking\x1b[?25h", want: "working"},
		{name: "erase line", in: "progress\x1b[2K\x1b[1Gdone", want: "progressdone"},
		{name: "osc title bel", in: "\x1b]0;claude\x07output", want: "output"},
		{name: "osc title st", in: "\x1b]2;title\x1b\\output", want: "output"},
		{name: "keypad", in: "\x1b=text\x1b>", want: "text"},
		{name: "crlf", in: "a\r\nb\r\n", want: "a\nb\n"},
		{name: "lone cr", in: "a\rb", want: "a\nb"},
		{name: "nested after removal", in: "\x1b\x1b[0m[31mx", want: "x"},
		{name: "empty", in: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Strip(tt.in))
		})
	}
}

func TestStripIdempotent(t *testing.T) {
	inputs := []string{
		"\x1b[31mred\x1b[0m\r\n",
		"\x1b\x1b[0m[31mx",
		"\x1b]0;t\x07\x1b[?1049h body \x1b=",
		"no escapes",
	}
	for _, in := range inputs {
		once := Strip(in)
		assert.Equal(t, once, Strip(once), "input %q", in)
	}
}

func TestDropBlankLines(t *testing.T) {
	assert.Equal(t, "a\nb", DropBlankLines("a\n\n   \nb\n"))
	assert.Equal(t, "", DropBlankLines("\n\t\n"))
	assert.Equal(t, "  indented", DropBlankLines("\n  indented\n"))
}
