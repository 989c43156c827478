package textnorm

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"only spaces", "   \t\n ", ""},
		{"trim", "  丹下健三  ", "丹下健三"},
		{"ideographic space", "丹下　健三", "丹下 健三"},
		{"full-width ascii", "ＴＯＫＹＯ　２０２０", "TOKYO 2020"},
		{"half-width katakana", "ﾃｽﾄ", "テスト"},
		{"control chars", "光の\x00教会\x1b", "光の教会"},
		{"zero width space", "光の\u200b教会", "光の教会"},
		{"collapse", "a   b\t\tc", "a b c"},
		{"injection kept as text", "'; DROP TABLE ZCDARCHITECTURE; --", "'; DROP TABLE ZCDARCHITECTURE; --"},
		{"emoji", "🏯 castle", "🏯 castle"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in, 0))
		})
	}
}

func TestNormalizeCapsLength(t *testing.T) {
	long := strings.Repeat("建", 500)
	got := Normalize(long, 100)
	assert.Equal(t, 100, utf8.RuneCountInString(got))

	spaced := strings.Repeat("ab ", 100)
	got = Normalize(spaced, 10)
	assert.LessOrEqual(t, utf8.RuneCountInString(got), 10)
	assert.False(t, strings.HasSuffix(got, " "))
}

func TestNormalizeIsIdempotent(t *testing.T) {
	for _, in := range []string{"ＴＯＫＹＯ　２０２０", "  a  b ", strings.Repeat("x ", 80), "ﾃｽﾄ　ビル"} {
		once := Normalize(in, 50)
		assert.Equal(t, once, Normalize(once, 50), in)
	}
}

func TestTerms(t *testing.T) {
	assert.Equal(t, []string{"丹下", "東京"}, Terms("丹下 東京 丹下"))
	assert.Equal(t, []string{"Tokyo"}, Terms("Tokyo tokyo"))
	assert.Empty(t, Terms(""))

	many := strings.Repeat("a b c d e f g h i j k ", 2)
	assert.Len(t, Terms(many), MaxTerms)
}

func TestRuneLen(t *testing.T) {
	assert.Equal(t, 2, RuneLen("丹下"))
	assert.Equal(t, 1, RuneLen("a"))
}
