package source

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want string
	}{
		{"plain", []byte("int x;\n"), "int x;\n"},
		{"utf-8 bom", []byte("\xEF\xBB\xBFint x;\n"), "int x;\n"},
		{"utf-16le bom", []byte("\xFF\xFEa\x00b\x00\n\x00"), "ab\n"},
		{"utf-16be bom", []byte("\xFE\xFF\x00a\x00b"), "ab"},
		{"utf-8 text", []byte("caf\xC3\xA9\n"), "café\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeLegacyCharset(t *testing.T) {
	in := []byte("/* Le caf\xe9 est tr\xe8s bon, la cr\xe8me br\xfbl\xe9e aussi. */\nint x;\n")
	got, err := Decode(in)
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(got))
	assert.True(t, strings.HasPrefix(got, "/* Le caf"))
	assert.True(t, strings.HasSuffix(got, "*/\nint x;\n"))
}

func TestLoader(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/src/t.c", []byte("\xEF\xBB\xBFx\n"), 0o644))

	l, err := NewLoader(fs, 0)
	require.NoError(t, err)
	assert.Equal(t, fs, l.Fs())

	s, err := l.Load("/src/t.c")
	require.NoError(t, err)
	assert.Equal(t, "x\n", s)

	// later loads come from the cache
	require.NoError(t, fs.Remove("/src/t.c"))
	s, err = l.Load("/src/t.c")
	require.NoError(t, err)
	assert.Equal(t, "x\n", s)

	_, err = l.Load("/src/missing.c")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open /src/missing.c")
}

func TestRead(t *testing.T) {
	s, err := Read(strings.NewReader("\xEF\xBB\xBF#define A 1\n"))
	require.NoError(t, err)
	assert.Equal(t, "#define A 1\n", s)
}
