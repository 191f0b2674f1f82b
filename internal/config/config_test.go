package config

import (
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fwessels/cpip/internal/diag"
	"github.com/fwessels/cpip/internal/pragma"
)

const sample = `
user_dirs: [include, src/include]
system_dirs:
  - /usr/include
pre_includes: [config.h]
defines: [DEBUG, VERSION=3]
gcc_extensions: true
policy: keep-going
pragma: stdc
min_whitespace: true
max_include_depth: 50
`

func TestParse(t *testing.T) {
	f, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)
	assert.Equal(t, []string{"include", "src/include"}, f.UserDirs)
	assert.Equal(t, []string{"/usr/include"}, f.SystemDirs)
	assert.Equal(t, []string{"DEBUG", "VERSION=3"}, f.Defines)
	assert.True(t, f.GCCExtensions)
	assert.False(t, f.AnnotateLines)
	assert.Equal(t, 50, f.MaxIncludeDepth)

	log := logrus.New()
	log.Out = io.Discard
	opts, err := f.Options(afero.NewMemMapFs(), log)
	require.NoError(t, err)
	assert.Equal(t, diag.KeepGoing{}, opts.Policy)
	assert.Equal(t, pragma.STDC{}, opts.Pragma)
	assert.Equal(t, []string{"config.h"}, opts.PreIncludes)
	assert.True(t, opts.MinWhitespace)
	assert.Equal(t, log, opts.Logger)
}

func TestParseEmpty(t *testing.T) {
	f, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	opts, err := f.Options(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, diag.FailFast{}, opts.Policy)
	assert.Equal(t, pragma.PassThrough{}, opts.Pragma)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		doc string
		msg string
	}{
		{"include_dirs: [x]\n", "field include_dirs not found"},
		{"max_include_depth: -1\n", "max_include_depth must not be negative, got -1"},
		{"defines: 3\n", "parse configuration"},
	}
	for _, tt := range tests {
		t.Run(tt.doc, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestBadNames(t *testing.T) {
	_, err := (&File{Policy: "lenient"}).Options(nil, nil)
	assert.EqualError(t, err, `unknown diagnostic policy "lenient"`)
	_, err = (&File{Pragma: "omp"}).Options(nil, nil)
	assert.EqualError(t, err, `unknown pragma handler "omp"`)
}

func TestLoad(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/cpip.yaml", []byte("policy: strict\n"), 0o644))

	opts, err := Load(fs, "/etc/cpip.yaml", nil)
	require.NoError(t, err)
	assert.Equal(t, diag.Strict{}, opts.Policy)
	assert.Equal(t, fs, opts.Fs)

	_, err = Load(fs, "/etc/missing.yaml", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read configuration /etc/missing.yaml")

	require.NoError(t, afero.WriteFile(fs, "/etc/bad.yaml", []byte("policy: [\n"), 0o644))
	_, err = Load(fs, "/etc/bad.yaml", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/etc/bad.yaml: parse configuration")
}
