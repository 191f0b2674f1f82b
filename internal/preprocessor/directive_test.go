package preprocessor

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fwessels/cpip/internal/diag"
	"github.com/fwessels/cpip/internal/include"
)

const mainFile = "/proj/src/main.c"

var projectFiles = map[string]string{
	"/proj/src/local.h":    "CP\n",
	"/proj/src/loop.h":     "#include \"loop.h\"\n",
	"/proj/usr/spam.h":     "USR\n",
	"/proj/usr/inc/spam.h": "USR_INC\n",
	"/proj/sys/spam.h":     "SYS\n",
	"/proj/sys/inc/spam.h": "SYS_INC\n",
	"/proj/usr/next.h":     "#include_next <next.h>\nUSR\n",
	"/proj/usr/inc/next.h": "USR_INC\n",
	"/proj/usr/open.h":     "#if 1\n",
	"/proj/usr/file.h":     "__FILE__ __LINE__\n",
	"/proj/pre.h":          "#define PRE 7\n",
	"/proj/bad.h":          "#define X 1",
}

func projectOptions(t *testing.T, main string) Options {
	t.Helper()
	opts := testOptions()
	opts.UserDirs = []string{"/proj/usr", "/proj/usr/inc"}
	opts.SysDirs = []string{"/proj/sys", "/proj/sys/inc"}
	files := map[string]string{mainFile: main}
	for k, v := range projectFiles {
		files[k] = v
	}
	for name, text := range files {
		require.NoError(t, opts.Fs.MkdirAll(filepath.Dir(name), 0o755))
		require.NoError(t, afero.WriteFile(opts.Fs, name, []byte(text), 0o644))
	}
	return opts
}

func openProject(t *testing.T, opts Options) *Preprocessor {
	t.Helper()
	p, err := New(opts)
	require.NoError(t, err)
	require.NoError(t, p.Open(mainFile))
	t.Cleanup(func() { p.Close() })
	return p
}

func TestInclude(t *testing.T) {
	tests := []struct {
		name   string
		main   string
		output string
	}{
		{"quoted", "#include \"spam.h\"\n", "\n.USR.\n"},
		{"angle", "#include <spam.h>\n", "\n.SYS.\n"},
		{"current path", "#include \"local.h\"\n", "\n.CP.\n"},
		{"computed", "#define HDR <spam.h>\n#include HDR\n", "\n.\n.SYS.\n"},
		{"twice", "#include \"spam.h\"\n#include \"spam.h\"\n", "\n.USR.\n.\n.USR.\n"},
		{"file and line", "#include \"file.h\"\n", "\n.\"/proj/usr/file.h\".1.\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := openProject(t, projectOptions(t, tt.main))
			got, err := drain(p)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.output, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
			assert.Equal(t, 0, p.Depth())
		})
	}
}

func TestIncludeNext(t *testing.T) {
	opts := projectOptions(t, "#include \"next.h\"\n")
	opts.GCCExtensions = true
	got, err := drain(openProject(t, opts))
	require.NoError(t, err)
	assert.Equal(t, "\n.\n.USR_INC.\n.USR.\n", got)

	opts = projectOptions(t, "#include_next <spam.h>\n")
	opts.GCCExtensions = true
	_, err = drain(openProject(t, opts))
	assert.EqualError(t, err, "main.c:1:2: #include_next in a file not found through an include path")
}

func TestIncludeRecords(t *testing.T) {
	p := openProject(t, projectOptions(t, "#include \"spam.h\"\n#include \"spam.h\"\n"))
	_, err := drain(p)
	require.NoError(t, err)

	want := IncludeEdge{
		From:   mainFile,
		Line:   1,
		Path:   "/proj/usr/spam.h",
		Origin: include.User,
		Trace:  []string{"CP=/proj/src", "usr=/proj/usr"},
	}
	edges := p.IncludeEdges()
	require.Len(t, edges, 2)
	if diff := cmp.Diff(want, edges[0]); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 2, edges[1].Line)
	if diff := cmp.Diff(map[string]int{mainFile: 1, "/proj/usr/spam.h": 2}, p.Includes()); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestMissingInclude(t *testing.T) {
	p := openProject(t, projectOptions(t, "#include \"missing.h\"\nx\n"))
	got, err := drain(p)
	require.NoError(t, err)
	assert.Equal(t, "\n.x.\n", got)
	require.Error(t, p.Err())
	assert.Contains(t, p.Err().Error(), "main.c:1:10: missing.h: No such file or directory")
	assert.Equal(t, 1, p.Reporter().Count(diag.Include))

	opts := projectOptions(t, "#include \"missing.h\"\nx\n")
	opts.Policy = diag.Strict{}
	_, err = drain(openProject(t, opts))
	assert.EqualError(t, err, "main.c:1:10: missing.h: No such file or directory")
}

func TestBackslashInHeaderName(t *testing.T) {
	p := openProject(t, projectOptions(t, "#include \"sub\\x.h\"\n"))
	_, err := drain(p)
	require.NoError(t, err)
	assert.Contains(t, p.Err().Error(), `main.c:1:10: sub\x.h: header names must use '/' as the path separator`)
}

func TestIncludeDepth(t *testing.T) {
	opts := projectOptions(t, "#include \"loop.h\"\n")
	opts.MaxIncludeDepth = 3
	_, err := drain(openProject(t, opts))
	assert.EqualError(t, err, "loop.h:1:2: #include nested depth 3 exceeds maximum of 3")
}

func TestUnterminatedConditionalInHeader(t *testing.T) {
	_, err := drain(openProject(t, projectOptions(t, "#include \"open.h\"\n#endif\n")))
	assert.EqualError(t, err, "open.h:1: unterminated conditional directive")
}

func TestPreInclude(t *testing.T) {
	opts := projectOptions(t, "PRE\n")
	opts.PreIncludes = []string{"/proj/pre.h"}
	p := openProject(t, opts)
	got, err := drain(p)
	require.NoError(t, err)
	assert.Equal(t, "\n.7.\n", got)
	assert.Equal(t, 1, p.Includes()["/proj/pre.h"])

	opts = projectOptions(t, "X\n")
	opts.PreIncludes = []string{"/proj/bad.h"}
	p, err = New(opts)
	require.NoError(t, err)
	assert.EqualError(t, p.Open(mainFile), "bad.h: pre-include does not end in a newline")
}

func TestAnnotateLines(t *testing.T) {
	opts := projectOptions(t, "#include \"spam.h\"\n")
	opts.AnnotateLines = true
	p := openProject(t, opts)
	var b strings.Builder
	for tok, err := range p.All() {
		require.NoError(t, err)
		b.WriteString(tok.Text)
	}
	want := lines(
		`# 1 "/proj/src/main.c"`,
		``,
		`# 1 "/proj/usr/spam.h" 1`,
		`USR`,
		`# 2 "/proj/src/main.c" 2`,
	)
	if diff := cmp.Diff(want, b.String()); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestOpenMissingFile(t *testing.T) {
	p, err := New(testOptions())
	require.NoError(t, err)
	err = p.Open("/nowhere/t.c")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open /nowhere/t.c")
}
