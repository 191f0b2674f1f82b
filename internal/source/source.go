package source

import (
	"io"
	"unicode/utf8"

	"github.com/gogs/chardet"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const DefaultCacheSize = 256

// Decode turns raw file bytes into UTF-8 text. A byte order mark selects
// UTF-8 or UTF-16 and is dropped; other input that is not valid UTF-8 is
// transcoded from the detected charset, falling back to ISO-8859-1.
func Decode(b []byte) (string, error) {
	out, _, err := transform.Bytes(unicode.BOMOverride(encoding.Nop.NewDecoder()), b)
	if err != nil {
		return "", errors.Wrap(err, "decode byte order mark")
	}
	if utf8.Valid(out) {
		return string(out), nil
	}
	out, _, err = transform.Bytes(detect(out).NewDecoder(), out)
	if err != nil {
		return "", errors.Wrap(err, "transcode source")
	}
	return string(out), nil
}

func detect(b []byte) encoding.Encoding {
	res, err := chardet.NewTextDetector().DetectBest(b)
	if err == nil && res != nil {
		if enc, err := htmlindex.Get(res.Charset); err == nil {
			return enc
		}
	}
	return charmap.ISO8859_1
}

// ---------------- Loader ----------------

// Loader reads and decodes files, keeping recently used texts.
type Loader struct {
	fs    afero.Fs
	cache *lru.Cache[string, string]
}

func NewLoader(fs afero.Fs, size int) (*Loader, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, errors.Wrap(err, "content cache")
	}
	return &Loader{fs: fs, cache: cache}, nil
}

func (l *Loader) Fs() afero.Fs { return l.fs }

// Load returns the decoded text of path. The file is closed before Load
// returns.
func (l *Loader) Load(path string) (string, error) {
	if s, ok := l.cache.Get(path); ok {
		return s, nil
	}
	f, err := l.fs.Open(path)
	if err != nil {
		return "", errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		return "", errors.Wrapf(err, "read %s", path)
	}
	s, err := Decode(b)
	if err != nil {
		return "", errors.Wrapf(err, "%s", path)
	}
	l.cache.Add(path, s)
	return s, nil
}

// Read decodes everything from r.
func Read(r io.Reader) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", errors.Wrap(err, "read source")
	}
	return Decode(b)
}
