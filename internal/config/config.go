package config

import (
	"bytes"
	"io"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/fwessels/cpip/internal/diag"
	"github.com/fwessels/cpip/internal/pragma"
	"github.com/fwessels/cpip/internal/preprocessor"
)

// File is the YAML form of preprocessor.Options.
//
//	user_dirs: [include]
//	system_dirs: [/usr/include]
//	defines: [DEBUG, VERSION=3]
//	policy: keep-going
type File struct {
	UserDirs        []string `yaml:"user_dirs"`
	SystemDirs      []string `yaml:"system_dirs"`
	PreIncludes     []string `yaml:"pre_includes"`
	Defines         []string `yaml:"defines"`
	GCCExtensions   bool     `yaml:"gcc_extensions"`
	Policy          string   `yaml:"policy"`
	Pragma          string   `yaml:"pragma"`
	MinWhitespace   bool     `yaml:"min_whitespace"`
	AnnotateLines   bool     `yaml:"annotate_lines"`
	MaxIncludeDepth int      `yaml:"max_include_depth"`
}

// Parse reads a configuration document. Unknown keys are an error.
func Parse(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f File
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "parse configuration")
	}
	if f.MaxIncludeDepth < 0 {
		return nil, errors.Errorf("max_include_depth must not be negative, got %d", f.MaxIncludeDepth)
	}
	return &f, nil
}

// Options converts f, checking the policy and pragma names. fs and log are
// passed through.
func (f *File) Options(fs afero.Fs, log logrus.FieldLogger) (preprocessor.Options, error) {
	policy, err := diag.PolicyByName(f.Policy)
	if err != nil {
		return preprocessor.Options{}, err
	}
	handler, err := pragma.ByName(f.Pragma)
	if err != nil {
		return preprocessor.Options{}, err
	}
	return preprocessor.Options{
		UserDirs:        f.UserDirs,
		SysDirs:         f.SystemDirs,
		PreIncludes:     f.PreIncludes,
		Defines:         f.Defines,
		GCCExtensions:   f.GCCExtensions,
		Policy:          policy,
		Pragma:          handler,
		Fs:              fs,
		Logger:          log,
		MinWhitespace:   f.MinWhitespace,
		AnnotateLines:   f.AnnotateLines,
		MaxIncludeDepth: f.MaxIncludeDepth,
	}, nil
}

// Load reads the configuration file at path from fs.
func Load(fs afero.Fs, path string, log logrus.FieldLogger) (preprocessor.Options, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	b, err := afero.ReadFile(fs, path)
	if err != nil {
		return preprocessor.Options{}, errors.Wrapf(err, "read configuration %s", path)
	}
	f, err := Parse(bytes.NewReader(b))
	if err != nil {
		return preprocessor.Options{}, errors.Wrapf(err, "%s", path)
	}
	return f.Options(fs, log)
}
