/*
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package cpip

import (
	"context"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/fwessels/cpip/internal/config"
	"github.com/fwessels/cpip/internal/preprocessor"
	"github.com/fwessels/cpip/internal/token"
)

type (
	Token        = token.Token
	Kind         = token.Kind
	Options      = preprocessor.Options
	Preprocessor = preprocessor.Preprocessor
)

// New opens the translation unit at path.
func New(path string, opts Options) (*Preprocessor, error) {
	p, err := preprocessor.New(opts)
	if err != nil {
		return nil, err
	}
	if err := p.Open(path); err != nil {
		return nil, err
	}
	return p, nil
}

// Preprocess returns the whole output text of the unit at path.
func Preprocess(path string, opts Options) (string, error) {
	p, err := New(path, opts)
	if err != nil {
		return "", err
	}
	defer p.Close()

	var b strings.Builder
	for t, err := range p.All() {
		if err != nil {
			return b.String(), err
		}
		b.WriteString(t.Text)
	}
	return b.String(), nil
}

// Result is one finished unit of a Batch.
type Result struct {
	Path   string
	Tokens []Token
	// Err aggregates the diagnostics that did not stop the unit.
	Err error
}

// Batch preprocesses independent units concurrently, each with its own
// engine, and hands every result to fn. fn may be called from several
// goroutines at once. The first fatal error cancels the rest.
func Batch(ctx context.Context, units []string, opts Options, fn func(Result) error) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, path := range units {
		g.Go(func() error {
			res, err := run(ctx, path, opts)
			if err != nil {
				return err
			}
			return fn(res)
		})
	}
	return g.Wait()
}

func run(ctx context.Context, path string, opts Options) (Result, error) {
	p, err := New(path, opts)
	if err != nil {
		return Result{}, err
	}
	defer p.Close()

	res := Result{Path: path}
	for t, err := range p.All() {
		if err != nil {
			return Result{}, err
		}
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		res.Tokens = append(res.Tokens, t)
	}
	res.Err = p.Err()
	return res, nil
}

// LoadOptions reads a YAML configuration file.
func LoadOptions(fs afero.Fs, path string, log logrus.FieldLogger) (Options, error) {
	return config.Load(fs, path, log)
}
