package diag

import (
	"errors"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fwessels/cpip/internal/position"
)

func TestErrorFormat(t *testing.T) {
	tests := []struct {
		file string
		pos  position.Pos
		want string
	}{
		{"/src/proj/t.c", position.Pos{Line: 3, Col: 4}, "t.c:3:4: bad x"},
		{"<lex>", position.Pos{Line: 1}, "<lex>:1: bad x"},
		{"inc/f.h", position.Pos{}, "f.h: bad x"},
		{"", position.Pos{}, "bad x"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			err := Errorf(Lexical, tt.file, tt.pos, "bad %s", "x")
			assert.Equal(t, tt.want, err.Error())
		})
	}
}

func TestPolicies(t *testing.T) {
	classes := []Class{Lexical, Directive, Macro, Conditional, Include, UserError, Warning}
	tests := []struct {
		policy Policy
		fatal  []bool
	}{
		{FailFast{}, []bool{true, true, true, true, false, false, false}},
		{KeepGoing{}, []bool{true, true, false, false, false, false, false}},
		{Strict{}, []bool{true, true, true, true, true, true, false}},
	}
	for _, tt := range tests {
		t.Run(tt.policy.Name(), func(t *testing.T) {
			r := NewReporter(tt.policy, nil)
			for i, c := range classes {
				assert.Equal(t, tt.fatal[i], r.IsFatal(c), c.String())
			}
		})
	}
}

func TestPolicyByName(t *testing.T) {
	for name, want := range map[string]string{"": "fail-fast", "keep-going": "keep-going", "strict": "strict"} {
		p, err := PolicyByName(name)
		require.NoError(t, err)
		assert.Equal(t, want, p.Name())
	}
	_, err := PolicyByName("lenient")
	assert.EqualError(t, err, `unknown diagnostic policy "lenient"`)
}

func TestReporter(t *testing.T) {
	log, hook := test.NewNullLogger()
	r := NewReporter(KeepGoing{}, log)

	require.NoError(t, r.Report(Errorf(Macro, "t.c", position.Pos{Line: 2, Col: 1}, "redefined")))
	require.NoError(t, r.Report(Errorf(Include, "t.c", position.Pos{Line: 5, Col: 1}, "missing")))
	r.Warnf("t.c", position.Pos{Line: 7, Col: 2}, "extra tokens at end of #%s directive", "endif")

	assert.Equal(t, 1, r.Count(Macro))
	assert.Equal(t, 1, r.Count(Warning))
	require.Len(t, r.Events(), 3)
	assert.False(t, r.Events()[0].Fatal)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, "warning", entry.Data["class"])
	assert.Equal(t, 7, entry.Data["line"])

	// warnings are not part of the aggregate
	var merr *multierror.Error
	require.True(t, errors.As(r.Err(), &merr))
	assert.Len(t, merr.Errors, 2)
	var first *Error
	require.True(t, errors.As(merr.Errors[0], &first))
	assert.Equal(t, "redefined", first.Msg)

	err := r.Report(Errorf(Directive, "t.c", position.Pos{Line: 9, Col: 2}, "invalid"))
	require.Error(t, err)
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	assert.True(t, r.Events()[3].Fatal)
}

func TestReporterWithoutErrors(t *testing.T) {
	log, _ := test.NewNullLogger()
	r := NewReporter(nil, log)
	assert.Equal(t, "fail-fast", r.Policy().Name())
	assert.NoError(t, r.Err())
}

func TestClassString(t *testing.T) {
	assert.Equal(t, "conditional", Conditional.String())
	assert.Equal(t, "error", UserError.String())
	assert.Equal(t, "Class(99)", Class(99).String())
}
