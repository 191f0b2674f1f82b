package pragma

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fwessels/cpip/internal/tokenizer"
)

func newPragma(t *testing.T, text string) Pragma {
	t.Helper()
	toks, err := tokenizer.Tokenize("t.c", text)
	require.NoError(t, err)
	return Pragma{File: "t.c", Line: 1, Operands: toks}
}

func TestHandlers(t *testing.T) {
	tests := []struct {
		handler Handler
		text    string
		want    Result
	}{
		{PassThrough{}, "once", Result{Text: "#pragma once\n", Literal: true}},
		{PassThrough{}, "", Result{Text: "#pragma\n", Literal: true}},
		{PassThrough{}, "pack(push, 1)", Result{Text: "#pragma pack(push, 1)\n", Literal: true}},
		{Consume{}, "once", Result{}},
		{STDC{}, "STDC FP_CONTRACT ON", Result{Text: "#define STDC_FP_CONTRACT ON\n"}},
		{STDC{}, "STDC  CX_LIMITED_RANGE\tDEFAULT", Result{Text: "#define STDC_CX_LIMITED_RANGE DEFAULT\n"}},
		{STDC{}, "once", Result{Text: "#pragma once\n", Literal: true}},
	}
	for _, tt := range tests {
		t.Run(tt.handler.Name()+" "+tt.text, func(t *testing.T) {
			got, err := tt.handler.Handle(newPragma(t, tt.text))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMalformedSTDC(t *testing.T) {
	_, err := STDC{}.Handle(newPragma(t, "STDC FOO ON"))
	assert.EqualError(t, err, "malformed #pragma STDC FOO ON")
	_, err = STDC{}.Handle(newPragma(t, "STDC FENV_ACCESS"))
	assert.EqualError(t, err, "malformed #pragma STDC FENV_ACCESS")
}

func TestByName(t *testing.T) {
	for _, name := range []string{"pass-through", "consume", "stdc"} {
		h, err := ByName(name)
		require.NoError(t, err)
		assert.Equal(t, name, h.Name())
	}
	h, err := ByName("")
	require.NoError(t, err)
	assert.Equal(t, "pass-through", h.Name())
	assert.False(t, h.ExpandOperands())
	assert.True(t, PassThrough{Expand: true}.ExpandOperands())

	_, err = ByName("omp")
	assert.EqualError(t, err, `unknown pragma handler "omp"`)
}
