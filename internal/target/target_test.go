package target

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tunedb/internal/ir"
)

func TestParse(t *testing.T) {
	tgt, err := Parse("llvm -mcpu=skylake-avx512 -num-cores=4 -fast-math")
	require.NoError(t, err)

	assert.Equal(t, "llvm", tgt.Kind)
	assert.Equal(t, ir.IRObject{
		"mcpu":      ir.IRString("skylake-avx512"),
		"num-cores": ir.IRInt(4),
		"fast-math": ir.IRBool(true),
	}, tgt.Attrs)
	assert.Equal(t, "llvm -fast-math -mcpu=skylake-avx512 -num-cores=4", tgt.String())
}

func TestParseBareKind(t *testing.T) {
	tgt, err := Parse("  cuda ")
	require.NoError(t, err)
	assert.Equal(t, "cuda", tgt.Kind)
	assert.Nil(t, tgt.Attrs)
	assert.Equal(t, "cuda", tgt.String())
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"", "empty"},
		{"-mcpu=x", "kind must come first"},
		{"llvm mcpu=x", "must start with"},
		{"llvm -=4", "invalid attribute"},
		{"llvm -kind=cuda", "invalid attribute"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			_, err := Parse(tt.input)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestExportFromConfigRoundTrip(t *testing.T) {
	tgt := MustParse("cuda -arch=sm_80 -max_threads_per_block=1024")
	tgt.Host = MustParse("llvm -mcpu=znver3")

	cfg := tgt.Export()
	assert.Equal(t, ir.IRString("cuda"), cfg["kind"])
	assert.Equal(t, ir.IRObject{"kind": ir.IRString("llvm"), "mcpu": ir.IRString("znver3")}, cfg["host"])

	back, err := FromConfig(cfg)
	require.NoError(t, err)
	assert.True(t, tgt.Equal(back))
	assert.Equal(t, tgt.String(), back.String())
}

func TestFromConfigHostString(t *testing.T) {
	tgt, err := FromConfig(ir.IRObject{"kind": ir.IRString("cuda"), "host": ir.IRString("llvm -mcpu=x")})
	require.NoError(t, err)
	require.NotNil(t, tgt.Host)
	assert.Equal(t, "llvm -mcpu=x", tgt.Host.String())
}

func TestFromConfigErrors(t *testing.T) {
	_, err := FromConfig(ir.IRObject{"mcpu": ir.IRString("x")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kind")

	_, err = FromConfig(ir.IRObject{"kind": ir.IRString("cuda"), "host": ir.IRInt(1)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "host")
}

func TestEqual(t *testing.T) {
	a := MustParse("llvm -num-cores=4")
	assert.True(t, a.Equal(MustParse("llvm  -num-cores=4")))
	assert.False(t, a.Equal(MustParse("llvm -num-cores=8")))
	assert.False(t, a.Equal(nil))
}
