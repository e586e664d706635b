package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/tunedb/internal/ir"
	"github.com/roach88/tunedb/internal/testutil"
)

func TestValidateValid(t *testing.T) {
	assert.Empty(t, Validate(testutil.Matmul(16)))
}

func TestValidateNoFunctions(t *testing.T) {
	errs := Validate(&ir.Module{})
	assert.Len(t, errs, 1)
	assert.Equal(t, ErrNoFunctions, errs[0].Code)

	errs = Validate(nil)
	assert.Equal(t, ErrNoFunctions, errs[0].Code)
}

func TestValidateDuplicates(t *testing.T) {
	mod := testutil.Matmul(16)
	mod.Funcs = append(mod.Funcs, mod.Funcs[0].Clone())
	f := mod.Funcs[0]
	f.Params[1].Name = "A"
	f.Blocks = append(f.Blocks, f.Blocks[0].Clone())
	f.Blocks[0].Loops[1].Var = "i"

	errs := Validate(mod)
	fields := make([]string, 0, len(errs))
	for _, e := range errs {
		assert.Equal(t, ErrDuplicateName, e.Code, e.Error())
		fields = append(fields, e.Field)
	}
	assert.ElementsMatch(t, []string{
		"funcs[1].name",
		"funcs[0].params[1].name",
		"funcs[0].blocks[1].name",
		"funcs[0].blocks[0].loops[1].var",
	}, fields)
}

func TestValidatePreprocs(t *testing.T) {
	mod := testutil.Matmul(16)
	mod.Funcs[0].Preprocs = []ir.Preproc{
		{Buffer: "B", From: []int64{16, 16}, To: []int64{4, 16, 4}},
		{Buffer: "Z", From: []int64{16, 16}, To: []int64{16, 16}},
		{Buffer: "A", From: []int64{16, 16}, To: []int64{8, 8}},
	}
	errs := Validate(mod)
	assert.Len(t, errs, 2)
	for _, e := range errs {
		assert.Equal(t, ErrInvalidPreproc, e.Code)
	}
	assert.Equal(t, "funcs[0].preprocs[1].buffer", errs[0].Field)
	assert.Equal(t, "funcs[0].preprocs[2]", errs[1].Field)
}

func TestValidateAgreesWithModuleValidate(t *testing.T) {
	mods := map[string]func(*ir.Module){
		"empty func name":  func(m *ir.Module) { m.Funcs[0].Name = "" },
		"zero extent":      func(m *ir.Module) { m.Funcs[0].Blocks[0].Loops[0].Extent = 0 },
		"bad kind":         func(m *ir.Module) { m.Funcs[0].Blocks[0].Loops[0].Kind = "tensorized" },
		"float annotation": func(m *ir.Module) { m.Funcs[0].Blocks[0].Annotations = ir.IRObject{"x": ir.IRFloat(1.5)} },
		"missing dtype":    func(m *ir.Module) { m.Funcs[0].Params[0].DType = "" },
	}
	for name, mutate := range mods {
		t.Run(name, func(t *testing.T) {
			mod := testutil.Matmul(16)
			mutate(mod)
			assert.NotEmpty(t, Validate(mod))
			assert.Error(t, mod.Validate())
		})
	}
}

func TestValidationErrorFormat(t *testing.T) {
	e := ValidationError{Field: "funcs[0].name", Message: "function name is required", Code: ErrEmptyName}
	assert.Equal(t, "[E103] funcs[0].name: function name is required", e.Error())
}
