// Package compiler turns CUE workload definitions into ir.Module values.
//
// A definition is a struct whose funcs field maps function names to
// functions:
//
//	module: funcs: main: {
//		params: [{name: "A", dtype: "float32", shape: [128, 128]}]
//		blocks: [{
//			name: "C"
//			loops: [{var: "i", extent: 128}, {var: "j", extent: 128, kind: "parallel"}]
//			annotations: {"meta_schedule.tiling_structure": "SSRSRS"}
//		}]
//	}
//
// Loop kind defaults to "serial". Functions are keyed by name, so a name
// cannot be declared twice.
package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/tunedb/internal/ir"
)

// CompileModule parses a CUE value into a Module.
// Uses the CUE Go API directly (not the cue CLI).
//
// The value should be the module struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`module: funcs: main: { ... }`)
//	mod, err := CompileModule(v.LookupPath(cue.ParsePath("module")))
//
// The result is not validated; see Validate.
func CompileModule(v cue.Value) (*ir.Module, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	funcsVal := v.LookupPath(cue.ParsePath("funcs"))
	if !funcsVal.Exists() {
		return nil, &CompileError{Field: "funcs", Message: "funcs is required", Pos: v.Pos()}
	}
	iter, err := funcsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	mod := &ir.Module{}
	for iter.Next() {
		f, err := parseFunc(iter.Selector().Unquoted(), iter.Value())
		if err != nil {
			return nil, err
		}
		mod.Funcs = append(mod.Funcs, f)
	}
	if len(mod.Funcs) == 0 {
		return nil, &CompileError{Field: "funcs", Message: "at least one function is required", Pos: funcsVal.Pos()}
	}
	return mod, nil
}

func parseFunc(name string, v cue.Value) (*ir.PrimFunc, error) {
	f := &ir.PrimFunc{Name: name}
	field := "funcs." + name

	err := eachListItem(v, "params", func(i int, pv cue.Value) error {
		at := fmt.Sprintf("%s.params[%d]", field, i)
		var b ir.Buffer
		var err error
		if b.Name, err = requiredString(pv, "name", at); err != nil {
			return err
		}
		if b.DType, err = requiredString(pv, "dtype", at); err != nil {
			return err
		}
		if b.Shape, err = intList(pv, "shape", at); err != nil {
			return err
		}
		f.Params = append(f.Params, b)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = eachListItem(v, "blocks", func(i int, bv cue.Value) error {
		b, err := parseBlock(fmt.Sprintf("%s.blocks[%d]", field, i), bv)
		if err != nil {
			return err
		}
		f.Blocks = append(f.Blocks, b)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = eachListItem(v, "preprocs", func(i int, pv cue.Value) error {
		at := fmt.Sprintf("%s.preprocs[%d]", field, i)
		var p ir.Preproc
		var err error
		if p.Buffer, err = requiredString(pv, "buffer", at); err != nil {
			return err
		}
		if p.From, err = intList(pv, "from", at); err != nil {
			return err
		}
		if p.To, err = intList(pv, "to", at); err != nil {
			return err
		}
		f.Preprocs = append(f.Preprocs, p)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if f.Attrs, err = objectValue(v, "attrs", field); err != nil {
		return nil, err
	}
	return f, nil
}

func parseBlock(at string, v cue.Value) (*ir.Block, error) {
	name, err := requiredString(v, "name", at)
	if err != nil {
		return nil, err
	}
	b := &ir.Block{Name: name}

	err = eachListItem(v, "loops", func(i int, lv cue.Value) error {
		loopAt := fmt.Sprintf("%s.loops[%d]", at, i)
		l := &ir.Loop{Kind: ir.LoopSerial}
		var err error
		if l.Var, err = requiredString(lv, "var", loopAt); err != nil {
			return err
		}
		ext := lv.LookupPath(cue.ParsePath("extent"))
		if !ext.Exists() {
			return &CompileError{Field: loopAt + ".extent", Message: "extent is required", Pos: lv.Pos()}
		}
		if l.Extent, err = ext.Int64(); err != nil {
			return formatCUEError(err)
		}
		if kv := lv.LookupPath(cue.ParsePath("kind")); kv.Exists() {
			if l.Kind, err = kv.String(); err != nil {
				return formatCUEError(err)
			}
		}
		b.Loops = append(b.Loops, l)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if b.Annotations, err = objectValue(v, "annotations", at); err != nil {
		return nil, err
	}
	return b, nil
}

// eachListItem calls fn for every element of the optional list field.
func eachListItem(v cue.Value, field string, fn func(int, cue.Value) error) error {
	lv := v.LookupPath(cue.ParsePath(field))
	if !lv.Exists() {
		return nil
	}
	iter, err := lv.List()
	if err != nil {
		return formatCUEError(err)
	}
	for i := 0; iter.Next(); i++ {
		if err := fn(i, iter.Value()); err != nil {
			return err
		}
	}
	return nil
}

func requiredString(v cue.Value, field, at string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", &CompileError{Field: at + "." + field, Message: field + " is required", Pos: v.Pos()}
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func intList(v cue.Value, field, at string) ([]int64, error) {
	if !v.LookupPath(cue.ParsePath(field)).Exists() {
		return nil, &CompileError{Field: at + "." + field, Message: field + " is required", Pos: v.Pos()}
	}
	out := []int64{}
	err := eachListItem(v, field, func(_ int, iv cue.Value) error {
		n, err := iv.Int64()
		if err != nil {
			return formatCUEError(err)
		}
		out = append(out, n)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// objectValue converts an optional struct field. Missing and empty structs
// both yield nil, matching a module built in code.
func objectValue(v cue.Value, field, at string) (ir.IRObject, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return nil, nil
	}
	val, err := toValue(fv, at+"."+field)
	if err != nil {
		return nil, err
	}
	obj, ok := val.(ir.IRObject)
	if !ok {
		return nil, &CompileError{Field: at + "." + field, Message: "must be a struct", Pos: fv.Pos()}
	}
	if len(obj) == 0 {
		return nil, nil
	}
	return obj, nil
}

// toValue converts a concrete CUE value to its portable form.
func toValue(v cue.Value, at string) (ir.IRValue, error) {
	if !v.IsConcrete() {
		return nil, &CompileError{
			Field:   at,
			Message: fmt.Sprintf("value must be concrete, got %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
	switch v.IncompleteKind() {
	case cue.NullKind:
		return ir.IRNull{}, nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRBool(b), nil
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRInt(n), nil
	case cue.FloatKind:
		f, err := v.Float64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRFloat(f), nil
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRString(s), nil
	case cue.ListKind:
		out := ir.IRArray{}
		iter, err := v.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for i := 0; iter.Next(); i++ {
			elem, err := toValue(iter.Value(), fmt.Sprintf("%s[%d]", at, i))
			if err != nil {
				return nil, err
			}
			out = append(out, elem)
		}
		return out, nil
	case cue.StructKind:
		out := ir.IRObject{}
		iter, err := v.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			key := iter.Selector().Unquoted()
			elem, err := toValue(iter.Value(), at+"."+key)
			if err != nil {
				return nil, err
			}
			out[key] = elem
		}
		return out, nil
	default:
		return nil, &CompileError{
			Field:   at,
			Message: fmt.Sprintf("unsupported value kind %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
