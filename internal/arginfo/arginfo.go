// Package arginfo describes the tensor arguments of a module's entry function.
package arginfo

import (
	"fmt"
	"slices"

	"github.com/roach88/tunedb/internal/ir"
)

// TypeTensor is the only argument type tag currently produced.
const TypeTensor = "TENSOR"

// ArgInfo is the dtype and shape of one tensor argument.
type ArgInfo struct {
	DType string
	Shape []int64
}

// AsJSON returns ["TENSOR", dtype, [dims...]].
func (a ArgInfo) AsJSON() ir.IRValue {
	return ir.IRArray{ir.IRString(TypeTensor), ir.IRString(a.DType), ir.IntArray(a.Shape)}
}

// FromJSON parses the form produced by AsJSON.
func FromJSON(v ir.IRValue) (ArgInfo, error) {
	arr, ok := v.(ir.IRArray)
	if !ok || len(arr) != 3 {
		return ArgInfo{}, fmt.Errorf("arg info: expected [type, dtype, shape], got %s", ir.KindOf(v))
	}
	tag, ok := arr[0].(ir.IRString)
	if !ok {
		return ArgInfo{}, fmt.Errorf("arg info: type: expected string, got %s", ir.KindOf(arr[0]))
	}
	if tag != TypeTensor {
		return ArgInfo{}, fmt.Errorf("arg info: unsupported type %q", tag)
	}
	dtype, ok := arr[1].(ir.IRString)
	if !ok {
		return ArgInfo{}, fmt.Errorf("arg info: dtype: expected string, got %s", ir.KindOf(arr[1]))
	}
	shape, err := ir.Ints(arr[2])
	if err != nil {
		return ArgInfo{}, fmt.Errorf("arg info: shape: %w", err)
	}
	return ArgInfo{DType: string(dtype), Shape: shape}, nil
}

// ListAsJSON encodes a list of arguments.
func ListAsJSON(args []ArgInfo) ir.IRArray {
	out := make(ir.IRArray, len(args))
	for i, a := range args {
		out[i] = a.AsJSON()
	}
	return out
}

// ListFromJSON decodes a list encoded by ListAsJSON.
func ListFromJSON(v ir.IRValue) ([]ArgInfo, error) {
	arr, ok := v.(ir.IRArray)
	if !ok {
		return nil, fmt.Errorf("args info: expected array, got %s", ir.KindOf(v))
	}
	out := make([]ArgInfo, len(arr))
	for i, elem := range arr {
		a, err := FromJSON(elem)
		if err != nil {
			return nil, fmt.Errorf("args info[%d]: %w", i, err)
		}
		out[i] = a
	}
	return out, nil
}

// FromEntryFunc returns one ArgInfo per parameter of the module entry. With
// removePreproc, buffers whose layout was rewritten report their original
// caller-visible shape.
func FromEntryFunc(mod *ir.Module, removePreproc bool) ([]ArgInfo, error) {
	f, err := mod.Entry()
	if err != nil {
		return nil, fmt.Errorf("arg info: %w", err)
	}
	out := make([]ArgInfo, len(f.Params))
	for i, p := range f.Params {
		shape := p.Shape
		if removePreproc {
			if pp := f.Preproc(p.Name); pp != nil {
				shape = pp.From
			}
		}
		out[i] = ArgInfo{DType: p.DType, Shape: slices.Clone(shape)}
	}
	return out, nil
}
