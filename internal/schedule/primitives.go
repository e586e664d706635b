package schedule

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/tunedb/internal/ir"
)

// apply mutates f according to inst. f is a private clone.
func apply(f *ir.PrimFunc, inst Instruction) ([]string, error) {
	switch inst.Kind {
	case KindSplit:
		return split(f, inst)
	case KindReorder:
		return nil, reorder(f, inst)
	case KindFuse:
		return fuse(f, inst)
	case KindParallel:
		return nil, bindLoop(f, inst, ir.LoopParallel)
	case KindVectorize:
		return nil, bindLoop(f, inst, ir.LoopVectorized)
	case KindUnroll:
		return nil, bindLoop(f, inst, ir.LoopUnrolled)
	case KindAnnotate:
		return nil, annotate(f, inst)
	case KindLayoutRewrite:
		return nil, layoutRewrite(f, inst)
	default:
		return nil, fmt.Errorf("unknown instruction kind %q", inst.Kind)
	}
}

func lookupBlock(f *ir.PrimFunc, inputs []string, minInputs int) (*ir.Block, error) {
	if len(inputs) < minInputs {
		return nil, fmt.Errorf("expected at least %d inputs, got %d", minInputs, len(inputs))
	}
	b := f.Block(inputs[0])
	if b == nil {
		return nil, fmt.Errorf("func %s has no block %q", f.Name, inputs[0])
	}
	return b, nil
}

func lookupLoop(b *ir.Block, v string) (int, error) {
	idx := b.LoopIndex(v)
	if idx < 0 {
		return 0, fmt.Errorf("block %s has no loop %q", b.Name, v)
	}
	return idx, nil
}

func split(f *ir.PrimFunc, inst Instruction) ([]string, error) {
	b, err := lookupBlock(f, inst.Inputs, 2)
	if err != nil {
		return nil, err
	}
	idx, err := lookupLoop(b, inst.Inputs[1])
	if err != nil {
		return nil, err
	}
	l := b.Loops[idx]
	if l.Kind != ir.LoopSerial {
		return nil, fmt.Errorf("loop %s is already %s", l.Var, l.Kind)
	}
	factors, err := ir.Ints(inst.Attrs["factors"])
	if err != nil {
		return nil, fmt.Errorf("factors: %w", err)
	}
	extents, err := inferFactors(l.Extent, factors)
	if err != nil {
		return nil, fmt.Errorf("loop %s: %w", l.Var, err)
	}

	taken := make(map[string]bool, len(b.Loops))
	for _, other := range b.Loops {
		taken[other.Var] = true
	}
	newLoops := make([]*ir.Loop, len(extents))
	vars := make([]string, len(extents))
	for i, ext := range extents {
		v := freshVar(fmt.Sprintf("%s_%d", l.Var, i), taken)
		taken[v] = true
		vars[i] = v
		newLoops[i] = &ir.Loop{Var: v, Extent: ext, Kind: ir.LoopSerial}
	}
	b.Loops = slices.Replace(b.Loops, idx, idx+1, newLoops...)
	return vars, nil
}

func inferFactors(extent int64, factors []int64) ([]int64, error) {
	if len(factors) < 2 {
		return nil, fmt.Errorf("need at least 2 factors, got %d", len(factors))
	}
	out := slices.Clone(factors)
	infer := -1
	known := int64(1)
	for i, fct := range factors {
		switch {
		case fct == -1 && infer >= 0:
			return nil, fmt.Errorf("at most one factor may be -1")
		case fct == -1:
			infer = i
		case fct <= 0:
			return nil, fmt.Errorf("factor %d is %d, must be positive", i, fct)
		default:
			known *= fct
		}
	}
	if infer >= 0 {
		if extent%known != 0 {
			return nil, fmt.Errorf("factors %v do not divide extent %d", factors, extent)
		}
		out[infer] = extent / known
		known = extent
	}
	if known != extent {
		return nil, fmt.Errorf("factors %v multiply to %d, want extent %d", factors, known, extent)
	}
	return out, nil
}

func freshVar(base string, taken map[string]bool) string {
	v := base
	for n := 1; taken[v]; n++ {
		v = fmt.Sprintf("%s_%d", base, n)
	}
	return v
}

func reorder(f *ir.PrimFunc, inst Instruction) error {
	b, err := lookupBlock(f, inst.Inputs, 3)
	if err != nil {
		return err
	}
	vars := inst.Inputs[1:]
	positions := make([]int, len(vars))
	seen := make(map[string]bool, len(vars))
	for i, v := range vars {
		if seen[v] {
			return fmt.Errorf("loop %q listed twice", v)
		}
		seen[v] = true
		if positions[i], err = lookupLoop(b, v); err != nil {
			return err
		}
	}
	loops := make([]*ir.Loop, len(vars))
	for i, p := range positions {
		loops[i] = b.Loops[p]
	}
	slices.Sort(positions)
	for i, p := range positions {
		b.Loops[p] = loops[i]
	}
	return nil
}

func fuse(f *ir.PrimFunc, inst Instruction) ([]string, error) {
	b, err := lookupBlock(f, inst.Inputs, 3)
	if err != nil {
		return nil, err
	}
	vars := inst.Inputs[1:]
	first, err := lookupLoop(b, vars[0])
	if err != nil {
		return nil, err
	}
	extent := int64(1)
	for i, v := range vars {
		idx, err := lookupLoop(b, v)
		if err != nil {
			return nil, err
		}
		if idx != first+i {
			return nil, fmt.Errorf("loops %v are not adjacent in nest order", vars)
		}
		if b.Loops[idx].Kind != ir.LoopSerial {
			return nil, fmt.Errorf("loop %s is already %s", v, b.Loops[idx].Kind)
		}
		extent *= b.Loops[idx].Extent
	}
	fused := &ir.Loop{Var: strings.Join(vars, "_") + "_fused", Extent: extent, Kind: ir.LoopSerial}
	if b.LoopIndex(fused.Var) >= 0 {
		return nil, fmt.Errorf("loop %s already exists", fused.Var)
	}
	b.Loops = slices.Replace(b.Loops, first, first+len(vars), fused)
	return []string{fused.Var}, nil
}

func bindLoop(f *ir.PrimFunc, inst Instruction, kind string) error {
	b, err := lookupBlock(f, inst.Inputs, 2)
	if err != nil {
		return err
	}
	if len(inst.Inputs) != 2 {
		return fmt.Errorf("expected [block, loop], got %d inputs", len(inst.Inputs))
	}
	idx, err := lookupLoop(b, inst.Inputs[1])
	if err != nil {
		return err
	}
	l := b.Loops[idx]
	if l.Kind != ir.LoopSerial {
		return fmt.Errorf("loop %s is already %s", l.Var, l.Kind)
	}
	if kind == ir.LoopVectorized && idx != len(b.Loops)-1 {
		return fmt.Errorf("only the innermost loop can be vectorized, %s is at depth %d of %d", l.Var, idx, len(b.Loops))
	}
	l.Kind = kind
	return nil
}

func annotate(f *ir.PrimFunc, inst Instruction) error {
	b, err := lookupBlock(f, inst.Inputs, 1)
	if err != nil {
		return err
	}
	key, ok := inst.Attrs["key"].(ir.IRString)
	if !ok || key == "" {
		return fmt.Errorf("annotation key must be a non-empty string")
	}
	value := inst.Attrs["value"]
	if !ir.IsAnnotationValue(value) {
		return fmt.Errorf("annotation %q: value must be string, int or bool, got %s", key, ir.KindOf(value))
	}
	if b.Annotations == nil {
		b.Annotations = ir.IRObject{}
	}
	b.Annotations[string(key)] = value
	return nil
}

func layoutRewrite(f *ir.PrimFunc, inst Instruction) error {
	if len(inst.Inputs) != 1 {
		return fmt.Errorf("expected [buffer], got %d inputs", len(inst.Inputs))
	}
	name := inst.Inputs[0]
	idx := f.Param(name)
	if idx < 0 {
		return fmt.Errorf("func %s has no parameter %q", f.Name, name)
	}
	shape, err := ir.Ints(inst.Attrs["shape"])
	if err != nil {
		return fmt.Errorf("shape: %w", err)
	}
	for i, d := range shape {
		if d <= 0 {
			return fmt.Errorf("shape dimension %d is %d, must be positive", i, d)
		}
	}
	param := &f.Params[idx]
	if ir.ShapeSize(shape) != ir.ShapeSize(param.Shape) {
		return fmt.Errorf("shape %v has %d elements, buffer %s has %d",
			shape, ir.ShapeSize(shape), name, ir.ShapeSize(param.Shape))
	}
	if pp := f.Preproc(name); pp != nil {
		pp.To = slices.Clone(shape)
	} else {
		f.Preprocs = append(f.Preprocs, ir.Preproc{Buffer: name, From: slices.Clone(param.Shape), To: slices.Clone(shape)})
	}
	param.Shape = slices.Clone(shape)
	return nil
}
