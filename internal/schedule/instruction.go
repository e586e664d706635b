package schedule

import (
	"fmt"
	"slices"

	"github.com/roach88/tunedb/internal/ir"
)

// Instruction kinds.
const (
	KindSplit         = "split"
	KindReorder       = "reorder"
	KindFuse          = "fuse"
	KindParallel      = "parallel"
	KindVectorize     = "vectorize"
	KindUnroll        = "unroll"
	KindAnnotate      = "annotate"
	KindLayoutRewrite = "layout_rewrite"
	KindEnterPostproc = "enter_postproc"
)

// attrFunc selects the function an instruction applies to.
const attrFunc = "func"

var knownKinds = []string{
	KindSplit, KindReorder, KindFuse, KindParallel, KindVectorize,
	KindUnroll, KindAnnotate, KindLayoutRewrite, KindEnterPostproc,
}

// Instruction is one recorded schedule primitive.
type Instruction struct {
	Kind   string
	Inputs []string
	Attrs  ir.IRObject
}

// AsJSON returns the portable form [kind, [inputs...], {attrs}].
func (i Instruction) AsJSON() ir.IRValue {
	attrs := i.Attrs
	if attrs == nil {
		attrs = ir.IRObject{}
	}
	return ir.IRArray{ir.IRString(i.Kind), ir.StringArray(i.Inputs), attrs}
}

// String renders the instruction as portable JSON text.
func (i Instruction) String() string {
	data, err := ir.MarshalValue(i.AsJSON())
	if err != nil {
		return fmt.Sprintf("%s%v", i.Kind, i.Inputs)
	}
	return string(data)
}

// Equal compares kind, inputs and attrs.
func (i Instruction) Equal(other Instruction) bool {
	if i.Kind != other.Kind || !slices.Equal(i.Inputs, other.Inputs) {
		return false
	}
	a, errA := ir.MarshalValue(i.AsJSON())
	b, errB := ir.MarshalValue(other.AsJSON())
	return errA == nil && errB == nil && string(a) == string(b)
}

func (i Instruction) clone() Instruction {
	return Instruction{Kind: i.Kind, Inputs: slices.Clone(i.Inputs), Attrs: i.Attrs.Clone()}
}

// InstructionFromJSON parses the portable form produced by AsJSON.
func InstructionFromJSON(v ir.IRValue) (Instruction, error) {
	arr, ok := v.(ir.IRArray)
	if !ok || len(arr) != 3 {
		return Instruction{}, fmt.Errorf("instruction: expected [kind, inputs, attrs], got %s", describe(v))
	}
	kind, ok := arr[0].(ir.IRString)
	if !ok {
		return Instruction{}, fmt.Errorf("instruction: kind: expected string, got %s", ir.KindOf(arr[0]))
	}
	if !slices.Contains(knownKinds, string(kind)) {
		return Instruction{}, fmt.Errorf("instruction: unknown kind %q", kind)
	}
	inputs, err := ir.Strings(arr[1])
	if err != nil {
		return Instruction{}, fmt.Errorf("instruction %s: inputs: %w", kind, err)
	}
	attrs, ok := arr[2].(ir.IRObject)
	if !ok {
		return Instruction{}, fmt.Errorf("instruction %s: attrs: expected object, got %s", kind, ir.KindOf(arr[2]))
	}
	if len(attrs) == 0 {
		attrs = nil
	}
	return Instruction{Kind: string(kind), Inputs: inputs, Attrs: attrs}, nil
}

func describe(v ir.IRValue) string {
	if arr, ok := v.(ir.IRArray); ok {
		return fmt.Sprintf("array of %d", len(arr))
	}
	return ir.KindOf(v)
}
