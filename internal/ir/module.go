package ir

import (
	"fmt"
	"slices"
	"strings"
)

// Loop kinds. A loop starts serial; schedule primitives bind it to one of
// the other kinds exactly once.
const (
	LoopSerial     = "serial"
	LoopParallel   = "parallel"
	LoopVectorized = "vectorized"
	LoopUnrolled   = "unrolled"
)

// EntryFuncName is the function treated as the module entry point when a
// module has more than one function.
const EntryFuncName = "main"

// Module is a tensor program: a set of primitive functions.
// A Module held by a Workload is never mutated; schedules work on clones.
type Module struct {
	Funcs []*PrimFunc `json:"funcs"`
}

// PrimFunc is a single loop-nest function over tensor buffers.
type PrimFunc struct {
	Name     string    `json:"name"`
	Params   []Buffer  `json:"params"`
	Blocks   []*Block  `json:"blocks"`
	Preprocs []Preproc `json:"preprocs,omitempty"`
	Attrs    IRObject  `json:"attrs,omitempty"`
}

// Buffer is a tensor parameter of a PrimFunc.
type Buffer struct {
	Name  string  `json:"name"`
	DType string  `json:"dtype"`
	Shape []int64 `json:"shape"`
}

// Preproc records a layout rewrite applied to a parameter buffer: the
// caller-visible shape From was rewritten to To inside the function.
type Preproc struct {
	Buffer string  `json:"buffer"`
	From   []int64 `json:"from"`
	To     []int64 `json:"to"`
}

// Block is a named compute statement surrounded by a loop nest, outermost first.
type Block struct {
	Name        string   `json:"name"`
	Loops       []*Loop  `json:"loops"`
	Annotations IRObject `json:"annotations,omitempty"`
}

// Loop is a single loop of a block's nest.
type Loop struct {
	Var    string `json:"var"`
	Extent int64  `json:"extent"`
	Kind   string `json:"kind"`
}

// Entry returns the entry function: the one named "main", or the only
// function of a single-function module.
func (m *Module) Entry() (*PrimFunc, error) {
	if f := m.Func(EntryFuncName); f != nil {
		return f, nil
	}
	if len(m.Funcs) == 1 {
		return m.Funcs[0], nil
	}
	return nil, fmt.Errorf("module has %d functions and none named %q", len(m.Funcs), EntryFuncName)
}

// Func returns the function with the given name, or nil.
func (m *Module) Func(name string) *PrimFunc {
	for _, f := range m.Funcs {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Clone returns a deep copy of the module.
func (m *Module) Clone() *Module {
	out := &Module{Funcs: make([]*PrimFunc, len(m.Funcs))}
	for i, f := range m.Funcs {
		out.Funcs[i] = f.Clone()
	}
	return out
}

// Clone returns a deep copy of the function.
func (f *PrimFunc) Clone() *PrimFunc {
	out := &PrimFunc{
		Name:   f.Name,
		Params: make([]Buffer, len(f.Params)),
		Blocks: make([]*Block, len(f.Blocks)),
		Attrs:  f.Attrs.Clone(),
	}
	for i, p := range f.Params {
		out.Params[i] = Buffer{Name: p.Name, DType: p.DType, Shape: slices.Clone(p.Shape)}
	}
	for i, b := range f.Blocks {
		out.Blocks[i] = b.Clone()
	}
	if f.Preprocs != nil {
		out.Preprocs = make([]Preproc, len(f.Preprocs))
		for i, p := range f.Preprocs {
			out.Preprocs[i] = Preproc{Buffer: p.Buffer, From: slices.Clone(p.From), To: slices.Clone(p.To)}
		}
	}
	return out
}

// Clone returns a deep copy of the block.
func (b *Block) Clone() *Block {
	out := &Block{
		Name:        b.Name,
		Loops:       make([]*Loop, len(b.Loops)),
		Annotations: b.Annotations.Clone(),
	}
	for i, l := range b.Loops {
		cp := *l
		out.Loops[i] = &cp
	}
	return out
}

// Param returns the index of the named parameter, or -1.
func (f *PrimFunc) Param(name string) int {
	return slices.IndexFunc(f.Params, func(b Buffer) bool { return b.Name == name })
}

// Block returns the named block, or nil.
func (f *PrimFunc) Block(name string) *Block {
	for _, b := range f.Blocks {
		if b.Name == name {
			return b
		}
	}
	return nil
}

// Preproc returns the layout rewrite recorded for a buffer, or nil.
func (f *PrimFunc) Preproc(buffer string) *Preproc {
	for i := range f.Preprocs {
		if f.Preprocs[i].Buffer == buffer {
			return &f.Preprocs[i]
		}
	}
	return nil
}

// LoopIndex returns the position of the loop with the given variable, or -1.
func (b *Block) LoopIndex(v string) int {
	return slices.IndexFunc(b.Loops, func(l *Loop) bool { return l.Var == v })
}

// Validate checks the structural invariants every stored module must satisfy.
func (m *Module) Validate() error {
	if len(m.Funcs) == 0 {
		return fmt.Errorf("module has no functions")
	}
	seen := make(map[string]bool, len(m.Funcs))
	for _, f := range m.Funcs {
		if f == nil {
			return fmt.Errorf("module has a nil function")
		}
		if seen[f.Name] {
			return fmt.Errorf("duplicate function %q", f.Name)
		}
		seen[f.Name] = true
		if err := f.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks the invariants of a single function.
func (f *PrimFunc) Validate() error {
	if f.Name == "" {
		return fmt.Errorf("function with empty name")
	}
	params := make(map[string]bool, len(f.Params))
	for _, p := range f.Params {
		if p.Name == "" {
			return fmt.Errorf("func %s: parameter with empty name", f.Name)
		}
		if params[p.Name] {
			return fmt.Errorf("func %s: duplicate parameter %q", f.Name, p.Name)
		}
		params[p.Name] = true
		if p.DType == "" {
			return fmt.Errorf("func %s: parameter %s has no dtype", f.Name, p.Name)
		}
		if err := checkShape(p.Shape); err != nil {
			return fmt.Errorf("func %s: parameter %s: %w", f.Name, p.Name, err)
		}
	}
	for _, p := range f.Preprocs {
		if !params[p.Buffer] {
			return fmt.Errorf("func %s: preproc for unknown buffer %q", f.Name, p.Buffer)
		}
		if ShapeSize(p.From) != ShapeSize(p.To) {
			return fmt.Errorf("func %s: preproc for %s changes element count", f.Name, p.Buffer)
		}
	}
	blocks := make(map[string]bool, len(f.Blocks))
	for _, b := range f.Blocks {
		if b == nil || b.Name == "" {
			return fmt.Errorf("func %s: block with empty name", f.Name)
		}
		if blocks[b.Name] {
			return fmt.Errorf("func %s: duplicate block %q", f.Name, b.Name)
		}
		blocks[b.Name] = true
		vars := make(map[string]bool, len(b.Loops))
		for _, l := range b.Loops {
			if l.Var == "" {
				return fmt.Errorf("block %s: loop with empty var", b.Name)
			}
			if vars[l.Var] {
				return fmt.Errorf("block %s: duplicate loop var %q", b.Name, l.Var)
			}
			vars[l.Var] = true
			if l.Extent <= 0 {
				return fmt.Errorf("block %s: loop %s has non-positive extent %d", b.Name, l.Var, l.Extent)
			}
			switch l.Kind {
			case LoopSerial, LoopParallel, LoopVectorized, LoopUnrolled:
			default:
				return fmt.Errorf("block %s: loop %s has unknown kind %q", b.Name, l.Var, l.Kind)
			}
		}
		for k, v := range b.Annotations {
			if !IsAnnotationValue(v) {
				return fmt.Errorf("block %s: annotation %q must be string, int or bool", b.Name, k)
			}
		}
	}
	return nil
}

// IsAnnotationValue reports whether v may be stored as a block annotation.
// Annotations are part of the structural hash, so floats and nulls are excluded.
func IsAnnotationValue(v IRValue) bool {
	switch v.(type) {
	case IRString, IRInt, IRBool:
		return true
	default:
		return false
	}
}

func checkShape(shape []int64) error {
	for i, d := range shape {
		if d <= 0 {
			return fmt.Errorf("dimension %d is %d, must be positive", i, d)
		}
	}
	return nil
}

// ShapeSize returns the element count of a shape.
func ShapeSize(shape []int64) int64 {
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	return n
}

// String renders the module as an indented loop nest, for CLI output and test diagnostics.
func (m *Module) String() string {
	var sb strings.Builder
	for _, f := range sortedFuncs(m.Funcs) {
		fmt.Fprintf(&sb, "func %s(", f.Name)
		for i, p := range f.Params {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s: %s%v", p.Name, p.DType, p.Shape)
		}
		sb.WriteString(")\n")
		for _, b := range f.Blocks {
			indent := "  "
			for _, l := range b.Loops {
				fmt.Fprintf(&sb, "%sfor %s in %d (%s)\n", indent, l.Var, l.Extent, l.Kind)
				indent += "  "
			}
			fmt.Fprintf(&sb, "%sblock %s\n", indent, b.Name)
		}
	}
	return sb.String()
}

func sortedFuncs(funcs []*PrimFunc) []*PrimFunc {
	out := slices.Clone(funcs)
	slices.SortFunc(out, func(a, b *PrimFunc) int { return strings.Compare(a.Name, b.Name) })
	return out
}
