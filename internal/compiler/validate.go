package compiler

import (
	"fmt"
	"strings"

	"github.com/roach88/tunedb/internal/ir"
)

// Validation error codes (E100-E199)
const (
	ErrNoFunctions       = "E101" // module has no functions
	ErrDuplicateName     = "E102" // duplicate function, param, block or loop var
	ErrEmptyName         = "E103" // empty function, param, block or loop var name
	ErrMissingDType      = "E104" // param without dtype
	ErrNonPositiveExtent = "E105" // shape dimension or loop extent <= 0
	ErrUnknownLoopKind   = "E106" // loop kind outside serial/parallel/vectorized/unrolled
	ErrAnnotationType    = "E107" // annotation value is not string, int or bool
	ErrInvalidPreproc    = "E108" // preproc for unknown buffer or changing element count
)

// ValidationError represents a module validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks a compiled module and returns every problem found
// (does not fail-fast). A module with no problems also passes
// ir.Module.Validate, which stores run before hashing.
func Validate(mod *ir.Module) []ValidationError {
	var errs []ValidationError
	add := func(field, code, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...), Code: code})
	}

	if mod == nil || len(mod.Funcs) == 0 {
		add("funcs", ErrNoFunctions, "module must define at least one function")
		return errs
	}

	funcNames := make(map[string]bool)
	for i, f := range mod.Funcs {
		at := fmt.Sprintf("funcs[%d]", i)
		if f == nil {
			add(at, ErrEmptyName, "function is nil")
			continue
		}
		if strings.TrimSpace(f.Name) == "" {
			add(at+".name", ErrEmptyName, "function name is required")
		} else if funcNames[f.Name] {
			add(at+".name", ErrDuplicateName, "duplicate function name: %q", f.Name)
		}
		funcNames[f.Name] = true
		errs = append(errs, validateFunc(at, f)...)
	}
	return errs
}

func validateFunc(at string, f *ir.PrimFunc) []ValidationError {
	var errs []ValidationError
	add := func(field, code, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...), Code: code})
	}

	params := make(map[string]bool)
	for i, p := range f.Params {
		pat := fmt.Sprintf("%s.params[%d]", at, i)
		switch {
		case p.Name == "":
			add(pat+".name", ErrEmptyName, "param name is required")
		case params[p.Name]:
			add(pat+".name", ErrDuplicateName, "duplicate param name: %q", p.Name)
		}
		params[p.Name] = true
		if p.DType == "" {
			add(pat+".dtype", ErrMissingDType, "param %q has no dtype", p.Name)
		}
		for j, d := range p.Shape {
			if d <= 0 {
				add(fmt.Sprintf("%s.shape[%d]", pat, j), ErrNonPositiveExtent, "dimension is %d, must be positive", d)
			}
		}
	}

	for i, p := range f.Preprocs {
		pat := fmt.Sprintf("%s.preprocs[%d]", at, i)
		if !params[p.Buffer] {
			add(pat+".buffer", ErrInvalidPreproc, "preproc for unknown buffer %q", p.Buffer)
		}
		if ir.ShapeSize(p.From) != ir.ShapeSize(p.To) {
			add(pat, ErrInvalidPreproc, "layout rewrite of %q changes element count %d -> %d",
				p.Buffer, ir.ShapeSize(p.From), ir.ShapeSize(p.To))
		}
	}

	blocks := make(map[string]bool)
	for i, b := range f.Blocks {
		bat := fmt.Sprintf("%s.blocks[%d]", at, i)
		if b == nil || b.Name == "" {
			add(bat+".name", ErrEmptyName, "block name is required")
			if b == nil {
				continue
			}
		} else if blocks[b.Name] {
			add(bat+".name", ErrDuplicateName, "duplicate block name: %q", b.Name)
		}
		blocks[b.Name] = true

		vars := make(map[string]bool)
		for j, l := range b.Loops {
			lat := fmt.Sprintf("%s.loops[%d]", bat, j)
			switch {
			case l.Var == "":
				add(lat+".var", ErrEmptyName, "loop var is required")
			case vars[l.Var]:
				add(lat+".var", ErrDuplicateName, "duplicate loop var: %q", l.Var)
			}
			vars[l.Var] = true
			if l.Extent <= 0 {
				add(lat+".extent", ErrNonPositiveExtent, "extent is %d, must be positive", l.Extent)
			}
			if !isLoopKind(l.Kind) {
				add(lat+".kind", ErrUnknownLoopKind, "unknown loop kind %q, must be serial, parallel, vectorized or unrolled", l.Kind)
			}
		}

		for _, k := range b.Annotations.SortedKeys() {
			if !ir.IsAnnotationValue(b.Annotations[k]) {
				add(bat+".annotations."+k, ErrAnnotationType, "annotation must be string, int or bool, got %s", ir.KindOf(b.Annotations[k]))
			}
		}
	}
	return errs
}

func isLoopKind(kind string) bool {
	switch kind {
	case ir.LoopSerial, ir.LoopParallel, ir.LoopVectorized, ir.LoopUnrolled:
		return true
	}
	return false
}
