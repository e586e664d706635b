package compiler

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/tunedb/internal/ir"
)

// ModuleField is the top-level field a .cue workload file defines.
const ModuleField = "module"

// InvalidModuleError lists every validation problem of a compiled module.
type InvalidModuleError struct {
	Source string
	Errors []ValidationError
}

func (e *InvalidModuleError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, v := range e.Errors {
		msgs[i] = v.Error()
	}
	return fmt.Sprintf("%s: invalid module: %s", e.Source, strings.Join(msgs, "; "))
}

// CompileSource compiles CUE source text and validates the module it
// defines under ModuleField. filename is used for error positions.
func CompileSource(filename string, src []byte) (*ir.Module, error) {
	v := cuecontext.New().CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	mv := v.LookupPath(cue.ParsePath(ModuleField))
	if !mv.Exists() {
		return nil, &CompileError{Field: ModuleField, Message: "no module defined", Pos: v.Pos()}
	}
	mod, err := CompileModule(mv)
	if err != nil {
		return nil, err
	}
	if errs := Validate(mod); len(errs) > 0 {
		return nil, &InvalidModuleError{Source: filename, Errors: errs}
	}
	return mod, nil
}

// LoadFile reads a workload module from a .cue definition or from the
// canonical .json form written by ir.SaveJSON.
func LoadFile(path string) (*ir.Module, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read module: %w", err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".cue":
		return CompileSource(path, data)
	case ".json":
		mod, err := ir.LoadJSON(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return mod, nil
	default:
		return nil, fmt.Errorf("%s: unsupported module file extension %q (want .cue or .json)", path, ext)
	}
}
