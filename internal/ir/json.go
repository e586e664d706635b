package ir

import (
	"fmt"
	"slices"
)

// ToValue converts the module to its portable value form.
// Functions are emitted in name order, so declaration order never affects
// the structural hash. Empty annotations and attrs are emitted as {}.
func (m *Module) ToValue() IRValue {
	funcs := sortedFuncs(m.Funcs)
	out := make(IRArray, len(funcs))
	for i, f := range funcs {
		out[i] = f.toValue()
	}
	return IRObject{"funcs": out}
}

func (f *PrimFunc) toValue() IRValue {
	params := make(IRArray, len(f.Params))
	for i, p := range f.Params {
		params[i] = IRObject{
			"name":  IRString(p.Name),
			"dtype": IRString(p.DType),
			"shape": IntArray(p.Shape),
		}
	}
	blocks := make(IRArray, len(f.Blocks))
	for i, b := range f.Blocks {
		loops := make(IRArray, len(b.Loops))
		for j, l := range b.Loops {
			loops[j] = IRObject{
				"var":    IRString(l.Var),
				"extent": IRInt(l.Extent),
				"kind":   IRString(l.Kind),
			}
		}
		blocks[i] = IRObject{
			"name":        IRString(b.Name),
			"loops":       loops,
			"annotations": nonNil(b.Annotations),
		}
	}
	preprocs := make(IRArray, len(f.Preprocs))
	for i, p := range f.Preprocs {
		preprocs[i] = IRObject{
			"buffer": IRString(p.Buffer),
			"from":   IntArray(p.From),
			"to":     IntArray(p.To),
		}
	}
	return IRObject{
		"name":     IRString(f.Name),
		"params":   params,
		"blocks":   blocks,
		"preprocs": preprocs,
		"attrs":    nonNil(f.Attrs),
	}
}

func nonNil(obj IRObject) IRObject {
	if obj == nil {
		return IRObject{}
	}
	return obj
}

// ModuleFromValue rebuilds a module from its portable value form.
// The result is not validated; use LoadJSON for untrusted input.
func ModuleFromValue(v IRValue) (*Module, error) {
	obj, ok := v.(IRObject)
	if !ok {
		return nil, fmt.Errorf("module: expected object, got %s", KindOf(v))
	}
	if err := checkKeys(obj, "funcs"); err != nil {
		return nil, fmt.Errorf("module: %w", err)
	}
	funcs, ok := obj["funcs"].(IRArray)
	if !ok {
		return nil, fmt.Errorf("module: funcs: expected array, got %s", KindOf(obj["funcs"]))
	}
	m := &Module{Funcs: make([]*PrimFunc, len(funcs))}
	for i, fv := range funcs {
		f, err := funcFromValue(fv)
		if err != nil {
			return nil, fmt.Errorf("module: funcs[%d]: %w", i, err)
		}
		m.Funcs[i] = f
	}
	return m, nil
}

func funcFromValue(v IRValue) (*PrimFunc, error) {
	obj, ok := v.(IRObject)
	if !ok {
		return nil, fmt.Errorf("expected object, got %s", KindOf(v))
	}
	if err := checkKeys(obj, "name", "params", "blocks", "preprocs", "attrs"); err != nil {
		return nil, err
	}
	name, err := stringField(obj, "name")
	if err != nil {
		return nil, err
	}
	f := &PrimFunc{Name: name}

	params, err := arrayField(obj, "params")
	if err != nil {
		return nil, err
	}
	for i, pv := range params {
		p, ok := pv.(IRObject)
		if !ok {
			return nil, fmt.Errorf("params[%d]: expected object, got %s", i, KindOf(pv))
		}
		if err := checkKeys(p, "name", "dtype", "shape"); err != nil {
			return nil, fmt.Errorf("params[%d]: %w", i, err)
		}
		var b Buffer
		if b.Name, err = stringField(p, "name"); err != nil {
			return nil, fmt.Errorf("params[%d]: %w", i, err)
		}
		if b.DType, err = stringField(p, "dtype"); err != nil {
			return nil, fmt.Errorf("params[%d]: %w", i, err)
		}
		if b.Shape, err = Ints(p["shape"]); err != nil {
			return nil, fmt.Errorf("params[%d].shape: %w", i, err)
		}
		f.Params = append(f.Params, b)
	}

	blocks, err := arrayField(obj, "blocks")
	if err != nil {
		return nil, err
	}
	for i, bv := range blocks {
		b, err := blockFromValue(bv)
		if err != nil {
			return nil, fmt.Errorf("blocks[%d]: %w", i, err)
		}
		f.Blocks = append(f.Blocks, b)
	}

	if pv, ok := obj["preprocs"]; ok {
		preprocs, ok := pv.(IRArray)
		if !ok {
			return nil, fmt.Errorf("preprocs: expected array, got %s", KindOf(pv))
		}
		for i, ppv := range preprocs {
			pp, ok := ppv.(IRObject)
			if !ok {
				return nil, fmt.Errorf("preprocs[%d]: expected object, got %s", i, KindOf(ppv))
			}
			if err := checkKeys(pp, "buffer", "from", "to"); err != nil {
				return nil, fmt.Errorf("preprocs[%d]: %w", i, err)
			}
			var p Preproc
			if p.Buffer, err = stringField(pp, "buffer"); err != nil {
				return nil, fmt.Errorf("preprocs[%d]: %w", i, err)
			}
			if p.From, err = Ints(pp["from"]); err != nil {
				return nil, fmt.Errorf("preprocs[%d].from: %w", i, err)
			}
			if p.To, err = Ints(pp["to"]); err != nil {
				return nil, fmt.Errorf("preprocs[%d].to: %w", i, err)
			}
			f.Preprocs = append(f.Preprocs, p)
		}
	}

	if f.Attrs, err = objectField(obj, "attrs"); err != nil {
		return nil, err
	}
	return f, nil
}

func blockFromValue(v IRValue) (*Block, error) {
	obj, ok := v.(IRObject)
	if !ok {
		return nil, fmt.Errorf("expected object, got %s", KindOf(v))
	}
	if err := checkKeys(obj, "name", "loops", "annotations"); err != nil {
		return nil, err
	}
	name, err := stringField(obj, "name")
	if err != nil {
		return nil, err
	}
	b := &Block{Name: name}
	loops, err := arrayField(obj, "loops")
	if err != nil {
		return nil, err
	}
	for i, lv := range loops {
		lo, ok := lv.(IRObject)
		if !ok {
			return nil, fmt.Errorf("loops[%d]: expected object, got %s", i, KindOf(lv))
		}
		if err := checkKeys(lo, "var", "extent", "kind"); err != nil {
			return nil, fmt.Errorf("loops[%d]: %w", i, err)
		}
		var l Loop
		if l.Var, err = stringField(lo, "var"); err != nil {
			return nil, fmt.Errorf("loops[%d]: %w", i, err)
		}
		ext, ok := lo["extent"].(IRInt)
		if !ok {
			return nil, fmt.Errorf("loops[%d].extent: expected int, got %s", i, KindOf(lo["extent"]))
		}
		l.Extent = int64(ext)
		if l.Kind, err = stringField(lo, "kind"); err != nil {
			return nil, fmt.Errorf("loops[%d]: %w", i, err)
		}
		b.Loops = append(b.Loops, &l)
	}
	if b.Annotations, err = objectField(obj, "annotations"); err != nil {
		return nil, err
	}
	return b, nil
}

// checkKeys rejects fields outside allowed. A renamed field must not
// silently decode as absent.
func checkKeys(obj IRObject, allowed ...string) error {
	for _, k := range obj.SortedKeys() {
		if !slices.Contains(allowed, k) {
			return fmt.Errorf("unknown field %q", k)
		}
	}
	return nil
}

func stringField(obj IRObject, key string) (string, error) {
	s, ok := obj[key].(IRString)
	if !ok {
		return "", fmt.Errorf("%s: expected string, got %s", key, KindOf(obj[key]))
	}
	return string(s), nil
}

func arrayField(obj IRObject, key string) (IRArray, error) {
	v, present := obj[key]
	if !present {
		return nil, nil
	}
	arr, ok := v.(IRArray)
	if !ok {
		return nil, fmt.Errorf("%s: expected array, got %s", key, KindOf(v))
	}
	return arr, nil
}

// objectField returns nil for a missing or empty object so that a decoded
// module compares equal to one built in code without attrs.
func objectField(obj IRObject, key string) (IRObject, error) {
	v, present := obj[key]
	if !present {
		return nil, nil
	}
	o, ok := v.(IRObject)
	if !ok {
		return nil, fmt.Errorf("%s: expected object, got %s", key, KindOf(v))
	}
	if len(o) == 0 {
		return nil, nil
	}
	return o, nil
}

// SaveJSON serializes a module to canonical JSON bytes.
// The output is deterministic, so equal modules always serialize identically.
func SaveJSON(mod *Module) ([]byte, error) {
	if mod == nil {
		return nil, fmt.Errorf("SaveJSON: nil module")
	}
	data, err := MarshalCanonical(mod.ToValue())
	if err != nil {
		return nil, fmt.Errorf("SaveJSON: %w", err)
	}
	return data, nil
}

// LoadJSON parses and validates a module serialized by SaveJSON.
func LoadJSON(data []byte) (*Module, error) {
	v, err := ParseValue(data)
	if err != nil {
		return nil, fmt.Errorf("LoadJSON: %w", err)
	}
	mod, err := ModuleFromValue(v)
	if err != nil {
		return nil, fmt.Errorf("LoadJSON: %w", err)
	}
	if err := mod.Validate(); err != nil {
		return nil, fmt.Errorf("LoadJSON: invalid module: %w", err)
	}
	return mod, nil
}
