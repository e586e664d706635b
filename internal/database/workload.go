package database

import (
	"encoding/base64"
	"fmt"

	"github.com/roach88/tunedb/internal/ir"
)

// Workload is a module together with its structural hash.
// Neither field may be modified after construction.
type Workload struct {
	Mod  *ir.Module
	Hash ir.Hash
}

// NewWorkload computes the hash of mod.
func NewWorkload(mod *ir.Module) (*Workload, error) {
	h, err := ir.StructuralHash(mod)
	if err != nil {
		return nil, fmt.Errorf("workload: %w", err)
	}
	return &Workload{Mod: mod, Hash: h}, nil
}

// NewWorkloadWithHash trusts hash without recomputing it.
func NewWorkloadWithHash(mod *ir.Module, hash ir.Hash) *Workload {
	return &Workload{Mod: mod, Hash: hash}
}

// Equal compares workloads by hash.
func (w *Workload) Equal(other *Workload) bool {
	if w == nil || other == nil {
		return w == other
	}
	return w.Hash == other.Hash
}

// AsJSON returns [hash_hex, base64(module JSON)].
func (w *Workload) AsJSON() (ir.IRValue, error) {
	data, err := ir.SaveJSON(w.Mod)
	if err != nil {
		return nil, fmt.Errorf("workload %s: %w", w.Hash, err)
	}
	return ir.IRArray{
		ir.IRString(w.Hash.String()),
		ir.IRString(base64.StdEncoding.EncodeToString(data)),
	}, nil
}

// WorkloadFromJSON decodes the form produced by AsJSON and verifies the
// stored hash against the decoded module.
func WorkloadFromJSON(v ir.IRValue) (*Workload, error) {
	arr, ok := v.(ir.IRArray)
	if !ok || len(arr) != 2 {
		return nil, malformed(v, nil, "workload: expected [hash, module], got %s", describe(v))
	}
	stored, ok := arr[0].(ir.IRString)
	if !ok {
		return nil, malformed(v, nil, "workload: hash: expected string, got %s", ir.KindOf(arr[0]))
	}
	encoded, ok := arr[1].(ir.IRString)
	if !ok {
		return nil, malformed(v, nil, "workload: module: expected string, got %s", ir.KindOf(arr[1]))
	}

	data, err := base64.StdEncoding.Strict().DecodeString(string(encoded))
	if err != nil {
		return nil, corruption(v, err, "workload %s: module is not valid base64", stored)
	}
	mod, err := ir.LoadJSON(data)
	if err != nil {
		return nil, corruption(v, err, "workload %s: module does not parse", stored)
	}
	h, err := ir.StructuralHash(mod)
	if err != nil {
		return nil, corruption(v, err, "workload %s: module cannot be hashed", stored)
	}
	if h.String() != string(stored) {
		return nil, corruption(v, nil, "workload hash mismatch: stored %s, recomputed %s", stored, h)
	}
	return NewWorkloadWithHash(mod, h), nil
}

func describe(v ir.IRValue) string {
	if arr, ok := v.(ir.IRArray); ok {
		return fmt.Sprintf("array of %d", len(arr))
	}
	return ir.KindOf(v)
}
