package database

import "context"

// Problem describes one stored entry that failed to decode.
type Problem struct {
	// Kind is "workload" or "record".
	Kind string
	// Key locates the entry in the backend: a hash, line number or record id.
	Key string
	Err error
}

// Verifier is implemented by persistent backends that can decode every
// stored entry and report all failures instead of stopping at the first.
type Verifier interface {
	Verify(ctx context.Context) ([]Problem, error)
}

// WorkloadLister is implemented by backends that can enumerate committed
// workloads, including those without records.
type WorkloadLister interface {
	Workloads(ctx context.Context) ([]*Workload, error)
}
