package schedule

import (
	"fmt"

	"github.com/roach88/tunedb/internal/ir"
)

// Trace is the ordered list of primitives applied to a schedule.
type Trace struct {
	Insts []Instruction
}

// NewTrace returns an empty trace.
func NewTrace() *Trace {
	return &Trace{Insts: []Instruction{}}
}

// Len returns the number of instructions.
func (t *Trace) Len() int { return len(t.Insts) }

// postprocIndex returns the position of the first enter_postproc, or Len.
func (t *Trace) postprocIndex() int {
	for i, inst := range t.Insts {
		if inst.Kind == KindEnterPostproc {
			return i
		}
	}
	return len(t.Insts)
}

func (t *Trace) prefix(removePostproc bool) []Instruction {
	if removePostproc {
		return t.Insts[:t.postprocIndex()]
	}
	return t.Insts
}

// AsJSON returns the portable form: an array of instructions. With
// removePostproc the trace is cut at the first enter_postproc marker.
func (t *Trace) AsJSON(removePostproc bool) ir.IRValue {
	insts := t.prefix(removePostproc)
	out := make(ir.IRArray, len(insts))
	for i, inst := range insts {
		out[i] = inst.AsJSON()
	}
	return out
}

// ApplyToSchedule replays the trace onto sch, which records the replayed
// instructions in its own trace.
func (t *Trace) ApplyToSchedule(sch *Schedule, removePostproc bool) error {
	for i, inst := range t.prefix(removePostproc) {
		if _, err := sch.step(inst); err != nil {
			return fmt.Errorf("replay instruction %d: %w", i, err)
		}
	}
	return nil
}

// Equal reports whether both traces hold the same instructions in order.
func (t *Trace) Equal(other *Trace) bool {
	if t == nil || other == nil {
		return t == other
	}
	if len(t.Insts) != len(other.Insts) {
		return false
	}
	for i := range t.Insts {
		if !t.Insts[i].Equal(other.Insts[i]) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the trace.
func (t *Trace) Clone() *Trace {
	out := &Trace{Insts: make([]Instruction, len(t.Insts))}
	for i, inst := range t.Insts {
		out.Insts[i] = inst.clone()
	}
	return out
}

// TraceFromJSON parses the portable form produced by AsJSON.
func TraceFromJSON(v ir.IRValue) (*Trace, error) {
	arr, ok := v.(ir.IRArray)
	if !ok {
		return nil, fmt.Errorf("trace: expected array, got %s", ir.KindOf(v))
	}
	t := &Trace{Insts: make([]Instruction, len(arr))}
	for i, elem := range arr {
		inst, err := InstructionFromJSON(elem)
		if err != nil {
			return nil, fmt.Errorf("trace[%d]: %w", i, err)
		}
		t.Insts[i] = inst
	}
	return t, nil
}

// ApplyJSONToSchedule parses a portable trace and replays all of it onto sch.
// The materialized trace is then available as sch.Trace().
func ApplyJSONToSchedule(v ir.IRValue, sch *Schedule) error {
	t, err := TraceFromJSON(v)
	if err != nil {
		return err
	}
	return t.ApplyToSchedule(sch, false)
}
