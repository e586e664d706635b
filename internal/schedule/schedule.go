package schedule

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/roach88/tunedb/internal/ir"
)

// DebugVerify re-validates the function after every primitive.
const DebugVerify = 1 << 0

// Schedule is a mutable working copy of a module plus the trace of
// primitives applied to it. A Schedule is not safe for concurrent use.
type Schedule struct {
	mod       *ir.Module
	trace     *Trace
	seed      int64
	debugMask int
	level     ErrorRenderLevel
	funcName  string
}

// Traced creates a schedule over a clone of mod that records every primitive.
// A seed of -1 draws a random seed.
func Traced(mod *ir.Module, seed int64, debugMask int, level ErrorRenderLevel) *Schedule {
	if seed == -1 {
		seed = rand.Int63n(math.MaxInt64)
	}
	return &Schedule{
		mod:       mod.Clone(),
		trace:     NewTrace(),
		seed:      seed,
		debugMask: debugMask,
		level:     level,
	}
}

// Mod returns the transformed module. The caller must not mutate it.
func (s *Schedule) Mod() *ir.Module { return s.mod }

// Trace returns the primitives applied so far.
func (s *Schedule) Trace() *Trace { return s.trace }

// Seed returns the schedule's random seed.
func (s *Schedule) Seed() int64 { return s.seed }

// Level returns the error render level.
func (s *Schedule) Level() ErrorRenderLevel { return s.level }

// WorkOn directs subsequent primitives at the named function instead of the entry.
func (s *Schedule) WorkOn(funcName string) error {
	if s.mod.Func(funcName) == nil {
		return fmt.Errorf("schedule: no function named %q", funcName)
	}
	s.funcName = funcName
	return nil
}

func (s *Schedule) newInst(kind string, inputs []string, attrs ir.IRObject) Instruction {
	if s.funcName != "" {
		if attrs == nil {
			attrs = ir.IRObject{}
		}
		attrs[attrFunc] = ir.IRString(s.funcName)
	}
	return Instruction{Kind: kind, Inputs: inputs, Attrs: attrs}
}

// Split divides a loop into nested loops with the given extents, outermost
// first. At most one factor may be -1; it is inferred from the extent.
// Returns the new loop variables.
func (s *Schedule) Split(block, loop string, factors []int64) ([]string, error) {
	return s.step(s.newInst(KindSplit, []string{block, loop}, ir.IRObject{"factors": ir.IntArray(factors)}))
}

// Reorder permutes the named loops of a block into the given order.
// Loops not named keep their positions.
func (s *Schedule) Reorder(block string, vars ...string) error {
	_, err := s.step(s.newInst(KindReorder, append([]string{block}, vars...), nil))
	return err
}

// Fuse merges adjacent serial loops into one and returns its variable.
func (s *Schedule) Fuse(block string, vars ...string) (string, error) {
	out, err := s.step(s.newInst(KindFuse, append([]string{block}, vars...), nil))
	if err != nil {
		return "", err
	}
	return out[0], nil
}

// Parallel binds a serial loop to parallel execution.
func (s *Schedule) Parallel(block, loop string) error {
	_, err := s.step(s.newInst(KindParallel, []string{block, loop}, nil))
	return err
}

// Vectorize binds the innermost serial loop of a block to vector lanes.
func (s *Schedule) Vectorize(block, loop string) error {
	_, err := s.step(s.newInst(KindVectorize, []string{block, loop}, nil))
	return err
}

// Unroll marks a serial loop for full unrolling.
func (s *Schedule) Unroll(block, loop string) error {
	_, err := s.step(s.newInst(KindUnroll, []string{block, loop}, nil))
	return err
}

// Annotate attaches a key/value hint to a block.
func (s *Schedule) Annotate(block, key string, value ir.IRValue) error {
	_, err := s.step(s.newInst(KindAnnotate, []string{block}, ir.IRObject{"key": ir.IRString(key), "value": value}))
	return err
}

// LayoutRewrite changes the physical shape of a parameter buffer. The
// caller-visible shape is kept as a preprocessing record.
func (s *Schedule) LayoutRewrite(buffer string, shape []int64) error {
	_, err := s.step(s.newInst(KindLayoutRewrite, []string{buffer}, ir.IRObject{"shape": ir.IntArray(shape)}))
	return err
}

// EnterPostproc marks the start of postprocessing in the trace.
func (s *Schedule) EnterPostproc() {
	s.trace.Insts = append(s.trace.Insts, s.newInst(KindEnterPostproc, nil, nil))
}

// step applies inst to a clone of the target function and swaps the clone
// in only on success, so a failed primitive leaves the module untouched.
func (s *Schedule) step(inst Instruction) ([]string, error) {
	if inst.Kind == KindEnterPostproc {
		s.trace.Insts = append(s.trace.Insts, inst.clone())
		return nil, nil
	}
	idx, err := s.targetFunc(inst)
	if err != nil {
		return nil, s.fail(inst, err)
	}
	f := s.mod.Funcs[idx].Clone()
	out, err := apply(f, inst)
	if err != nil {
		return nil, s.fail(inst, err)
	}
	if s.debugMask&DebugVerify != 0 {
		if err := f.Validate(); err != nil {
			return nil, s.fail(inst, fmt.Errorf("verify: %w", err))
		}
	}
	s.mod.Funcs[idx] = f
	s.trace.Insts = append(s.trace.Insts, inst.clone())
	return out, nil
}

func (s *Schedule) targetFunc(inst Instruction) (int, error) {
	name := ""
	if v, ok := inst.Attrs[attrFunc]; ok {
		str, ok := v.(ir.IRString)
		if !ok {
			return 0, fmt.Errorf("func attr must be a string, got %s", ir.KindOf(v))
		}
		name = string(str)
	}
	if name == "" {
		entry, err := s.mod.Entry()
		if err != nil {
			return 0, err
		}
		name = entry.Name
	}
	for i, f := range s.mod.Funcs {
		if f.Name == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("no function named %q", name)
}

func (s *Schedule) fail(inst Instruction, reason error) *ScheduleError {
	se := &ScheduleError{
		Kind:   inst.Kind,
		Index:  len(s.trace.Insts),
		Reason: reason.Error(),
		Level:  s.level,
		Inst:   inst,
	}
	if s.level == RenderDetail {
		se.Module = s.mod.String()
	}
	return se
}
