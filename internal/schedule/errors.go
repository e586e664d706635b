package schedule

import (
	"errors"
	"fmt"
)

// ErrorRenderLevel controls how much detail a ScheduleError carries in its message.
type ErrorRenderLevel int

const (
	// RenderDetail includes the instruction and the module state at failure.
	RenderDetail ErrorRenderLevel = iota
	// RenderFast includes the primitive and reason only.
	RenderFast
	// RenderNone reports only that a primitive failed.
	RenderNone
)

// String returns the level name used in configuration and logs.
func (l ErrorRenderLevel) String() string {
	switch l {
	case RenderDetail:
		return "detail"
	case RenderFast:
		return "fast"
	case RenderNone:
		return "none"
	default:
		return fmt.Sprintf("ErrorRenderLevel(%d)", int(l))
	}
}

// ScheduleError reports a primitive that could not be applied.
// The module is left unchanged when a primitive fails.
type ScheduleError struct {
	// Kind is the instruction kind, e.g. "split".
	Kind string

	// Index is the position in the trace the instruction would have taken.
	Index int

	// Reason describes the violated precondition.
	Reason string

	// Level is the render level of the schedule that produced the error.
	Level ErrorRenderLevel

	// Inst is the rejected instruction.
	Inst Instruction

	// Module is the rendered module at failure, set only for RenderDetail.
	Module string
}

// Error implements the error interface.
func (e *ScheduleError) Error() string {
	switch e.Level {
	case RenderNone:
		return "schedule primitive failed"
	case RenderFast:
		return fmt.Sprintf("schedule: %s: %s", e.Kind, e.Reason)
	default:
		return fmt.Sprintf("schedule: %s at instruction %d: %s\ninstruction: %s\nmodule:\n%s",
			e.Kind, e.Index, e.Reason, e.Inst, e.Module)
	}
}

// IsScheduleError reports whether err wraps a ScheduleError.
func IsScheduleError(err error) bool {
	var se *ScheduleError
	return errors.As(err, &se)
}
