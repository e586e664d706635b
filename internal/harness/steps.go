package harness

import (
	"fmt"

	"github.com/roach88/tunedb/internal/ir"
	"github.com/roach88/tunedb/internal/schedule"
)

// buildTrace applies steps to a traced schedule of mod and returns the
// recorded trace.
func buildTrace(mod *ir.Module, steps []ScheduleStep) (*schedule.Trace, error) {
	sch := schedule.Traced(mod, 0, schedule.DebugVerify, schedule.RenderFast)
	for i, st := range steps {
		if err := applyStep(sch, st); err != nil {
			return nil, fmt.Errorf("schedule[%d] %s: %w", i, st.Kind, err)
		}
	}
	return sch.Trace(), nil
}

func applyStep(sch *schedule.Schedule, st ScheduleStep) error {
	switch st.Kind {
	case "split":
		_, err := sch.Split(st.Block, st.Loop, st.Factors)
		return err
	case "reorder":
		return sch.Reorder(st.Block, st.Loops...)
	case "fuse":
		_, err := sch.Fuse(st.Block, st.Loops...)
		return err
	case "parallel":
		return sch.Parallel(st.Block, st.Loop)
	case "vectorize":
		return sch.Vectorize(st.Block, st.Loop)
	case "unroll":
		return sch.Unroll(st.Block, st.Loop)
	case "annotate":
		v, err := annotationValue(st.Value)
		if err != nil {
			return err
		}
		return sch.Annotate(st.Block, st.Key, v)
	case "layout":
		return sch.LayoutRewrite(st.Buffer, st.Shape)
	case "work_on":
		return sch.WorkOn(st.Func)
	case "postproc":
		sch.EnterPostproc()
		return nil
	default:
		return fmt.Errorf("unknown schedule kind %q", st.Kind)
	}
}

// annotationValue converts a YAML scalar to an annotation value.
func annotationValue(v any) (ir.IRValue, error) {
	switch val := v.(type) {
	case string:
		return ir.IRString(val), nil
	case int:
		return ir.IRInt(int64(val)), nil
	case int64:
		return ir.IRInt(val), nil
	case bool:
		return ir.IRBool(val), nil
	default:
		return nil, fmt.Errorf("annotation value must be string, int or bool, got %T", v)
	}
}
