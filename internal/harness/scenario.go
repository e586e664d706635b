package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"
)

// Scenario is a conformance test: a flow of commits followed by assertions
// on what the database returns.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Modules maps a short name to a .cue or .json module file.
	// Paths are relative to the scenario file location.
	Modules map[string]string `yaml:"modules"`

	// Flow is executed in order against a single database.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final database contents.
	Assertions []Assertion `yaml:"assertions"`
}

// FlowStep commits a workload or a record. Exactly one of the two is set.
type FlowStep struct {
	CommitWorkload string      `yaml:"commit_workload,omitempty"`
	CommitRecord   *RecordStep `yaml:"commit_record,omitempty"`
	ExpectError    string      `yaml:"expect_error,omitempty"`
}

// RecordStep describes a tuning record by the schedule that produced it.
type RecordStep struct {
	// Name identifies the record in assertions and snapshots.
	Name     string         `yaml:"name"`
	Workload string         `yaml:"workload"`
	Schedule []ScheduleStep `yaml:"schedule"`

	// RunSecs is omitted for an unmeasured record.
	RunSecs []float64 `yaml:"run_secs,omitempty"`
	Target  string    `yaml:"target,omitempty"`

	// ArgsInfo attaches argument info derived from the entry function.
	ArgsInfo bool `yaml:"args_info,omitempty"`
}

// ScheduleStep is one schedule primitive. Fields are read by kind:
//
//	split      block, loop, factors
//	reorder    block, loops
//	fuse       block, loops
//	parallel   block, loop (also vectorize, unroll)
//	annotate   block, key, value
//	layout     buffer, shape
//	work_on    func
//	postproc   (no fields)
type ScheduleStep struct {
	Kind    string   `yaml:"kind"`
	Func    string   `yaml:"func,omitempty"`
	Block   string   `yaml:"block,omitempty"`
	Loop    string   `yaml:"loop,omitempty"`
	Loops   []string `yaml:"loops,omitempty"`
	Factors []int64  `yaml:"factors,omitempty"`
	Key     string   `yaml:"key,omitempty"`
	Value   any      `yaml:"value,omitempty"`
	Buffer  string   `yaml:"buffer,omitempty"`
	Shape   []int64  `yaml:"shape,omitempty"`
}

// Assertion validates the final database contents.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Workload is a module name (has_workload, top_k, best).
	Workload string `yaml:"workload,omitempty"`

	// K is the top-k limit (top_k).
	K int `yaml:"k,omitempty"`

	// Records is the expected ranking by record name (top_k).
	Records []string `yaml:"records,omitempty"`

	// Record is the expected best record name; empty expects none (best).
	Record string `yaml:"record,omitempty"`

	// Count is the expected number of records (size).
	Count int `yaml:"count,omitempty"`

	// Expect is the expected presence (has_workload).
	Expect *bool `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertSize        = "size"
	AssertHasWorkload = "has_workload"
	AssertTopK        = "top_k"
	AssertBest        = "best"
)

// Expected error kinds for FlowStep.ExpectError.
const (
	ExpectWorkloadNotFound = "workload_not_found"
	ExpectScheduleError    = "schedule_error"
)

var scheduleKinds = []string{"split", "reorder", "fuse", "parallel", "vectorize", "unroll", "annotate", "layout", "work_on", "postproc"}

// LoadScenario reads and parses a scenario YAML file, resolving module
// paths against the file's directory.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	base := filepath.Dir(path)
	for name, p := range scenario.Modules {
		if !filepath.IsAbs(p) {
			scenario.Modules[name] = filepath.Join(base, p)
		}
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and references
// resolve.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Modules) == 0 {
		return fmt.Errorf("modules map is required and must be non-empty")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for name, p := range s.Modules {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			return fmt.Errorf("module %s: file not found: %s", name, p)
		}
	}

	records := make(map[string]bool)
	for i, step := range s.Flow {
		if err := validateStep(s, i, step, records); err != nil {
			return err
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(s, i, a, records); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(s *Scenario, i int, step FlowStep, records map[string]bool) error {
	switch {
	case step.CommitWorkload != "" && step.CommitRecord != nil:
		return fmt.Errorf("flow[%d]: commit_workload and commit_record are exclusive", i)
	case step.CommitWorkload != "":
		if _, ok := s.Modules[step.CommitWorkload]; !ok {
			return fmt.Errorf("flow[%d]: unknown module %q", i, step.CommitWorkload)
		}
	case step.CommitRecord != nil:
		r := step.CommitRecord
		if r.Name == "" {
			return fmt.Errorf("flow[%d]: record name is required", i)
		}
		if records[r.Name] {
			return fmt.Errorf("flow[%d]: duplicate record name %q", i, r.Name)
		}
		records[r.Name] = true
		if _, ok := s.Modules[r.Workload]; !ok {
			return fmt.Errorf("flow[%d]: unknown module %q", i, r.Workload)
		}
		for j, st := range r.Schedule {
			if !slices.Contains(scheduleKinds, st.Kind) {
				return fmt.Errorf("flow[%d].schedule[%d]: unknown kind %q", i, j, st.Kind)
			}
		}
	default:
		return fmt.Errorf("flow[%d]: commit_workload or commit_record is required", i)
	}

	switch step.ExpectError {
	case "", ExpectWorkloadNotFound, ExpectScheduleError:
	default:
		return fmt.Errorf("flow[%d]: unknown expect_error %q", i, step.ExpectError)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(s *Scenario, i int, a Assertion, records map[string]bool) error {
	needWorkload := func() error {
		if _, ok := s.Modules[a.Workload]; !ok {
			return fmt.Errorf("assertions[%d]: unknown module %q for %s", i, a.Workload, a.Type)
		}
		return nil
	}
	switch a.Type {
	case AssertSize:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for size", i)
		}
	case AssertHasWorkload:
		if a.Expect == nil {
			return fmt.Errorf("assertions[%d]: expect is required for has_workload", i)
		}
		return needWorkload()
	case AssertTopK:
		if a.K < 0 {
			return fmt.Errorf("assertions[%d]: k must be non-negative for top_k", i)
		}
		for _, name := range a.Records {
			if !records[name] {
				return fmt.Errorf("assertions[%d]: unknown record %q", i, name)
			}
		}
		return needWorkload()
	case AssertBest:
		if a.Record != "" && !records[a.Record] {
			return fmt.Errorf("assertions[%d]: unknown record %q", i, a.Record)
		}
		return needWorkload()
	case "":
		return fmt.Errorf("assertions[%d]: type is required", i)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", i, a.Type)
	}
	return nil
}
