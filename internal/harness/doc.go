// Package harness runs conformance scenarios against any Database backend.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: ties_keep_commit_order
//	description: "Equal means rank in commit order"
//	modules:
//	  mm: ../../compiler/testdata/matmul64.cue
//	flow:
//	  - commit_workload: mm
//	  - commit_record:
//	      name: a
//	      workload: mm
//	      schedule:
//	        - {kind: split, block: C, loop: i, factors: [-1, 8]}
//	        - {kind: parallel, block: C, loop: i_0}
//	        - {kind: postproc}
//	        - {kind: unroll, block: C, loop: i_1}
//	      run_secs: [1.5, 0.5]
//	      target: "llvm -mcpu=skylake"
//	assertions:
//	  - type: top_k
//	    workload: mm
//	    k: 2
//	    records: [a]
//
// Module paths are relative to the scenario file. A record names the
// workload it measures; the workload must have been committed by an earlier
// step unless the step sets expect_error.
//
// # Assertion Types
//
//   - size: the database holds exactly count records
//   - has_workload: HasWorkload for workload equals expect
//   - top_k: GetTopK(workload, k) returns records in the listed order
//   - best: QueryTuningRecord returns record, or nothing when record is empty
//
// # Determinism
//
// Records are identified by their name in the scenario, never by storage
// keys, so the same scenario produces the same snapshot on every backend.
// RunWithGolden compares that snapshot against testdata/golden.
package harness
