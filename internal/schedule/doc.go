// Package schedule applies recorded transformation steps to a module.
//
// A Schedule owns a private clone of an ir.Module and a Trace of every
// primitive applied to it. Traces are plain data: they serialize to a
// portable value and replay onto a fresh schedule over the same module to
// reproduce the transformed program exactly.
//
// # Instructions
//
// Each instruction has the portable form
//
//	[kind, [inputs...], {attrs}]
//
// where inputs name blocks, loops or buffers and attrs carry parameters
// such as split factors. The "func" attr selects a function other than
// the module entry.
//
// # Postprocessing
//
// enter_postproc marks the point where the search stopped choosing
// transformations and fixed-function cleanup began. Replaying with
// removePostproc stops at the marker.
package schedule
