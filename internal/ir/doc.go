// Package ir provides the program representation and portable value types for tunedb.
//
// This package is the foundational layer: every other internal package imports ir;
// ir imports nothing internal.
//
// It contains three things:
//   - IRValue, a sealed tree of portable values (null, string, int, float, bool,
//     array, object) used for every persisted record shape
//   - RFC 8785 canonical JSON, the only serialization used for content hashes
//   - Module, the tensor program a workload wraps, with its structural hash
//
// Key design constraints:
//   - Content hashes never depend on floats: canonical JSON rejects IRFloat and IRNull
//   - Module JSON is canonical, so SaveJSON(LoadJSON(b)) == b for any valid b
//   - All JSON keys use snake_case
package ir
