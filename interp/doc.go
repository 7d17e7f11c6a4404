// Package interp implements the value representation used by the Mira
// constant evaluator.
//
// This package contains:
//   - Width-tagged scalar values backed by a 128-bit pattern store
//   - Relocatable pointers (allocation identity + byte offset)
//   - The ConstValue envelope produced by constant evaluation
//   - Target data-layout capability and address arithmetic
//   - Materialized constant memory (allocations with relocations)
//   - Deterministic content hashing for cache keys
package interp
