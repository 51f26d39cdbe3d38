// Package rate provides Redis fixed-window counters for goCred stores.
//
// # Window semantics
//
// INCR + conditional EXPIRE on first hit. A window therefore starts with its
// first hit rather than on a clock boundary, and a key whose EXPIRE failed
// is reported as unavailable rather than counted.
//
// # What this package must NOT do
//
//   - Implement domain-specific policies (the Engine decides keys and budgets).
//   - Be imported outside the goCred module.
package rate
