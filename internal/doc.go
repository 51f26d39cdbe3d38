// Package internal contains helper utilities that are intentionally private to goCred:
// reset token generation and validation, and uniform random index selection.
//
// # What this package must NOT do
//
//   - Export types that appear in the public goCred API.
//   - Be imported by any package outside the goCred module.
package internal
