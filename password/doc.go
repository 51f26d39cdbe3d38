// Package password implements password hashing, verification, and the
// password complexity policy.
//
// # Output format
//
// Argon2id hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Bcrypt] is provided for stores that already hold bcrypt digests; [Multi]
// verifies against either encoding while hashing with the primary.
//
// # Policy
//
// [PolicyValidator] returns every violated [Reason] rather than stopping at
// the first, so a form can render all problems at once. The uppercase and
// special-character checks are one combined rule and produce at most one
// reason. Matching the new/confirm pair is the caller's job.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords. Callers supply plaintext and receive hashes.
//   - Import any other goCred package.
//   - Log plaintext passwords or hash parameters at runtime.
package password
