// Package goCred manages the credential lifecycle of application accounts
// and keeps an audit trail of every authentication.
//
// The package is designed for concurrent server workloads: Engine methods are safe to call
// from multiple goroutines after initialization through [Builder.Build].
//
// # Architecture boundaries
//
// goCred is the public surface. It exposes [Engine], [Builder], [Config], the domain types
// and the components the engine wires together:
//
//   - [LoginAttemptLedger] appends one row per authentication attempt.
//   - [AuthenticationResolver] tries table-based and directory credentials in order and
//     [AuditingDecorator] records the outcome, the failure counter and the LOGIN event.
//   - [AssertionValidator] applies group and account checks to federated logins.
//   - [PasswordResetTokenManager] issues and burns single-use reset tokens.
//   - [AccountCredentialService] changes, resets and generates passwords.
//   - [SessionEventLogger] records LOGIN, LOGOUT and IMPERSONATION events.
//
// Reset requests are throttled per email and client IP when the store implements
// [ResetRequestLimiter].
//
// Password hashing and policy live in package password, passphrase generation in package
// passphrase. Persistent stores live under store/.
//
// # What this package must NOT do
//
//   - Log plaintext passwords. Reset tokens appear in logs only through dry-run emails.
//   - Import any sub-package that re-imports goCred (no import cycles).
//   - Grant roles from directory or assertion attributes.
package goCred
