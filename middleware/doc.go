// Package middleware adapts HTTP requests to goCred engine calls.
//
// [RequestContext] copies the caller's IP and session id into the request
// context so Login records them on the ledger and session log.
// [BearerToken] extracts a password change ticket from the Authorization
// header.
//
// # What this package must NOT do
//
//   - Authenticate. All decisions are delegated to the Engine.
//   - Issue or rotate session ids. The session layer owns them.
package middleware
