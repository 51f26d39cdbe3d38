// Package redisstore implements goCred.CredentialStore on Redis.
//
// Accounts and reset tokens are JSON strings with username, email and
// expiry indexes alongside them. IncrementFailures runs inside a WATCH
// transaction and AppendSessionEventOnce uses SETNX, so a Store satisfies
// both goCred.FailureCounter and goCred.SessionEventDeduper and several
// processes can share one Redis.
package redisstore
