// Package jwt mints and verifies short-lived password change tickets. A
// ticket names the user whose credentials expired so the change flow can
// proceed without a session.
package jwt
