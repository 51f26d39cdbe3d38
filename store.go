package goCred

import (
	"context"
	"time"
)

// AccountStore persists accounts. Finds return an error wrapping ErrNotFound
// when nothing matches.
type AccountStore interface {
	FindAccountByID(ctx context.Context, id string) (*Account, error)
	FindAccountByUsername(ctx context.Context, username string) (*Account, error)
	FindAccountByEmail(ctx context.Context, email string) (*Account, error)
	// SaveAccount writes the full row, assigning an ID on create.
	SaveAccount(ctx context.Context, account *Account) error
	DeleteAccount(ctx context.Context, id string) error
	ListAccounts(ctx context.Context) ([]*Account, error)
}

// LoginAttemptStore is the append-only login history.
type LoginAttemptStore interface {
	AppendLoginAttempt(ctx context.Context, attempt *LoginAttempt) error
	MostRecentSuccess(ctx context.Context, username string) (*LoginAttempt, error)
	MostRecentFailureOfType(ctx context.Context, errorType string) (*LoginAttempt, error)
	// ListLoginAttempts returns a username's attempts, newest first.
	ListLoginAttempts(ctx context.Context, username string) ([]*LoginAttempt, error)
}

// ResetTokenStore persists password reset tokens.
type ResetTokenStore interface {
	SaveResetToken(ctx context.Context, token *PasswordResetToken) error
	FindResetToken(ctx context.Context, token string) (*PasswordResetToken, error)
	// FindLatestResetToken returns the account's latest-expiring token.
	FindLatestResetToken(ctx context.Context, accountID string) (*PasswordResetToken, error)
	// ListActiveResetTokens returns tokens expiring after now, latest first.
	ListActiveResetTokens(ctx context.Context, now time.Time) ([]*PasswordResetToken, error)
}

// SessionEventStore is the append-only session event log.
type SessionEventStore interface {
	AppendSessionEvent(ctx context.Context, event *SessionEvent) error
	FindSessionEvent(ctx context.Context, sessionID string, kind SessionEventKind) (*SessionEvent, error)
}

// CredentialStore is the full persistence contract used by the Engine.
type CredentialStore interface {
	AccountStore
	LoginAttemptStore
	ResetTokenStore
	SessionEventStore
}

// FailureCounter is implemented by stores that can increment the
// consecutive-failure counter atomically. When the counter reaches max the
// account is locked in the same write.
type FailureCounter interface {
	IncrementFailures(ctx context.Context, accountID string, max int) (*Account, error)
}

// SessionEventDeduper is implemented by stores that can enforce one event
// per session and kind. AppendSessionEventOnce reports whether the event was
// written.
type SessionEventDeduper interface {
	AppendSessionEventOnce(ctx context.Context, event *SessionEvent) (bool, error)
}

// ResetRequestLimiter is implemented by stores that can count reset
// requests in a fixed window. AllowResetRequest returns an error wrapping
// ErrRateLimited once key has been hit more than max times in window.
type ResetRequestLimiter interface {
	AllowResetRequest(ctx context.Context, key string, max int, window time.Duration) error
}
