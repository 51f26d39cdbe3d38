package goCred

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// LoginAttemptLedger is the append-only record of authentication outcomes.
// It never rejects or rate-limits; a storage failure is returned to the
// caller rather than dropped.
type LoginAttemptLedger struct {
	store LoginAttemptStore
	inst  *instruments
}

func newLoginAttemptLedger(store LoginAttemptStore, inst *instruments) *LoginAttemptLedger {
	return &LoginAttemptLedger{store: store, inst: inst}
}

// RecordAttempt appends one attempt. info is ignored for successes.
func (l *LoginAttemptLedger) RecordAttempt(ctx context.Context, username string, success bool, ipAddress string, info *ErrorInfo) (*LoginAttempt, error) {
	attempt := &LoginAttempt{
		ID:          uuid.NewString(),
		Username:    username,
		AttemptedAt: l.inst.clock(),
		Success:     success,
		IPAddress:   ipAddress,
	}
	if !success && info != nil {
		attempt.ErrorType = info.Type
		attempt.ErrorMessage = info.Message
	}
	if err := l.store.AppendLoginAttempt(ctx, attempt); err != nil {
		return nil, fmt.Errorf("record login attempt for %q: %w", username, err)
	}
	return attempt, nil
}

// RecordOutcome appends the attempt described by authErr, taking the client
// IP from ctx. A nil authErr records a success.
func (l *LoginAttemptLedger) RecordOutcome(ctx context.Context, username string, authErr error) (*LoginAttempt, error) {
	if authErr == nil {
		return l.RecordAttempt(ctx, username, true, clientIPFromContext(ctx), nil)
	}
	info := &ErrorInfo{Type: ErrorType(authErr), Message: ErrorMessage(authErr)}
	return l.RecordAttempt(ctx, username, false, clientIPFromContext(ctx), info)
}

// MostRecentSuccess returns the newest successful attempt for username, or
// nil when there is none.
func (l *LoginAttemptLedger) MostRecentSuccess(ctx context.Context, username string) (*LoginAttempt, error) {
	return optional(l.store.MostRecentSuccess(ctx, username))
}

// MostRecentFailureOfType returns the newest failure with the given
// classification, or nil when there is none.
func (l *LoginAttemptLedger) MostRecentFailureOfType(ctx context.Context, errorType string) (*LoginAttempt, error) {
	return optional(l.store.MostRecentFailureOfType(ctx, errorType))
}

// History returns every attempt for username, newest first.
func (l *LoginAttemptLedger) History(ctx context.Context, username string) ([]*LoginAttempt, error) {
	return l.store.ListLoginAttempts(ctx, username)
}

func optional[T any](v *T, err error) (*T, error) {
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}
