package goCred

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SessionEventLogger records LOGIN, LOGOUT and IMPERSONATION events with at
// most one LOGIN and one LOGOUT per session.
//
// Stores implementing SessionEventDeduper make the check atomic. Otherwise
// a find-before-write check is used and concurrent duplicate delivery may
// still produce a duplicate row.
type SessionEventLogger struct {
	store SessionEventStore
	inst  *instruments
}

func newSessionEventLogger(store SessionEventStore, inst *instruments) *SessionEventLogger {
	return &SessionEventLogger{store: store, inst: inst}
}

// LogLogin records the LOGIN event for sessionID unless one exists. It
// reports whether a row was written.
func (l *SessionEventLogger) LogLogin(ctx context.Context, sessionID string, account *Account) (bool, error) {
	event := l.newEvent(sessionID, SessionLogin)
	if account != nil {
		event.AccountID = ptr(account.ID)
	}
	written, err := l.appendOnce(ctx, event)
	if err != nil || !written {
		return written, err
	}
	l.inst.metricInc(MetricSessionLogin)
	return true, nil
}

// LogLogout records the LOGOUT event for sessionID unless one exists. The
// acting account comes from the session's LOGIN event. Without one the
// event is still written with no account.
func (l *SessionEventLogger) LogLogout(ctx context.Context, sessionID string) (bool, error) {
	login, err := l.find(ctx, sessionID, SessionLogin)
	if err != nil {
		return false, err
	}

	event := l.newEvent(sessionID, SessionLogout)
	if login != nil {
		event.AccountID = login.AccountID
	} else {
		l.inst.log().Warn("no login event found for session, logging logout without account",
			zap.String("session_id", sessionID))
	}

	written, err := l.appendOnce(ctx, event)
	if err != nil || !written {
		return written, err
	}
	l.inst.metricInc(MetricSessionLogout)
	return true, nil
}

// LogImpersonation records that the session's user is now acting as
// asAccount. The real identity comes from the LOGIN event; without one
// asAccount is used for both.
func (l *SessionEventLogger) LogImpersonation(ctx context.Context, sessionID string, asAccount *Account) error {
	if asAccount == nil {
		return errors.New("impersonation requires a target account")
	}
	login, err := l.find(ctx, sessionID, SessionLogin)
	if err != nil {
		return err
	}

	event := l.newEvent(sessionID, SessionImpersonation)
	event.ImpersonatedID = ptr(asAccount.ID)
	if login != nil && login.AccountID != nil {
		event.AccountID = login.AccountID
	} else {
		l.inst.log().Warn("no login event found for session, logging impersonation as target account",
			zap.String("session_id", sessionID), zap.String("account_id", asAccount.ID))
		event.AccountID = ptr(asAccount.ID)
	}

	if err := l.store.AppendSessionEvent(ctx, event); err != nil {
		return fmt.Errorf("record %s event: %w", event.Kind, err)
	}
	l.inst.metricInc(MetricSessionImpersonation)
	l.inst.emitAudit(ctx, AuditSessionImpersonation, true, asAccount, "", nil, map[string]string{
		"session_id": sessionID,
		"actor":      deref(event.AccountID),
	})
	return nil
}

func (l *SessionEventLogger) newEvent(sessionID string, kind SessionEventKind) *SessionEvent {
	return &SessionEvent{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		Kind:       kind,
		OccurredAt: l.inst.clock(),
	}
}

func (l *SessionEventLogger) find(ctx context.Context, sessionID string, kind SessionEventKind) (*SessionEvent, error) {
	e, err := optional(l.store.FindSessionEvent(ctx, sessionID, kind))
	if err != nil {
		return nil, fmt.Errorf("find %s event: %w", kind, err)
	}
	return e, nil
}

func (l *SessionEventLogger) appendOnce(ctx context.Context, event *SessionEvent) (bool, error) {
	if d, ok := l.store.(SessionEventDeduper); ok {
		written, err := d.AppendSessionEventOnce(ctx, event)
		if err != nil {
			return false, fmt.Errorf("record %s event: %w", event.Kind, err)
		}
		if !written {
			l.inst.metricInc(MetricSessionDuplicate)
		}
		return written, nil
	}

	existing, err := l.find(ctx, event.SessionID, event.Kind)
	if err != nil {
		return false, err
	}
	if existing != nil {
		l.inst.metricInc(MetricSessionDuplicate)
		return false, nil
	}
	if err := l.store.AppendSessionEvent(ctx, event); err != nil {
		return false, fmt.Errorf("record %s event: %w", event.Kind, err)
	}
	return true, nil
}

func ptr[T any](v T) *T { return &v }

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
