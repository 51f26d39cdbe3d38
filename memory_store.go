package goCred

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a mutex-guarded in-process CredentialStore. It is the
// default store of a Builder and is intended for tests and single-process
// deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*Account
	attempts []*LoginAttempt
	tokens   map[string]*PasswordResetToken
	events   []*SessionEvent
	windows  map[string]*fixedWindow
	now      func() time.Time
}

type fixedWindow struct {
	count   int
	resetAt time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*Account),
		tokens:   make(map[string]*PasswordResetToken),
		windows:  make(map[string]*fixedWindow),
		now:      time.Now,
	}
}

/* ==== ACCOUNTS ==== */

// FindAccountByID returns a copy of the account with id.
func (s *MemoryStore) FindAccountByID(ctx context.Context, id string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, notFound("account", id)
	}
	return a.Clone(), nil
}

// FindAccountByUsername returns a copy of the account with username.
func (s *MemoryStore) FindAccountByUsername(ctx context.Context, username string) (*Account, error) {
	return s.findAccount("username", username, func(a *Account) bool { return a.Username == username })
}

// FindAccountByEmail returns a copy of the account owning email.
func (s *MemoryStore) FindAccountByEmail(ctx context.Context, email string) (*Account, error) {
	if email == "" {
		return nil, notFound("email", email)
	}
	return s.findAccount("email", email, func(a *Account) bool { return a.Email == email })
}

func (s *MemoryStore) findAccount(kind, key string, match func(*Account) bool) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.accounts {
		if match(a) {
			return a.Clone(), nil
		}
	}
	return nil, notFound(kind, key)
}

// SaveAccount stores a copy of account, assigning ID and timestamps.
func (s *MemoryStore) SaveAccount(ctx context.Context, account *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now
	s.accounts[account.ID] = account.Clone()
	return nil
}

// DeleteAccount removes the account with id.
func (s *MemoryStore) DeleteAccount(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[id]; !ok {
		return notFound("account", id)
	}
	delete(s.accounts, id)
	return nil
}

// ListAccounts returns every account ordered by username.
func (s *MemoryStore) ListAccounts(ctx context.Context) ([]*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

// IncrementFailures bumps the failure counter and locks the account at max
// under the store lock.
func (s *MemoryStore) IncrementFailures(ctx context.Context, accountID string, max int) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return nil, notFound("account", accountID)
	}
	a.ConsecutiveFailures++
	if max > 0 && a.ConsecutiveFailures >= max {
		a.Locked = true
	}
	a.UpdatedAt = s.now()
	return a.Clone(), nil
}

/* ==== LOGIN ATTEMPTS ==== */

// AppendLoginAttempt appends a copy of attempt.
func (s *MemoryStore) AppendLoginAttempt(ctx context.Context, attempt *LoginAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if attempt.ID == "" {
		attempt.ID = uuid.NewString()
	}
	cp := *attempt
	s.attempts = append(s.attempts, &cp)
	return nil
}

// MostRecentSuccess returns the newest successful attempt for username.
func (s *MemoryStore) MostRecentSuccess(ctx context.Context, username string) (*LoginAttempt, error) {
	return s.latestAttempt("successful attempt", username, func(a *LoginAttempt) bool {
		return a.Success && a.Username == username
	})
}

// MostRecentFailureOfType returns the newest failure classified as errorType.
func (s *MemoryStore) MostRecentFailureOfType(ctx context.Context, errorType string) (*LoginAttempt, error) {
	return s.latestAttempt("failed attempt", errorType, func(a *LoginAttempt) bool {
		return !a.Success && a.ErrorType == errorType
	})
}

func (s *MemoryStore) latestAttempt(kind, key string, match func(*LoginAttempt) bool) (*LoginAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *LoginAttempt
	for _, a := range s.attempts {
		if !match(a) {
			continue
		}
		// Later appends win ties.
		if best == nil || !a.AttemptedAt.Before(best.AttemptedAt) {
			best = a
		}
	}
	if best == nil {
		return nil, notFound(kind, key)
	}
	cp := *best
	return &cp, nil
}

// ListLoginAttempts returns username's attempts, newest first.
func (s *MemoryStore) ListLoginAttempts(ctx context.Context, username string) ([]*LoginAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*LoginAttempt
	for i := len(s.attempts) - 1; i >= 0; i-- {
		if a := s.attempts[i]; a.Username == username {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].AttemptedAt.After(out[j].AttemptedAt) })
	return out, nil
}

/* ==== RESET TOKENS ==== */

// SaveResetToken inserts or replaces the row keyed by token string.
func (s *MemoryStore) SaveResetToken(ctx context.Context, token *PasswordResetToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	cp := *token
	s.tokens[token.Token] = &cp
	return nil
}

// FindResetToken returns the row for token.
func (s *MemoryStore) FindResetToken(ctx context.Context, token string) (*PasswordResetToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tokens[token]
	if !ok {
		return nil, notFound("reset token", "")
	}
	cp := *t
	return &cp, nil
}

// FindLatestResetToken returns the latest-expiring token for accountID.
func (s *MemoryStore) FindLatestResetToken(ctx context.Context, accountID string) (*PasswordResetToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *PasswordResetToken
	for _, t := range s.tokens {
		if t.AccountID != accountID {
			continue
		}
		if best == nil || t.ExpiresAt.After(best.ExpiresAt) {
			best = t
		}
	}
	if best == nil {
		return nil, notFound("reset token for account", accountID)
	}
	cp := *best
	return &cp, nil
}

// ListActiveResetTokens returns tokens expiring after now, latest first.
func (s *MemoryStore) ListActiveResetTokens(ctx context.Context, now time.Time) ([]*PasswordResetToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*PasswordResetToken
	for _, t := range s.tokens {
		if t.ActiveAt(now) {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.After(out[j].ExpiresAt) })
	return out, nil
}

/* ==== SESSION EVENTS ==== */

// AppendSessionEvent appends a copy of event.
func (s *MemoryStore) AppendSessionEvent(ctx context.Context, event *SessionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.appendEventLocked(event)
	return nil
}

// AppendSessionEventOnce appends event unless one of the same session and
// kind already exists.
func (s *MemoryStore) AppendSessionEventOnce(ctx context.Context, event *SessionEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.events {
		if e.SessionID == event.SessionID && e.Kind == event.Kind {
			return false, nil
		}
	}
	s.appendEventLocked(event)
	return true, nil
}

func (s *MemoryStore) appendEventLocked(event *SessionEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	cp := *event
	s.events = append(s.events, &cp)
}

// FindSessionEvent returns the first event of kind recorded for sessionID.
func (s *MemoryStore) FindSessionEvent(ctx context.Context, sessionID string, kind SessionEventKind) (*SessionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.events {
		if e.SessionID == sessionID && e.Kind == kind {
			cp := *e
			return &cp, nil
		}
	}
	return nil, notFound(string(kind)+" event for session", sessionID)
}

// SessionEvents returns every recorded event for sessionID in append order.
func (s *MemoryStore) SessionEvents(sessionID string) []SessionEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []SessionEvent
	for _, e := range s.events {
		if e.SessionID == sessionID {
			out = append(out, *e)
		}
	}
	return out
}

/* ==== RESET THROTTLE ==== */

// AllowResetRequest counts a hit against key in a fixed window that starts
// with the first hit.
func (s *MemoryStore) AllowResetRequest(ctx context.Context, key string, max int, window time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	w, ok := s.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &fixedWindow{resetAt: now.Add(window)}
		s.windows[key] = w
	}
	w.count++
	if w.count > max {
		return fmt.Errorf("%w: %s", ErrRateLimited, key)
	}
	return nil
}
