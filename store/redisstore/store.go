package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	goCred "github.com/MrEthical07/goCred"
	"github.com/MrEthical07/goCred/internal/rate"
)

// ErrRedisUnavailable wraps transport failures.
var ErrRedisUnavailable = errors.New("redis unavailable")

const (
	defaultPrefix = "gc"
	maxRetries    = 4
)

// Store implements goCred.CredentialStore on Redis. Accounts, tokens and
// the first event of each session kind are JSON strings; indexes are sets
// and sorted sets scored by time.
type Store struct {
	redis  *redis.Client
	prefix string
	now    func() time.Time
	window *rate.Window
}

var (
	_ goCred.CredentialStore     = (*Store)(nil)
	_ goCred.FailureCounter      = (*Store)(nil)
	_ goCred.SessionEventDeduper = (*Store)(nil)
	_ goCred.ResetRequestLimiter = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithPrefix namespaces every key. The default prefix is "gc".
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithNow overrides the clock used for account timestamps.
func WithNow(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New returns a Store over client.
func New(client *redis.Client, opts ...Option) *Store {
	s := &Store{redis: client, prefix: defaultPrefix, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.window = rate.NewWindow(client, s.prefix+":rl")
	return s
}

/* ==== KEYS ==== */

func (s *Store) accountKey(id string) string        { return s.prefix + ":acct:" + id }
func (s *Store) usernameKey(name string) string     { return s.prefix + ":acct:user:" + name }
func (s *Store) emailKey(email string) string       { return s.prefix + ":acct:email:" + email }
func (s *Store) accountsKey() string                { return s.prefix + ":accts" }
func (s *Store) attemptsKey(username string) string { return s.prefix + ":att:u:" + username }
func (s *Store) successKey(username string) string  { return s.prefix + ":att:ok:" + username }
func (s *Store) failureKey(errType string) string   { return s.prefix + ":att:f:" + errType }
func (s *Store) tokenKey(token string) string       { return s.prefix + ":tok:" + token }
func (s *Store) accountTokensKey(id string) string  { return s.prefix + ":tok:acct:" + id }
func (s *Store) tokensKey() string                  { return s.prefix + ":toks" }

func (s *Store) eventKey(sessionID string, kind goCred.SessionEventKind) string {
	return s.prefix + ":evt:" + sessionID + ":" + string(kind)
}

func (s *Store) eventLogKey(sessionID string) string { return s.prefix + ":evt:log:" + sessionID }

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
}

func notFound(kind, key string) error {
	return fmt.Errorf("%w: %s %q", goCred.ErrNotFound, kind, key)
}

func score(t time.Time) float64 { return float64(t.UnixNano()) }

/* ==== ACCOUNTS ==== */

// FindAccountByID returns the account with id.
func (s *Store) FindAccountByID(ctx context.Context, id string) (*goCred.Account, error) {
	data, err := s.redis.Get(ctx, s.accountKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, notFound("account", id)
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return decodeAccount(data)
}

// FindAccountByUsername returns the account with username.
func (s *Store) FindAccountByUsername(ctx context.Context, username string) (*goCred.Account, error) {
	return s.findByIndex(ctx, "username", username, s.usernameKey(username))
}

// FindAccountByEmail returns the account owning email.
func (s *Store) FindAccountByEmail(ctx context.Context, email string) (*goCred.Account, error) {
	if email == "" {
		return nil, notFound("email", email)
	}
	return s.findByIndex(ctx, "email", email, s.emailKey(email))
}

func (s *Store) findByIndex(ctx context.Context, kind, value, key string) (*goCred.Account, error) {
	id, err := s.redis.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, notFound(kind, value)
	}
	if err != nil {
		return nil, unavailable(err)
	}
	a, err := s.FindAccountByID(ctx, id)
	if errors.Is(err, goCred.ErrNotFound) {
		return nil, notFound(kind, value)
	}
	return a, err
}

// SaveAccount writes account and moves its username and email indexes,
// assigning an ID and timestamps.
func (s *Store) SaveAccount(ctx context.Context, account *goCred.Account) error {
	now := s.now()
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now

	data, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("encode account: %w", err)
	}
	key := s.accountKey(account.ID)

	return s.retry(ctx, func(tx *redis.Tx) error {
		var previous *goCred.Account
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			if previous, err = decodeAccount(raw); err != nil {
				return err
			}
		case !errors.Is(err, redis.Nil):
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if previous != nil && previous.Username != account.Username {
				pipe.Del(ctx, s.usernameKey(previous.Username))
			}
			if previous != nil && previous.Email != "" && previous.Email != account.Email {
				pipe.Del(ctx, s.emailKey(previous.Email))
			}
			pipe.Set(ctx, key, data, 0)
			pipe.Set(ctx, s.usernameKey(account.Username), account.ID, 0)
			if account.Email != "" {
				pipe.Set(ctx, s.emailKey(account.Email), account.ID, 0)
			}
			pipe.SAdd(ctx, s.accountsKey(), account.ID)
			return nil
		})
		return err
	}, key)
}

// DeleteAccount removes the account and its indexes.
func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	a, err := s.FindAccountByID(ctx, id)
	if err != nil {
		return err
	}
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.accountKey(id), s.usernameKey(a.Username))
		if a.Email != "" {
			pipe.Del(ctx, s.emailKey(a.Email))
		}
		pipe.SRem(ctx, s.accountsKey(), id)
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// ListAccounts returns every account ordered by username.
func (s *Store) ListAccounts(ctx context.Context) ([]*goCred.Account, error) {
	ids, err := s.redis.SMembers(ctx, s.accountsKey()).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	out := make([]*goCred.Account, 0, len(ids))
	for _, id := range ids {
		a, err := s.FindAccountByID(ctx, id)
		if errors.Is(err, goCred.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

// IncrementFailures bumps the failure counter and locks the account at max
// inside a WATCH transaction.
func (s *Store) IncrementFailures(ctx context.Context, accountID string, max int) (*goCred.Account, error) {
	key := s.accountKey(accountID)
	var updated *goCred.Account

	err := s.retry(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			return err
		}
		a, err := decodeAccount(raw)
		if err != nil {
			return err
		}
		a.ConsecutiveFailures++
		if max > 0 && a.ConsecutiveFailures >= max {
			a.Locked = true
		}
		a.UpdatedAt = s.now()
		data, err := json.Marshal(a)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		if err != nil {
			return err
		}
		updated = a
		return nil
	}, key)
	if errors.Is(err, redis.Nil) {
		return nil, notFound("account", accountID)
	}
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Store) retry(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, fn, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && !errors.Is(err, redis.Nil) {
			return unavailable(err)
		}
		return err
	}
	return unavailable(redis.TxFailedErr)
}

/* ==== LOGIN ATTEMPTS ==== */

// AppendLoginAttempt appends attempt to the username, success and failure
// indexes.
func (s *Store) AppendLoginAttempt(ctx context.Context, attempt *goCred.LoginAttempt) error {
	if attempt.ID == "" {
		attempt.ID = uuid.NewString()
	}
	data, err := json.Marshal(attempt)
	if err != nil {
		return fmt.Errorf("encode login attempt: %w", err)
	}
	member := redis.Z{Score: score(attempt.AttemptedAt), Member: data}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, s.attemptsKey(attempt.Username), member)
		if attempt.Success {
			pipe.ZAdd(ctx, s.successKey(attempt.Username), member)
		} else {
			pipe.ZAdd(ctx, s.failureKey(attempt.ErrorType), member)
		}
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// MostRecentSuccess returns the newest successful attempt for username.
func (s *Store) MostRecentSuccess(ctx context.Context, username string) (*goCred.LoginAttempt, error) {
	return s.newestAttempt(ctx, s.successKey(username), "successful attempt", username)
}

// MostRecentFailureOfType returns the newest failure classified as errorType.
func (s *Store) MostRecentFailureOfType(ctx context.Context, errorType string) (*goCred.LoginAttempt, error) {
	return s.newestAttempt(ctx, s.failureKey(errorType), "failed attempt", errorType)
}

func (s *Store) newestAttempt(ctx context.Context, key, kind, value string) (*goCred.LoginAttempt, error) {
	rows, err := s.redis.ZRevRange(ctx, key, 0, 0).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(rows) == 0 {
		return nil, notFound(kind, value)
	}
	var a goCred.LoginAttempt
	if err := json.Unmarshal([]byte(rows[0]), &a); err != nil {
		return nil, fmt.Errorf("decode login attempt: %w", err)
	}
	return &a, nil
}

// ListLoginAttempts returns username's attempts, newest first.
func (s *Store) ListLoginAttempts(ctx context.Context, username string) ([]*goCred.LoginAttempt, error) {
	rows, err := s.redis.ZRevRange(ctx, s.attemptsKey(username), 0, -1).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	out := make([]*goCred.LoginAttempt, 0, len(rows))
	for _, row := range rows {
		var a goCred.LoginAttempt
		if err := json.Unmarshal([]byte(row), &a); err != nil {
			return nil, fmt.Errorf("decode login attempt: %w", err)
		}
		out = append(out, &a)
	}
	return out, nil
}

/* ==== RESET TOKENS ==== */

// SaveResetToken inserts or replaces the token row and rescores its
// indexes by expiry.
func (s *Store) SaveResetToken(ctx context.Context, token *goCred.PasswordResetToken) error {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("encode reset token: %w", err)
	}
	member := redis.Z{Score: score(token.ExpiresAt), Member: token.Token}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.tokenKey(token.Token), data, 0)
		pipe.ZAdd(ctx, s.accountTokensKey(token.AccountID), member)
		pipe.ZAdd(ctx, s.tokensKey(), member)
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// FindResetToken returns the row for token.
func (s *Store) FindResetToken(ctx context.Context, token string) (*goCred.PasswordResetToken, error) {
	data, err := s.redis.Get(ctx, s.tokenKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, notFound("reset token", "")
	}
	if err != nil {
		return nil, unavailable(err)
	}
	var t goCred.PasswordResetToken
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode reset token: %w", err)
	}
	return &t, nil
}

// FindLatestResetToken returns the latest-expiring token for accountID.
func (s *Store) FindLatestResetToken(ctx context.Context, accountID string) (*goCred.PasswordResetToken, error) {
	tokens, err := s.redis.ZRevRange(ctx, s.accountTokensKey(accountID), 0, 0).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(tokens) == 0 {
		return nil, notFound("reset token for account", accountID)
	}
	return s.FindResetToken(ctx, tokens[0])
}

// ListActiveResetTokens returns tokens expiring after now, latest first.
func (s *Store) ListActiveResetTokens(ctx context.Context, now time.Time) ([]*goCred.PasswordResetToken, error) {
	tokens, err := s.redis.ZRevRangeByScore(ctx, s.tokensKey(), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(now.UnixNano(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	out := make([]*goCred.PasswordResetToken, 0, len(tokens))
	for _, tok := range tokens {
		t, err := s.FindResetToken(ctx, tok)
		if errors.Is(err, goCred.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

/* ==== SESSION EVENTS ==== */

// AppendSessionEvent appends event to the session log. The first event of
// each kind also becomes the one FindSessionEvent returns.
func (s *Store) AppendSessionEvent(ctx context.Context, event *goCred.SessionEvent) error {
	data, err := encodeEvent(event)
	if err != nil {
		return err
	}
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetNX(ctx, s.eventKey(event.SessionID, event.Kind), data, 0)
		pipe.RPush(ctx, s.eventLogKey(event.SessionID), data)
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// AppendSessionEventOnce writes event only when no event of the same
// session and kind exists. SETNX makes the check atomic.
func (s *Store) AppendSessionEventOnce(ctx context.Context, event *goCred.SessionEvent) (bool, error) {
	data, err := encodeEvent(event)
	if err != nil {
		return false, err
	}
	ok, err := s.redis.SetNX(ctx, s.eventKey(event.SessionID, event.Kind), data, 0).Result()
	if err != nil {
		return false, unavailable(err)
	}
	if !ok {
		return false, nil
	}
	if err := s.redis.RPush(ctx, s.eventLogKey(event.SessionID), data).Err(); err != nil {
		return true, unavailable(err)
	}
	return true, nil
}

// FindSessionEvent returns the first event of kind recorded for sessionID.
func (s *Store) FindSessionEvent(ctx context.Context, sessionID string, kind goCred.SessionEventKind) (*goCred.SessionEvent, error) {
	data, err := s.redis.Get(ctx, s.eventKey(sessionID, kind)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, notFound(string(kind)+" event for session", sessionID)
	}
	if err != nil {
		return nil, unavailable(err)
	}
	var e goCred.SessionEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode session event: %w", err)
	}
	return &e, nil
}

// SessionEvents returns every event recorded for sessionID in append order.
func (s *Store) SessionEvents(ctx context.Context, sessionID string) ([]*goCred.SessionEvent, error) {
	rows, err := s.redis.LRange(ctx, s.eventLogKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	out := make([]*goCred.SessionEvent, 0, len(rows))
	for _, row := range rows {
		var e goCred.SessionEvent
		if err := json.Unmarshal([]byte(row), &e); err != nil {
			return nil, fmt.Errorf("decode session event: %w", err)
		}
		out = append(out, &e)
	}
	return out, nil
}

func encodeEvent(event *goCred.SessionEvent) ([]byte, error) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode session event: %w", err)
	}
	return data, nil
}

func decodeAccount(data []byte) (*goCred.Account, error) {
	var a goCred.Account
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}
	return &a, nil
}

/* ==== RESET THROTTLE ==== */

// AllowResetRequest counts a hit against key in a fixed window that opens
// with the first hit.
func (s *Store) AllowResetRequest(ctx context.Context, key string, max int, window time.Duration) error {
	err := s.window.Hit(ctx, key, max, window)
	switch {
	case errors.Is(err, rate.ErrRateLimited):
		return fmt.Errorf("%w: %s", goCred.ErrRateLimited, key)
	case err != nil:
		return unavailable(err)
	}
	return nil
}
