package goCred

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goCred/password"
)

// AuthStrategy verifies credentials against one credential source.
//
// Attempt returns an error matching ErrBadCredentials when the source does
// not recognize the credentials, letting the resolver try the next one.
// Any other error is final.
type AuthStrategy interface {
	Method() AuthMethod
	Attempt(ctx context.Context, creds Credentials) (*Account, error)
}

// Directory verifies credentials against an external directory such as
// LDAP. Verify returns an error matching ErrBadCredentials for a rejected
// bind; any other error is treated as a search failure.
type Directory interface {
	Verify(ctx context.Context, username, password string) (map[string][]string, error)
}

// DirectoryFunc adapts a function to Directory.
type DirectoryFunc func(ctx context.Context, username, password string) (map[string][]string, error)

// Verify calls f.
func (f DirectoryFunc) Verify(ctx context.Context, username, password string) (map[string][]string, error) {
	return f(ctx, username, password)
}

/* ==== TABLE STRATEGY ==== */

// TableStrategy verifies passwords against locally stored hashes.
type TableStrategy struct {
	accounts AccountStore
	hasher   password.Hasher
	now      func() time.Time
}

// NewTableStrategy returns a table-based strategy.
func NewTableStrategy(accounts AccountStore, hasher password.Hasher, now func() time.Time) *TableStrategy {
	if now == nil {
		now = time.Now
	}
	return &TableStrategy{accounts: accounts, hasher: hasher, now: now}
}

// Method returns AuthTableBased.
func (s *TableStrategy) Method() AuthMethod { return AuthTableBased }

// Attempt checks lock, enabled and account expiry before the password, and
// credential expiry after it. Unknown users and accounts owned by another
// source are reported as bad credentials.
func (s *TableStrategy) Attempt(ctx context.Context, creds Credentials) (*Account, error) {
	account, err := s.accounts.FindAccountByUsername(ctx, creds.Username)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrBadCredentials
	}
	if err != nil {
		return nil, err
	}
	if !account.IsTableBased() {
		return nil, ErrBadCredentials
	}

	now := s.now()
	switch {
	case account.Locked:
		return account, ErrAccountLocked
	case !account.Enabled:
		return account, ErrAccountDisabled
	case account.AccountExpired(now):
		return account, ErrAccountExpired
	}
	if !password.Matches(s.hasher, creds.Password, account.PasswordHash) {
		return account, ErrBadCredentials
	}
	if account.CredentialsExpiredAt(now) {
		return account, ErrCredentialsExpired
	}
	return account, nil
}

/* ==== DIRECTORY STRATEGY ==== */

// DirectoryStrategy verifies credentials with a Directory and then loads
// the local account. Directory-returned attributes never grant roles.
type DirectoryStrategy struct {
	directory Directory
	accounts  AccountStore
	now       func() time.Time
}

// NewDirectoryStrategy returns a directory-backed strategy.
func NewDirectoryStrategy(directory Directory, accounts AccountStore, now func() time.Time) *DirectoryStrategy {
	if now == nil {
		now = time.Now
	}
	return &DirectoryStrategy{directory: directory, accounts: accounts, now: now}
}

// Method returns AuthLDAP.
func (s *DirectoryStrategy) Method() AuthMethod { return AuthLDAP }

// Attempt verifies creds with the directory and applies the good-standing
// checks to the stored account.
func (s *DirectoryStrategy) Attempt(ctx context.Context, creds Credentials) (*Account, error) {
	if _, err := s.directory.Verify(ctx, creds.Username, creds.Password); err != nil {
		if errors.Is(err, ErrBadCredentials) {
			return nil, ErrBadCredentials
		}
		return nil, fmt.Errorf("%w: %v", ErrDirectorySearchFailed, err)
	}

	account, err := s.accounts.FindAccountByUsername(ctx, creds.Username)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrBadCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := account.standingError(s.now()); err != nil {
		return account, err
	}
	return account, nil
}

/* ==== RESOLVER ==== */

// AuthenticationResolver tries the enabled strategies in priority order.
type AuthenticationResolver struct {
	strategies []AuthStrategy
}

// NewAuthenticationResolver returns a resolver over strategies, tried in
// the given order.
func NewAuthenticationResolver(strategies ...AuthStrategy) *AuthenticationResolver {
	return &AuthenticationResolver{strategies: strategies}
}

// Strategies returns the configured methods in priority order.
func (r *AuthenticationResolver) Strategies() []AuthMethod {
	out := make([]AuthMethod, 0, len(r.strategies))
	for _, s := range r.strategies {
		out = append(out, s.Method())
	}
	return out
}

// Authenticate returns the account of the first strategy that accepts
// creds. A bad-credentials outcome falls through to the next strategy; any
// other failure stops the search. The returned account may be non-nil on
// failure when the user is known.
func (r *AuthenticationResolver) Authenticate(ctx context.Context, creds Credentials) (*Account, AuthMethod, error) {
	var (
		lastAccount *Account
		lastErr     error = ErrBadCredentials
	)
	for _, s := range r.strategies {
		account, err := s.Attempt(ctx, creds)
		if err == nil {
			return account, s.Method(), nil
		}
		if account != nil {
			lastAccount = account
		}
		lastErr = err
		if !errors.Is(err, ErrBadCredentials) {
			return account, s.Method(), err
		}
	}
	return lastAccount, "", lastErr
}
