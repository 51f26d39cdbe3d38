package goCred

import (
	"net/mail"
	"strings"
	"time"
)

// AuthMethod tags which credential source owns an account.
type AuthMethod string

const (
	// AuthTableBased accounts verify against the locally stored hash.
	AuthTableBased AuthMethod = "TABLE_BASED"
	// AuthLDAP accounts verify against the directory.
	AuthLDAP AuthMethod = "LDAP"
	// AuthSAML accounts are asserted by a federation identity provider.
	AuthSAML AuthMethod = "SAML"
)

// Valid reports whether m is one of the known methods.
func (m AuthMethod) Valid() bool {
	switch m {
	case AuthTableBased, AuthLDAP, AuthSAML:
		return true
	}
	return false
}

// UsernameStyle constrains the shape of usernames.
type UsernameStyle string

const (
	// UsernamePlain forbids email-shaped usernames.
	UsernamePlain UsernameStyle = "PLAIN"
	// UsernameEmail requires email-shaped usernames.
	UsernameEmail UsernameStyle = "EMAIL"
	// UsernameMixed accepts either shape.
	UsernameMixed UsernameStyle = "MIXED"
)

// Valid reports whether s is one of the known styles.
func (s UsernameStyle) Valid() bool {
	switch s {
	case UsernamePlain, UsernameEmail, UsernameMixed:
		return true
	}
	return false
}

// Check validates username against the style.
func (s UsernameStyle) Check(username string) error {
	if strings.TrimSpace(username) == "" {
		return ErrInvalidUsername
	}
	isEmail := looksLikeEmail(username)
	switch s {
	case UsernamePlain:
		if isEmail || strings.Contains(username, "@") {
			return ErrInvalidUsername
		}
	case UsernameEmail:
		if !isEmail {
			return ErrInvalidUsername
		}
	}
	return nil
}

func looksLikeEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}

// Account is a login identity together with its lockout and credential
// expiry state.
//
// An empty PasswordHash marks an externally authenticated identity; it is
// never used for verification unless AuthMethod is AuthTableBased.
type Account struct {
	ID                  string     `json:"id" db:"id"`
	Username            string     `json:"username" db:"username"`
	Email               string     `json:"email,omitempty" db:"email"`
	FirstName           string     `json:"first_name,omitempty" db:"first_name"`
	LastName            string     `json:"last_name,omitempty" db:"last_name"`
	Institution         string     `json:"institution,omitempty" db:"institution"`
	PasswordHash        string     `json:"password_hash,omitempty" db:"password_hash"`
	Enabled             bool       `json:"enabled" db:"enabled"`
	Locked              bool       `json:"locked" db:"locked"`
	ConsecutiveFailures int        `json:"consecutive_failures" db:"consecutive_failures"`
	AccountExpiresAt    *time.Time `json:"account_expires_at,omitempty" db:"account_expires_at"`
	CredentialsExpired  bool       `json:"credentials_expired" db:"credentials_expired"`
	CredentialsExpireAt *time.Time `json:"credentials_expire_at,omitempty" db:"credentials_expire_at"`
	AuthMethod          AuthMethod `json:"auth_method" db:"auth_method"`
	Roles               []string   `json:"roles,omitempty" db:"-"`
	CreatedAt           time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at" db:"updated_at"`
}

// Clone returns a deep copy of a.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	out := *a
	out.AccountExpiresAt = cloneTime(a.AccountExpiresAt)
	out.CredentialsExpireAt = cloneTime(a.CredentialsExpireAt)
	if a.Roles != nil {
		out.Roles = append([]string(nil), a.Roles...)
	}
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// IsTableBased reports whether the account verifies against a local hash.
func (a *Account) IsTableBased() bool {
	return a != nil && a.AuthMethod == AuthTableBased
}

// AccountExpired reports whether the account expiry instant has passed.
func (a *Account) AccountExpired(now time.Time) bool {
	return a.AccountExpiresAt != nil && a.AccountExpiresAt.Before(now)
}

// CredentialsExpiredAt reports whether the credentials must be changed
// before the next login.
func (a *Account) CredentialsExpiredAt(now time.Time) bool {
	if a.CredentialsExpired {
		return true
	}
	return a.CredentialsExpireAt != nil && !a.CredentialsExpireAt.After(now)
}

// InGoodStanding reports whether the account is enabled, unlocked and
// neither the account nor its credentials have expired.
func (a *Account) InGoodStanding(now time.Time) bool {
	return a.standingError(now) == nil
}

// standingError returns the first failing good-standing check, in the order
// locked, disabled, account expired, credentials expired.
func (a *Account) standingError(now time.Time) error {
	switch {
	case a.Locked:
		return ErrAccountLocked
	case !a.Enabled:
		return ErrAccountDisabled
	case a.AccountExpired(now):
		return ErrAccountExpired
	case a.CredentialsExpiredAt(now):
		return ErrCredentialsExpired
	}
	return nil
}

// LoginAttempt is one append-only authentication outcome. Username is
// denormalized because the account may not exist.
type LoginAttempt struct {
	ID           string    `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	AttemptedAt  time.Time `json:"attempted_at" db:"attempted_at"`
	Success      bool      `json:"success" db:"success"`
	IPAddress    string    `json:"ip_address,omitempty" db:"ip_address"`
	ErrorType    string    `json:"error_type,omitempty" db:"error_type"`
	ErrorMessage string    `json:"error_message,omitempty" db:"error_message"`
}

// ErrorInfo classifies a failed attempt.
type ErrorInfo struct {
	Type    string
	Message string
}

// PasswordResetToken is a single-use, time-bounded capability to set an
// account's password.
type PasswordResetToken struct {
	ID        string    `json:"id" db:"id"`
	Token     string    `json:"token" db:"token"`
	AccountID string    `json:"account_id" db:"account_id"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
}

// ActiveAt reports whether the token is usable at now.
func (t *PasswordResetToken) ActiveAt(now time.Time) bool {
	return t != nil && now.Before(t.ExpiresAt)
}

// SessionEventKind enumerates session lifecycle events.
type SessionEventKind string

const (
	SessionLogin         SessionEventKind = "LOGIN"
	SessionLogout        SessionEventKind = "LOGOUT"
	SessionImpersonation SessionEventKind = "IMPERSONATION"
)

// SessionEvent records a session lifecycle transition. AccountID may be nil
// for a logout whose login was never recorded. ImpersonatedID is set only for
// impersonation events.
type SessionEvent struct {
	ID             string           `json:"id" db:"id"`
	SessionID      string           `json:"session_id" db:"session_id"`
	Kind           SessionEventKind `json:"kind" db:"kind"`
	AccountID      *string          `json:"account_id,omitempty" db:"account_id"`
	ImpersonatedID *string          `json:"impersonated_id,omitempty" db:"impersonated_id"`
	OccurredAt     time.Time        `json:"occurred_at" db:"occurred_at"`
}

// Credentials is a username/password pair presented at login.
type Credentials struct {
	Username string
	Password string
}

// LoginResult describes a completed login attempt.
//
// When PasswordChangeRequired is set the login did not succeed; ChangeTicket
// carries the username into the password change flow.
type LoginResult struct {
	Account                *Account
	Method                 AuthMethod
	PasswordChangeRequired bool
	ChangeTicket           string
}

// PasswordChangeResult is the outcome of a change or reset. A non-empty
// Violations means nothing was written and Account is unchanged.
type PasswordChangeResult struct {
	Account    *Account
	Violations []ViolationReason
}

// OK reports whether the change was applied.
func (r PasswordChangeResult) OK() bool { return len(r.Violations) == 0 }
