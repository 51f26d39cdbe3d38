package goCred

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/MrEthical07/goCred/jwt"
	"github.com/MrEthical07/goCred/passphrase"
)

// Engine is the assembled credential lifecycle service. Build one with
// New().Build(); the zero value is not usable.
//
// Engine instances are configured during initialization and then treated
// as immutable. All methods are safe for concurrent use when the store is.
type Engine struct {
	config Config
	store  CredentialStore
	inst   *instruments

	tickets     *jwt.Manager
	ledger      *LoginAttemptLedger
	resetTokens *PasswordResetTokenManager
	notifier    *Notifier
	credentials *AccountCredentialService
	sessions    *SessionEventLogger
	generator   *passphrase.Generator
	resolver    *AuthenticationResolver
	assertions  *AssertionValidator
	decorator   *AuditingDecorator

	closed atomic.Bool
}

func (e *Engine) ready() error {
	if e == nil || e.decorator == nil || e.closed.Load() {
		return ErrEngineNotReady
	}
	return nil
}

// Close flushes the audit dispatcher. The engine rejects calls afterwards.
func (e *Engine) Close() {
	if e == nil || !e.closed.CompareAndSwap(false, true) {
		return
	}
	if e.inst != nil && e.inst.audit != nil {
		e.inst.audit.Close()
	}
}

// AuditDropped returns the number of audit events that never reached the
// dispatcher queue.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.inst == nil || e.inst.audit == nil {
		return 0
	}
	return e.inst.audit.Dropped()
}

// AuditDroppedByType returns the dropped audit event count per event type.
func (e *Engine) AuditDroppedByType() map[string]uint64 {
	if e == nil || e.inst == nil {
		return map[string]uint64{}
	}
	return e.inst.audit.DroppedByType()
}

// MetricsSnapshot returns the current counter and histogram values.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.inst == nil || e.inst.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.inst.metrics.Snapshot()
}

// Config returns a copy of the configuration the engine was built with.
func (e *Engine) Config() Config {
	if e == nil {
		return Config{}
	}
	return cloneConfig(e.config)
}

/* ==== AUTHENTICATION ==== */

// Login authenticates username and password against the enabled strategies
// and records the outcome. The client IP and session id are read from ctx.
//
// When the password is correct but the credentials have expired, the result
// carries PasswordChangeRequired and a change ticket together with
// ErrCredentialsExpired.
func (e *Engine) Login(ctx context.Context, username, password string) (LoginResult, error) {
	if err := e.ready(); err != nil {
		return LoginResult{}, err
	}
	return e.decorator.Login(ctx, Credentials{Username: strings.TrimSpace(username), Password: password})
}

// AcceptAssertion applies the post-assertion checks to an identity the
// federation provider has already authenticated.
func (e *Engine) AcceptAssertion(ctx context.Context, a Assertion) (LoginResult, error) {
	if err := e.ready(); err != nil {
		return LoginResult{}, err
	}
	if !e.config.Authentication.SAMLEnabled {
		return LoginResult{}, &AuthenticationError{Message: "Federated login is not enabled.", Err: ErrBadCredentials}
	}
	return e.decorator.AcceptAssertion(ctx, e.assertions, a)
}

// Logout records the LOGOUT event for sessionID. A repeated logout is a
// no-op and reports false.
func (e *Engine) Logout(ctx context.Context, sessionID string) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	return e.sessions.LogLogout(ctx, sessionID)
}

// Impersonate records that the user of sessionID is now acting as the
// account with asAccountID.
func (e *Engine) Impersonate(ctx context.Context, sessionID, asAccountID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	target, err := e.store.FindAccountByID(ctx, asAccountID)
	if err != nil {
		return e.credentials.boundary("impersonate: load target", err)
	}
	if err := e.sessions.LogImpersonation(ctx, sessionID, target); err != nil {
		return e.credentials.boundary("impersonate: record event", err)
	}
	return nil
}

/* ==== PASSWORDS ==== */

// ChangePassword changes the password of accountID after verifying current.
func (e *Engine) ChangePassword(ctx context.Context, accountID, current, newPassword, confirm string) (PasswordChangeResult, error) {
	if err := e.ready(); err != nil {
		return PasswordChangeResult{}, err
	}
	return e.credentials.ChangePassword(ctx, accountID, current, newPassword, confirm)
}

// ChangeExpiredPassword redeems a change ticket issued by Login on
// ErrCredentialsExpired and changes the password of the named user.
func (e *Engine) ChangeExpiredPassword(ctx context.Context, ticket, current, newPassword, confirm string) (PasswordChangeResult, error) {
	if err := e.ready(); err != nil {
		return PasswordChangeResult{}, err
	}
	claims, err := e.tickets.Parse(ticket)
	if err != nil {
		return PasswordChangeResult{}, userError("The password change request has expired. Please log in again.", errors.Join(ErrTicketInvalid, err))
	}
	account, err := e.store.FindAccountByUsername(ctx, claims.Username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return PasswordChangeResult{}, userError("The password change request has expired. Please log in again.", ErrTicketInvalid)
		}
		return PasswordChangeResult{}, e.credentials.boundary("change expired password: load account", err)
	}
	return e.credentials.ChangePassword(ctx, account.ID, current, newPassword, confirm)
}

// ResetPassword sets a new password using a reset token.
func (e *Engine) ResetPassword(ctx context.Context, token, newPassword, confirm string) (PasswordChangeResult, error) {
	if err := e.ready(); err != nil {
		return PasswordChangeResult{}, err
	}
	return e.credentials.ResetPassword(ctx, token, newPassword, confirm)
}

// RequestPasswordReset issues and mails a reset token to the account owning
// email. An unknown address is not reported to the caller, so the response
// does not reveal which addresses are registered.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	if err := e.ready(); err != nil {
		return err
	}
	email = strings.TrimSpace(email)
	if err := e.throttleReset(ctx, email); err != nil {
		return err
	}
	account, err := e.store.FindAccountByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		e.inst.log().Info("password reset requested for unknown email")
		return nil
	}
	if err != nil {
		return e.credentials.boundary("request reset: find account", err)
	}
	_, err = e.credentials.RequestPasswordReset(ctx, account, false)
	return err
}

// throttleReset charges the request against the email and, when enabled,
// the client IP. The email is charged whether or not it is registered.
func (e *Engine) throttleReset(ctx context.Context, email string) error {
	cfg := e.config.PasswordReset
	limiter, ok := e.store.(ResetRequestLimiter)
	if !ok || cfg.MaxRequests == 0 {
		return nil
	}
	keys := []string{"email:" + strings.ToLower(email)}
	if ip := clientIPFromContext(ctx); cfg.ThrottleByIP && ip != "" {
		keys = append(keys, "ip:"+ip)
	}
	for _, key := range keys {
		err := limiter.AllowResetRequest(ctx, key, cfg.MaxRequests, cfg.RequestWindow)
		if errors.Is(err, ErrRateLimited) {
			e.inst.log().Warn("password reset request throttled", zap.String("key", key))
			return userError("Too many password reset requests. Please try again later.", err)
		}
		if err != nil {
			return e.credentials.boundary("request reset: throttle", err)
		}
	}
	return nil
}

// InviteAccount mails a welcome message with a first password link.
func (e *Engine) InviteAccount(ctx context.Context, accountID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	account, err := e.store.FindAccountByID(ctx, accountID)
	if err != nil {
		return e.credentials.boundary("invite: load account", err)
	}
	_, err = e.credentials.RequestPasswordReset(ctx, account, true)
	return err
}

// GenerateTemporaryPassword replaces the password of accountID with a
// generated passphrase that must be changed at next login.
func (e *Engine) GenerateTemporaryPassword(ctx context.Context, accountID string) (string, error) {
	if err := e.ready(); err != nil {
		return "", err
	}
	return e.credentials.GenerateTemporaryPassword(ctx, accountID)
}

// GeneratePassphrase returns a passphrase in the configured format.
func (e *Engine) GeneratePassphrase() (string, error) {
	if err := e.ready(); err != nil {
		return "", err
	}
	if e.generator == nil {
		return "", ErrPasswordGenerationDisabled
	}
	return e.generator.Generate()
}

// ValidatePassword returns every policy violation of candidate for account.
// current is the claimed current password, or nil.
func (e *Engine) ValidatePassword(candidate string, account *Account, current *string) []ViolationReason {
	if e.ready() != nil {
		return nil
	}
	return e.credentials.ValidatePassword(candidate, account, current)
}

/* ==== ADMINISTRATION ==== */

// SaveAccount creates or updates account, setting newPassword when given.
func (e *Engine) SaveAccount(ctx context.Context, account *Account, newPassword string) (*Account, []ViolationReason, error) {
	if err := e.ready(); err != nil {
		return nil, nil, err
	}
	return e.credentials.SaveAccount(ctx, account, newPassword)
}

// UnlockAccount clears the lock and failure counter of accountID.
func (e *Engine) UnlockAccount(ctx context.Context, accountID string) (*Account, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.credentials.Unlock(ctx, accountID)
}

/* ==== COMPONENTS ==== */

// Ledger returns the login attempt ledger.
func (e *Engine) Ledger() *LoginAttemptLedger { return e.ledger }

// ResetTokens returns the reset token manager.
func (e *Engine) ResetTokens() *PasswordResetTokenManager { return e.resetTokens }

// Credentials returns the account credential service.
func (e *Engine) Credentials() *AccountCredentialService { return e.credentials }

// Resolver returns the authentication resolver.
func (e *Engine) Resolver() *AuthenticationResolver { return e.resolver }

// Sessions returns the session event logger.
func (e *Engine) Sessions() *SessionEventLogger { return e.sessions }

// Notifier returns the email notifier.
func (e *Engine) Notifier() *Notifier { return e.notifier }

// Assertions returns the SAML assertion validator.
func (e *Engine) Assertions() *AssertionValidator { return e.assertions }

// Store returns the backing credential store.
func (e *Engine) Store() CredentialStore { return e.store }
