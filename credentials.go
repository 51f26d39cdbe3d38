package goCred

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/goCred/passphrase"
	"github.com/MrEthical07/goCred/password"
)

// ViolationReason is one password policy violation.
type ViolationReason = password.Reason

// AccountCredentialService owns password change and reset, temporary
// passwords, and the consecutive-failure counter and lock flag.
//
// Expected user-facing failures come back as violations or as errors
// matching a sentinel. Anything else is logged and replaced by a
// UserManagementError carrying GenericErrorMessage.
type AccountCredentialService struct {
	accounts  AccountStore
	tokens    *PasswordResetTokenManager
	validator *password.PolicyValidator
	hasher    password.Hasher
	generator *passphrase.Generator
	notifier  *Notifier
	cfg       Config
	inst      *instruments
}

func newAccountCredentialService(
	accounts AccountStore,
	tokens *PasswordResetTokenManager,
	hasher password.Hasher,
	generator *passphrase.Generator,
	notifier *Notifier,
	cfg Config,
	inst *instruments,
) *AccountCredentialService {
	return &AccountCredentialService{
		accounts:  accounts,
		tokens:    tokens,
		validator: password.NewPolicyValidator(hasher),
		hasher:    hasher,
		generator: generator,
		notifier:  notifier,
		cfg:       cfg,
		inst:      inst,
	}
}

/* ==== VALIDATION ==== */

// ValidatePassword runs the policy against candidate for account. current
// is the claimed current password, or nil in reset flows.
func (s *AccountCredentialService) ValidatePassword(candidate string, account *Account, current *string) []ViolationReason {
	subject := password.Subject{}
	if account != nil {
		subject.Username = account.Username
		if account.IsTableBased() {
			subject.PasswordHash = account.PasswordHash
		}
	}
	return s.validator.Validate(candidate, subject, current)
}

func (s *AccountCredentialService) validateNew(account *Account, newPassword, confirm string, current *string) []ViolationReason {
	var reasons []ViolationReason
	if newPassword != confirm {
		reasons = append(reasons, password.ReasonConfirmMismatch)
	}
	return append(reasons, s.ValidatePassword(newPassword, account, current)...)
}

/* ==== CHANGE / RESET ==== */

// ChangePassword changes the password of the account with accountID after
// checking current. On any violation nothing is written. On success the
// failure counter is cleared, the credentials window is extended and any
// active reset token is burned.
func (s *AccountCredentialService) ChangePassword(ctx context.Context, accountID, current, newPassword, confirm string) (PasswordChangeResult, error) {
	account, err := s.accounts.FindAccountByID(ctx, accountID)
	if err != nil {
		return PasswordChangeResult{}, s.boundary("change password: load account", err)
	}
	if !account.IsTableBased() {
		return PasswordChangeResult{Account: account}, userError("Passwords for this account are managed externally.", ErrNotTableBased)
	}

	if reasons := s.validateNew(account, newPassword, confirm, &current); len(reasons) > 0 {
		s.inst.metricInc(MetricPasswordChangeRejected)
		return PasswordChangeResult{Account: account, Violations: reasons}, nil
	}

	if err := s.applyPassword(ctx, account, newPassword); err != nil {
		return PasswordChangeResult{Account: account}, s.boundary("change password: save", err)
	}
	if _, err := s.tokens.BurnAllActive(ctx, account.ID); err != nil {
		return PasswordChangeResult{Account: account}, s.boundary("change password: burn reset token", err)
	}

	s.inst.metricInc(MetricPasswordChangeSuccess)
	s.inst.emitAudit(ctx, AuditPasswordChanged, true, account, "", nil, nil)
	return PasswordChangeResult{Account: account}, nil
}

// ResetPassword redeems token and sets the password of its account. An
// unknown or inactive token fails with ErrTokenInvalid before any password
// rule is checked and nothing is written. The token is burned only after
// the new password is stored.
func (s *AccountCredentialService) ResetPassword(ctx context.Context, token, newPassword, confirm string) (PasswordChangeResult, error) {
	t, err := s.tokens.Redeemable(ctx, token)
	if errors.Is(err, ErrTokenInvalid) {
		s.inst.metricInc(MetricPasswordResetInvalidToken)
		return PasswordChangeResult{}, userError("The password reset link is invalid or has expired.", ErrTokenInvalid)
	}
	if err != nil {
		return PasswordChangeResult{}, s.boundary("reset password: find token", err)
	}

	account, err := s.accounts.FindAccountByID(ctx, t.AccountID)
	if err != nil {
		return PasswordChangeResult{}, s.boundary("reset password: load account", err)
	}

	if reasons := s.validateNew(account, newPassword, confirm, nil); len(reasons) > 0 {
		s.inst.metricInc(MetricPasswordChangeRejected)
		return PasswordChangeResult{Account: account, Violations: reasons}, nil
	}

	if account.AuthMethod == "" {
		account.AuthMethod = AuthTableBased
	}
	if err := s.applyPassword(ctx, account, newPassword); err != nil {
		return PasswordChangeResult{Account: account}, s.boundary("reset password: save", err)
	}
	if err := s.tokens.Burn(ctx, t); err != nil {
		return PasswordChangeResult{Account: account}, s.boundary("reset password: burn token", err)
	}

	if s.notifier != nil && account.Email != "" {
		if err := s.notifier.SendPasswordResetConfirmation(ctx, account); err != nil {
			s.inst.log().Warn("password reset confirmation not sent", zap.String("account_id", account.ID), zap.Error(err))
		}
	}

	s.inst.metricInc(MetricPasswordResetSuccess)
	s.inst.emitAudit(ctx, AuditPasswordReset, true, account, "", nil, nil)
	return PasswordChangeResult{Account: account}, nil
}

// applyPassword hashes newPassword into account, clears the counter and
// credential expiry, and writes the full row.
func (s *AccountCredentialService) applyPassword(ctx context.Context, account *Account, newPassword string) error {
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	expires := s.credentialExpiry(s.inst.clock())
	account.PasswordHash = hash
	account.CredentialsExpired = false
	account.CredentialsExpireAt = &expires
	account.ConsecutiveFailures = 0
	return s.accounts.SaveAccount(ctx, account)
}

/* ==== RESET REQUESTS ==== */

// CanResetPassword reports whether account may use the reset flow: not
// directory-managed, enabled, unlocked and not expired.
func (s *AccountCredentialService) CanResetPassword(account *Account) bool {
	if account == nil || account.AuthMethod == AuthLDAP {
		return false
	}
	return account.Enabled && !account.Locked && !account.AccountExpired(s.inst.clock())
}

// RequestPasswordReset burns the account's active tokens, issues a fresh
// one and mails it. isNewUser selects the welcome email.
func (s *AccountCredentialService) RequestPasswordReset(ctx context.Context, account *Account, isNewUser bool) (*PasswordResetToken, error) {
	if !s.CanResetPassword(account) {
		return nil, userError("This account's password cannot be reset.", ErrUserManagement)
	}
	if _, err := s.tokens.BurnAllActive(ctx, account.ID); err != nil {
		return nil, s.boundary("request reset: burn previous token", err)
	}
	validFor := s.cfg.PasswordReset.TokenValidFor
	token, err := s.tokens.Issue(ctx, account, validFor)
	if err != nil {
		return nil, s.boundary("request reset: issue token", err)
	}
	if s.notifier != nil {
		if isNewUser {
			err = s.notifier.SendWelcome(ctx, account, token)
		} else {
			err = s.notifier.SendPasswordReset(ctx, account, token, validFor)
		}
		if err != nil {
			return token, s.boundary("request reset: send email", err)
		}
	}
	return token, nil
}

/* ==== TEMPORARY PASSWORDS ==== */

// GenerateTemporaryPassword sets a generated password on a table-based
// account and expires its credentials so the next login must change it.
// The plaintext is returned once and never stored.
func (s *AccountCredentialService) GenerateTemporaryPassword(ctx context.Context, accountID string) (string, error) {
	if s.generator == nil {
		return "", userError("Password generation is not enabled.", ErrPasswordGenerationDisabled)
	}
	account, err := s.accounts.FindAccountByID(ctx, accountID)
	if err != nil {
		return "", s.boundary("temporary password: load account", err)
	}
	if !account.IsTableBased() {
		return "", userError("Passwords for this account are managed externally.", ErrNotTableBased)
	}

	plain, err := s.generator.Generate()
	if err != nil {
		return "", s.boundary("temporary password: generate", err)
	}
	hash, err := s.hasher.Hash(plain)
	if err != nil {
		return "", s.boundary("temporary password: hash", err)
	}
	now := s.inst.clock()
	account.PasswordHash = hash
	account.CredentialsExpired = true
	account.CredentialsExpireAt = &now
	account.ConsecutiveFailures = 0
	if err := s.accounts.SaveAccount(ctx, account); err != nil {
		return "", s.boundary("temporary password: save", err)
	}

	s.inst.metricInc(MetricTemporaryPassword)
	s.inst.emitAudit(ctx, AuditTemporaryPassword, true, account, "", nil, nil)
	return plain, nil
}

/* ==== FAILURE COUNTER ==== */

// IncrementFailedAttempts adds one to the counter of the account named
// username, locking it at the configured maximum. Unknown usernames are
// ignored and return nil.
func (s *AccountCredentialService) IncrementFailedAttempts(ctx context.Context, username string) (*Account, error) {
	account, err := s.accounts.FindAccountByUsername(ctx, username)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.recordFailure(ctx, account)
}

func (s *AccountCredentialService) recordFailure(ctx context.Context, account *Account) (*Account, error) {
	max := s.cfg.Authentication.MaxLoginAttempts
	wasLocked := account.Locked

	var updated *Account
	if fc, ok := s.accounts.(FailureCounter); ok {
		a, err := fc.IncrementFailures(ctx, account.ID, max)
		if err != nil {
			return nil, fmt.Errorf("increment failures: %w", err)
		}
		updated = a
	} else {
		account.ConsecutiveFailures++
		if account.ConsecutiveFailures >= max {
			account.Locked = true
		}
		if err := s.accounts.SaveAccount(ctx, account); err != nil {
			return nil, fmt.Errorf("increment failures: %w", err)
		}
		updated = account
	}

	if updated.Locked && !wasLocked {
		s.inst.metricInc(MetricAccountLocked)
		s.inst.emitAudit(ctx, AuditAccountLocked, false, updated, "", ErrAccountLocked, map[string]string{
			"consecutive_failures": fmt.Sprint(updated.ConsecutiveFailures),
		})
		s.inst.log().Warn("account locked after consecutive failures",
			zap.String("username", updated.Username), zap.Int("failures", updated.ConsecutiveFailures))
	}
	return updated, nil
}

// clearFailures zeroes a non-zero counter after a successful login.
func (s *AccountCredentialService) clearFailures(ctx context.Context, account *Account) error {
	if account.ConsecutiveFailures <= 0 {
		return nil
	}
	fresh, err := s.accounts.FindAccountByID(ctx, account.ID)
	if err != nil {
		return fmt.Errorf("clear failures: %w", err)
	}
	fresh.ConsecutiveFailures = 0
	if err := s.accounts.SaveAccount(ctx, fresh); err != nil {
		return fmt.Errorf("clear failures: %w", err)
	}
	account.ConsecutiveFailures = 0
	return nil
}

// Unlock clears the lock flag and failure counter of the account.
func (s *AccountCredentialService) Unlock(ctx context.Context, accountID string) (*Account, error) {
	account, err := s.accounts.FindAccountByID(ctx, accountID)
	if err != nil {
		return nil, s.boundary("unlock: load account", err)
	}
	account.Locked = false
	account.ConsecutiveFailures = 0
	if err := s.accounts.SaveAccount(ctx, account); err != nil {
		return nil, s.boundary("unlock: save", err)
	}
	s.inst.metricInc(MetricAccountUnlocked)
	s.inst.emitAudit(ctx, AuditAccountUnlocked, true, account, "", nil, nil)
	return account, nil
}

/* ==== ADMINISTRATION ==== */

// SaveAccount creates or updates account. The email must not belong to
// another account and the username must match the configured style. When
// newPassword is non-empty it is validated and stored; otherwise an
// existing stored hash is kept.
func (s *AccountCredentialService) SaveAccount(ctx context.Context, account *Account, newPassword string) (*Account, []ViolationReason, error) {
	account.Username = strings.TrimSpace(account.Username)
	account.Email = strings.TrimSpace(account.Email)

	if account.Email != "" {
		owner, err := s.accounts.FindAccountByEmail(ctx, account.Email)
		switch {
		case err == nil && owner.ID != account.ID:
			return nil, nil, userError("Another account already uses that email address.", ErrDuplicateEmail)
		case err != nil && !errors.Is(err, ErrNotFound):
			return nil, nil, s.boundary("save account: check email", err)
		}
	} else if s.cfg.Email.Required {
		return nil, nil, userError("An email address is required.", ErrUserManagement)
	}

	if err := s.cfg.Authentication.UsernameStyle.Check(account.Username); err != nil {
		return nil, nil, userError("The username is not valid for this application.", err)
	}
	if existing, err := s.accounts.FindAccountByUsername(ctx, account.Username); err == nil && existing.ID != account.ID {
		return nil, nil, userError("Another account already uses that username.", ErrUserManagement)
	} else if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, nil, s.boundary("save account: check username", err)
	}

	if account.AuthMethod == "" {
		account.AuthMethod = AuthTableBased
	}
	if !account.AuthMethod.Valid() {
		return nil, nil, userError("Unknown authentication method.", ErrUserManagement)
	}

	if account.ID != "" && account.PasswordHash == "" {
		if stored, err := s.accounts.FindAccountByID(ctx, account.ID); err == nil {
			account.PasswordHash = stored.PasswordHash
		} else if !errors.Is(err, ErrNotFound) {
			return nil, nil, s.boundary("save account: load stored", err)
		}
	}

	if newPassword != "" {
		if !account.IsTableBased() {
			return nil, nil, userError("Passwords for this account are managed externally.", ErrNotTableBased)
		}
		if reasons := s.ValidatePassword(newPassword, account, nil); len(reasons) > 0 {
			return account, reasons, nil
		}
		hash, err := s.hasher.Hash(newPassword)
		if err != nil {
			return nil, nil, s.boundary("save account: hash", err)
		}
		expires := s.credentialExpiry(s.inst.clock())
		account.PasswordHash = hash
		account.CredentialsExpired = false
		account.CredentialsExpireAt = &expires
	}
	if !account.IsTableBased() {
		account.PasswordHash = ""
	}

	if err := s.accounts.SaveAccount(ctx, account); err != nil {
		return nil, nil, s.boundary("save account", err)
	}
	s.inst.emitAudit(ctx, AuditAccountSaved, true, account, "", nil, nil)
	return account, nil, nil
}

// boundary logs err and converts it to the generic user-safe error.
// UserManagementErrors pass through unchanged.
func (s *AccountCredentialService) boundary(op string, err error) error {
	var ume *UserManagementError
	if errors.As(err, &ume) {
		s.inst.log().Info("user management failure", zap.String("op", op), zap.String("message", ume.Message))
		return err
	}
	s.inst.log().Error("unexpected failure", zap.String("op", op), zap.Error(err))
	return userError(GenericErrorMessage, err)
}

// credentialExpiry returns the expiry instant for credentials set at now.
func (s *AccountCredentialService) credentialExpiry(now time.Time) time.Time {
	return now.Add(s.cfg.Password.CredentialsExpirationPeriod)
}
