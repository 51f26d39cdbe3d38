package goCred

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/goCred/internal"
)

// burnOffset is how far into the past a burned token's expiry is moved.
const burnOffset = 24 * time.Hour

// PasswordResetTokenManager issues, finds and expires reset tokens.
//
// It does not enforce one active token per account. Callers that rely on a
// single active token must burn the previous one before issuing.
type PasswordResetTokenManager struct {
	store ResetTokenStore
	inst  *instruments
}

func newPasswordResetTokenManager(store ResetTokenStore, inst *instruments) *PasswordResetTokenManager {
	return &PasswordResetTokenManager{store: store, inst: inst}
}

// Issue stores a fresh random token for account valid for validity.
func (m *PasswordResetTokenManager) Issue(ctx context.Context, account *Account, validity time.Duration) (*PasswordResetToken, error) {
	if account == nil || account.ID == "" {
		return nil, errors.New("reset token requires a persisted account")
	}
	if validity <= 0 {
		return nil, errors.New("reset token validity must be > 0")
	}
	value, err := internal.NewResetToken()
	if err != nil {
		return nil, fmt.Errorf("generate reset token: %w", err)
	}
	token := &PasswordResetToken{
		ID:        uuid.NewString(),
		Token:     value,
		AccountID: account.ID,
		ExpiresAt: m.inst.clock().Add(validity),
	}
	if err := m.store.SaveResetToken(ctx, token); err != nil {
		return nil, fmt.Errorf("save reset token: %w", err)
	}
	m.inst.metricInc(MetricResetTokenIssued)
	m.inst.emitAudit(ctx, AuditResetTokenIssued, true, account, "", nil, map[string]string{
		"expires_at": token.ExpiresAt.UTC().Format(time.RFC3339),
	})
	return token, nil
}

// FindByToken returns the row for token, or nil when it does not exist.
func (m *PasswordResetTokenManager) FindByToken(ctx context.Context, token string) (*PasswordResetToken, error) {
	if !internal.ValidResetToken(token) {
		return nil, nil
	}
	return optional(m.store.FindResetToken(ctx, token))
}

// FindLatest returns the account's latest-expiring token, or nil.
func (m *PasswordResetTokenManager) FindLatest(ctx context.Context, accountID string) (*PasswordResetToken, error) {
	return optional(m.store.FindLatestResetToken(ctx, accountID))
}

// FindAllActive returns every token that has not yet expired.
func (m *PasswordResetTokenManager) FindAllActive(ctx context.Context) ([]*PasswordResetToken, error) {
	return m.store.ListActiveResetTokens(ctx, m.inst.clock())
}

// IsActive reports whether token exists and has not expired.
func (m *PasswordResetTokenManager) IsActive(ctx context.Context, token string) (bool, error) {
	t, err := m.FindByToken(ctx, token)
	if err != nil || t == nil {
		return false, err
	}
	return t.ActiveAt(m.inst.clock()), nil
}

// Redeemable returns the active token row for token, or ErrTokenInvalid.
func (m *PasswordResetTokenManager) Redeemable(ctx context.Context, token string) (*PasswordResetToken, error) {
	t, err := m.FindByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if !t.ActiveAt(m.inst.clock()) {
		return nil, ErrTokenInvalid
	}
	return t, nil
}

// Burn expires token by moving its expiry one day into the past. The row
// is kept for audit. Burning an inactive token is a no-op, so the first
// burn's expiry is preserved.
func (m *PasswordResetTokenManager) Burn(ctx context.Context, token *PasswordResetToken) error {
	now := m.inst.clock()
	if !token.ActiveAt(now) {
		return nil
	}
	token.ExpiresAt = now.Add(-burnOffset)
	if err := m.store.SaveResetToken(ctx, token); err != nil {
		return fmt.Errorf("burn reset token: %w", err)
	}
	m.inst.metricInc(MetricResetTokenBurned)
	return nil
}

// BurnLatest burns the account's latest token when it is still active and
// reports whether one was burned.
func (m *PasswordResetTokenManager) BurnLatest(ctx context.Context, accountID string) (bool, error) {
	t, err := m.FindLatest(ctx, accountID)
	if err != nil {
		return false, err
	}
	if !t.ActiveAt(m.inst.clock()) {
		return false, nil
	}
	return true, m.Burn(ctx, t)
}

// BurnAllActive burns every active token of accountID and reports how many
// were burned.
func (m *PasswordResetTokenManager) BurnAllActive(ctx context.Context, accountID string) (int, error) {
	active, err := m.FindAllActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active reset tokens: %w", err)
	}
	burned := 0
	for _, t := range active {
		if t.AccountID != accountID {
			continue
		}
		if err := m.Burn(ctx, t); err != nil {
			return burned, err
		}
		burned++
	}
	return burned, nil
}
