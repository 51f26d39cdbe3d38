package goCred

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/goCred/password"
)

// savingCounter counts account writes reaching the store.
type savingCounter struct {
	*MemoryStore
	mu    sync.Mutex
	saves int
}

func (s *savingCounter) SaveAccount(ctx context.Context, a *Account) error {
	s.mu.Lock()
	s.saves++
	s.mu.Unlock()
	return s.MemoryStore.SaveAccount(ctx, a)
}

func (s *savingCounter) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func TestChangePasswordWrongCurrentLeavesHashUnchanged(t *testing.T) {
	te := newTestEngine(t, testConfig())
	ivy := te.seed(t, "ivy", "Correct-horse1")

	res, err := te.ChangePassword(context.Background(), ivy.ID, "not-my-Password1", "Brand-new-pass2", "Brand-new-pass2")
	require.NoError(t, err)
	assert.Equal(t, []ViolationReason{password.ReasonCurrentPasswordIncorrect}, res.Violations)
	assert.False(t, res.OK())

	assert.Equal(t, "plain:Correct-horse1", te.account(t, ivy.ID).PasswordHash)
}

func TestChangePasswordCollectsEveryViolation(t *testing.T) {
	te := newTestEngine(t, testConfig())
	jack := te.seed(t, "jack", "Correct-horse1")

	res, err := te.ChangePassword(context.Background(), jack.ID, "Correct-horse1", "jack", "jackx")
	require.NoError(t, err)
	assert.Equal(t, []ViolationReason{
		password.ReasonConfirmMismatch,
		password.ReasonContainsUsername,
		password.ReasonTooShort,
		password.ReasonInsufficientDigit,
		password.ReasonInsufficientCharacteristics,
	}, res.Violations)
}

func TestChangePasswordRejectsReuse(t *testing.T) {
	te := newTestEngine(t, testConfig())
	kim := te.seed(t, "kim", "Correct-horse1")

	res, err := te.ChangePassword(context.Background(), kim.ID, "Correct-horse1", "Correct-horse1", "Correct-horse1")
	require.NoError(t, err)
	assert.Equal(t, []ViolationReason{password.ReasonMustNotReuseCurrent}, res.Violations)
}

func TestChangePasswordSuccessBurnsActiveResetToken(t *testing.T) {
	te := newTestEngine(t, testConfig())
	lee := te.seed(t, "lee", "Correct-horse1", func(a *Account) { a.ConsecutiveFailures = 3 })
	ctx := context.Background()

	token, err := te.ResetTokens().Issue(ctx, lee, time.Hour)
	require.NoError(t, err)

	res, err := te.ChangePassword(ctx, lee.ID, "Correct-horse1", "Brand-new-pass2", "Brand-new-pass2")
	require.NoError(t, err)
	require.True(t, res.OK())

	stored := te.account(t, lee.ID)
	assert.Equal(t, "plain:Brand-new-pass2", stored.PasswordHash)
	assert.Zero(t, stored.ConsecutiveFailures)
	require.NotNil(t, stored.CredentialsExpireAt)
	assert.Equal(t, te.clock.Now().Add(te.Config().Password.CredentialsExpirationPeriod), *stored.CredentialsExpireAt)

	active, err := te.ResetTokens().IsActive(ctx, token.Token)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestChangePasswordBurnsEveryActiveResetToken(t *testing.T) {
	te := newTestEngine(t, testConfig())
	lou := te.seed(t, "lou", "Correct-horse1")
	other := te.seed(t, "other", "Correct-horse1")
	ctx := context.Background()

	older, err := te.ResetTokens().Issue(ctx, lou, time.Hour)
	require.NoError(t, err)
	te.clock.Advance(time.Minute)
	newer, err := te.ResetTokens().Issue(ctx, lou, time.Hour)
	require.NoError(t, err)
	kept, err := te.ResetTokens().Issue(ctx, other, time.Hour)
	require.NoError(t, err)

	res, err := te.ChangePassword(ctx, lou.ID, "Correct-horse1", "Brand-new-pass2", "Brand-new-pass2")
	require.NoError(t, err)
	require.True(t, res.OK())

	for _, tok := range []string{older.Token, newer.Token} {
		active, err := te.ResetTokens().IsActive(ctx, tok)
		require.NoError(t, err)
		assert.False(t, active, tok)
	}
	active, err := te.ResetTokens().IsActive(ctx, kept.Token)
	require.NoError(t, err)
	assert.True(t, active, "another account's token must survive")

	_, err = te.ResetPassword(ctx, older.Token, "Another-pass3", "Another-pass3")
	require.ErrorIs(t, err, ErrTokenInvalid)
	assert.Equal(t, "plain:Brand-new-pass2", te.account(t, lou.ID).PasswordHash)
}

func TestChangePasswordExternalAccount(t *testing.T) {
	te := newTestEngine(t, testConfig())
	ext := te.seed(t, "ext", "", func(a *Account) { a.AuthMethod = AuthSAML })

	_, err := te.ChangePassword(context.Background(), ext.ID, "x", "Brand-new-pass2", "Brand-new-pass2")
	require.ErrorIs(t, err, ErrNotTableBased)
}

func TestResetPasswordExpiredTokenWritesNothing(t *testing.T) {
	counter := &savingCounter{}
	te := newTestEngine(t, testConfig(), withStoreWrapper(func(s *MemoryStore) CredentialStore {
		counter.MemoryStore = s
		return counter
	}))
	mia := te.seed(t, "mia", "Correct-horse1")
	ctx := context.Background()

	token, err := te.ResetTokens().Issue(ctx, mia, 30*time.Minute)
	require.NoError(t, err)
	expiry := token.ExpiresAt

	te.clock.Advance(31 * time.Minute)
	savesBefore := counter.Saves()

	_, err = te.ResetPassword(ctx, token.Token, "Brand-new-pass2", "Brand-new-pass2")
	require.ErrorIs(t, err, ErrTokenInvalid)
	assert.Equal(t, "The password reset link is invalid or has expired.", err.Error())

	assert.Equal(t, savesBefore, counter.Saves())
	stored, err := te.store.FindResetToken(ctx, token.Token)
	require.NoError(t, err)
	assert.Equal(t, expiry, stored.ExpiresAt)
	assert.Equal(t, "plain:Correct-horse1", te.account(t, mia.ID).PasswordHash)
}

func TestResetPasswordUnknownToken(t *testing.T) {
	te := newTestEngine(t, testConfig())

	_, err := te.ResetPassword(context.Background(), "definitely-not-a-token", "Brand-new-pass2", "Brand-new-pass2")
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestResetPasswordSuccessBurnsTokenAndConfirms(t *testing.T) {
	mailer := &recordingMailer{}
	cfg := testConfig()
	cfg.Email.DryRun = false
	cfg.Email.From = "noreply@example.test"
	te := newTestEngine(t, cfg, withMailer(mailer))
	ned := te.seed(t, "ned", "Correct-horse1", func(a *Account) { a.Locked = false })
	ctx := context.Background()

	token, err := te.ResetTokens().Issue(ctx, ned, time.Hour)
	require.NoError(t, err)

	// reset skips the current-password check but not reuse
	res, err := te.ResetPassword(ctx, token.Token, "Correct-horse1", "Correct-horse1")
	require.NoError(t, err)
	assert.Equal(t, []ViolationReason{password.ReasonMustNotReuseCurrent}, res.Violations)

	res, err = te.ResetPassword(ctx, token.Token, "Brand-new-pass2", "Brand-new-pass2")
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Equal(t, "plain:Brand-new-pass2", te.account(t, ned.ID).PasswordHash)

	_, err = te.ResetPassword(ctx, token.Token, "Another-pass3", "Another-pass3")
	require.ErrorIs(t, err, ErrTokenInvalid)

	sent := mailer.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "Your goCred password was reset", sent[0].Subject)
	assert.Equal(t, ned.Email, sent[0].To)
	assert.Contains(t, sent[0].Body, "https://cred.example.test/login")
}

func TestRequestPasswordResetReplacesActiveToken(t *testing.T) {
	mailer := &recordingMailer{}
	cfg := testConfig()
	cfg.Email.DryRun = false
	te := newTestEngine(t, cfg, withMailer(mailer))
	olga := te.seed(t, "olga", "Correct-horse1")
	ctx := context.Background()

	require.NoError(t, te.RequestPasswordReset(ctx, olga.Email))
	first, err := te.ResetTokens().FindLatest(ctx, olga.ID)
	require.NoError(t, err)
	require.NotNil(t, first)

	te.clock.Advance(time.Minute)
	require.NoError(t, te.RequestPasswordReset(ctx, olga.Email))

	active, err := te.ResetTokens().FindAllActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.NotEqual(t, first.Token, active[0].Token)

	sent := mailer.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "Password reset request for goCred", sent[1].Subject)
	assert.Contains(t, sent[1].Body, "/user/password/reset?token="+active[0].Token)

	// unknown addresses are not reported
	require.NoError(t, te.RequestPasswordReset(ctx, "nobody@example.test"))
	assert.Len(t, mailer.Sent(), 2)
}

func TestRequestPasswordResetThrottled(t *testing.T) {
	mailer := &recordingMailer{}
	cfg := testConfig()
	cfg.Email.DryRun = false
	cfg.PasswordReset.MaxRequests = 2
	cfg.PasswordReset.RequestWindow = 10 * time.Minute
	te := newTestEngine(t, cfg, withMailer(mailer))
	sam := te.seed(t, "sam", "Correct-horse1")
	ctx := context.Background()

	require.NoError(t, te.RequestPasswordReset(ctx, sam.Email))
	require.NoError(t, te.RequestPasswordReset(ctx, " "+sam.Email))
	err := te.RequestPasswordReset(ctx, sam.Email)
	require.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, "Too many password reset requests. Please try again later.", ErrorMessage(err))
	assert.Len(t, mailer.Sent(), 2)
	assert.Equal(t, 1, te.logs.FilterMessage("password reset request throttled").Len())

	te.clock.Advance(10 * time.Minute)
	require.NoError(t, te.RequestPasswordReset(ctx, sam.Email))
	assert.Len(t, mailer.Sent(), 3)
}

func TestRequestPasswordResetThrottleDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.PasswordReset.MaxRequests = 0
	te := newTestEngine(t, cfg)
	tia := te.seed(t, "tia", "Correct-horse1")

	for i := 0; i < 10; i++ {
		require.NoError(t, te.RequestPasswordReset(context.Background(), tia.Email))
	}
}

func TestRequestPasswordResetRefusedForLockedOrDirectoryAccounts(t *testing.T) {
	te := newTestEngine(t, testConfig())
	locked := te.seed(t, "pia", "Correct-horse1", func(a *Account) { a.Locked = true })
	ldap := te.seed(t, "quinn", "", func(a *Account) { a.AuthMethod = AuthLDAP })

	assert.False(t, te.Credentials().CanResetPassword(locked))
	assert.False(t, te.Credentials().CanResetPassword(ldap))

	err := te.RequestPasswordReset(context.Background(), locked.Email)
	require.ErrorIs(t, err, ErrUserManagement)
}

func TestInviteAccountSendsWelcome(t *testing.T) {
	mailer := &recordingMailer{}
	cfg := testConfig()
	cfg.Email.DryRun = false
	te := newTestEngine(t, cfg, withMailer(mailer))
	rey := te.seed(t, "rey", "")

	require.NoError(t, te.InviteAccount(context.Background(), rey.ID))
	sent := mailer.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "Welcome to goCred", sent[0].Subject)
	assert.Contains(t, sent[0].Body, "Your username is rey.")
}

func TestGenerateTemporaryPasswordForcesChange(t *testing.T) {
	cfg := testConfig()
	cfg.PasswordGeneration.Enabled = true
	te := newTestEngine(t, cfg)
	sam := te.seed(t, "sam", "Correct-horse1")
	ctx := context.Background()

	plain, err := te.GenerateTemporaryPassword(ctx, sam.ID)
	require.NoError(t, err)
	require.NotEmpty(t, plain)

	stored := te.account(t, sam.ID)
	assert.Equal(t, "plain:"+plain, stored.PasswordHash)
	assert.True(t, stored.CredentialsExpired)

	res, err := te.Login(ctx, "sam", plain)
	require.ErrorIs(t, err, ErrCredentialsExpired)
	assert.True(t, res.PasswordChangeRequired)
}

func TestGenerateTemporaryPasswordDisabled(t *testing.T) {
	te := newTestEngine(t, testConfig())
	tom := te.seed(t, "tom", "Correct-horse1")

	_, err := te.GenerateTemporaryPassword(context.Background(), tom.ID)
	require.ErrorIs(t, err, ErrPasswordGenerationDisabled)

	_, err = te.GeneratePassphrase()
	require.ErrorIs(t, err, ErrPasswordGenerationDisabled)
}

// Generated passphrases in the default format always satisfy the policy,
// including for an account whose username is a dictionary-length word.
func TestGeneratedPassphrasesPassPolicy(t *testing.T) {
	cfg := testConfig()
	cfg.PasswordGeneration.Enabled = true
	te := newTestEngine(t, cfg)
	account := &Account{Username: "operator.one", AuthMethod: AuthTableBased}

	for i := 0; i < 1000; i++ {
		p, err := te.GeneratePassphrase()
		require.NoError(t, err)
		if reasons := te.ValidatePassword(p, account, nil); len(reasons) > 0 {
			t.Fatalf("generated %q violates %v", p, reasons)
		}
	}
}

func TestSaveAccountRules(t *testing.T) {
	te := newTestEngine(t, testConfig())
	uma := te.seed(t, "uma", "Correct-horse1")
	ctx := context.Background()

	_, _, err := te.SaveAccount(ctx, &Account{Username: "other", Email: uma.Email, Enabled: true}, "")
	require.ErrorIs(t, err, ErrDuplicateEmail)

	_, _, err = te.SaveAccount(ctx, &Account{Username: "x@example.test", Enabled: true}, "")
	require.ErrorIs(t, err, ErrInvalidUsername)

	_, _, err = te.SaveAccount(ctx, &Account{Username: "uma", Enabled: true}, "")
	require.ErrorIs(t, err, ErrUserManagement)

	saved, reasons, err := te.SaveAccount(ctx, &Account{Username: "vic", Enabled: true}, "vic")
	require.NoError(t, err)
	assert.Contains(t, reasons, password.ReasonContainsUsername)
	assert.Contains(t, reasons, password.ReasonTooShort)
	require.NotNil(t, saved)
	assert.Empty(t, saved.ID)

	saved, reasons, err = te.SaveAccount(ctx, &Account{Username: "vic", Email: "vic@example.test", Enabled: true}, "Brand-new-pass2")
	require.NoError(t, err)
	require.Empty(t, reasons)
	require.NotEmpty(t, saved.ID)
	assert.Equal(t, AuthTableBased, saved.AuthMethod)

	// editing without a password keeps the stored hash
	edit := &Account{ID: saved.ID, Username: "vic", Email: "vic@example.test", FirstName: "Victor", Enabled: true}
	_, _, err = te.SaveAccount(ctx, edit, "")
	require.NoError(t, err)
	stored := te.account(t, saved.ID)
	assert.Equal(t, "Victor", stored.FirstName)
	assert.Equal(t, "plain:Brand-new-pass2", stored.PasswordHash)
}

func TestSaveAccountEmailStyle(t *testing.T) {
	cfg := testConfig()
	cfg.Authentication.UsernameStyle = UsernameEmail
	te := newTestEngine(t, cfg)

	_, _, err := te.SaveAccount(context.Background(), &Account{Username: "plainname", Enabled: true}, "")
	require.ErrorIs(t, err, ErrInvalidUsername)

	saved, _, err := te.SaveAccount(context.Background(), &Account{Username: "wes@example.test", Enabled: true}, "")
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)
}

func TestSaveAccountEmailRequired(t *testing.T) {
	cfg := testConfig()
	cfg.Email.Required = true
	te := newTestEngine(t, cfg)

	_, _, err := te.SaveAccount(context.Background(), &Account{Username: "xena", Enabled: true}, "")
	require.ErrorIs(t, err, ErrUserManagement)
	assert.Equal(t, "An email address is required.", err.Error())
}

type brokenAccountStore struct {
	*MemoryStore
}

func (brokenAccountStore) FindAccountByID(context.Context, string) (*Account, error) {
	return nil, errors.New("pq: connection reset by peer")
}

func TestUnexpectedFailureBecomesGenericMessage(t *testing.T) {
	te := newTestEngine(t, testConfig(), withStoreWrapper(func(s *MemoryStore) CredentialStore {
		return brokenAccountStore{s}
	}))

	_, err := te.ChangePassword(context.Background(), "any", "a", "b", "b")
	require.Error(t, err)
	assert.Equal(t, GenericErrorMessage, err.Error())
	assert.False(t, strings.Contains(err.Error(), "pq:"))

	entries := te.logs.FilterMessage("unexpected failure").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "change password: load account", entries[0].ContextMap()["op"])
}

func TestUnlockAccount(t *testing.T) {
	te := newTestEngine(t, testConfig())
	yan := te.seed(t, "yan", "Correct-horse1", func(a *Account) {
		a.Locked = true
		a.ConsecutiveFailures = 7
	})

	unlocked, err := te.UnlockAccount(context.Background(), yan.ID)
	require.NoError(t, err)
	assert.False(t, unlocked.Locked)
	assert.Zero(t, te.account(t, yan.ID).ConsecutiveFailures)

	_, err = te.Login(context.Background(), "yan", "Correct-horse1")
	require.NoError(t, err)
}

func TestIncrementFailedAttemptsUnknownUser(t *testing.T) {
	te := newTestEngine(t, testConfig())

	a, err := te.Credentials().IncrementFailedAttempts(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, a)
}
