package sqlstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	goCred "github.com/MrEthical07/goCred"
	"github.com/MrEthical07/goCred/password"
)

var epoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(context.Background(), DriverSQLite, ":memory:", WithNow(func() time.Time { return epoch }))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newTestStore(t)

	applied, err := s.MigrateVersions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, applied)

	migrations, err := loadMigrations(DriverPostgres)
	require.NoError(t, err)
	require.NotEmpty(t, migrations)
	assert.Equal(t, "0001_init", migrations[0].version)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "dsn")
	require.Error(t, err)
}

func TestAccountRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	expires := epoch.Add(90 * 24 * time.Hour)
	a := &goCred.Account{
		Username:            "ann",
		Email:               "ann@example.test",
		FirstName:           "Ann",
		Enabled:             true,
		AuthMethod:          goCred.AuthTableBased,
		PasswordHash:        "hash",
		CredentialsExpireAt: &expires,
		Roles:               []string{"editor", "admin"},
	}
	require.NoError(t, s.SaveAccount(ctx, a))
	require.NotEmpty(t, a.ID)

	got, err := s.FindAccountByUsername(ctx, "ann")
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, "ann@example.test", got.Email)
	assert.True(t, got.Enabled)
	assert.Equal(t, goCred.AuthTableBased, got.AuthMethod)
	require.NotNil(t, got.CredentialsExpireAt)
	assert.True(t, expires.Equal(*got.CredentialsExpireAt))
	assert.Nil(t, got.AccountExpiresAt)
	assert.Equal(t, []string{"admin", "editor"}, got.Roles)
	assert.True(t, epoch.Equal(got.CreatedAt))

	got.Locked = true
	got.Roles = []string{"viewer"}
	require.NoError(t, s.SaveAccount(ctx, got))

	again, err := s.FindAccountByEmail(ctx, "ann@example.test")
	require.NoError(t, err)
	assert.True(t, again.Locked)
	assert.Equal(t, []string{"viewer"}, again.Roles)

	_, err = s.FindAccountByEmail(ctx, "")
	require.ErrorIs(t, err, goCred.ErrNotFound)
	_, err = s.FindAccountByID(ctx, "missing")
	require.ErrorIs(t, err, goCred.ErrNotFound)
}

func TestAccountsWithoutEmailDoNotConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveAccount(ctx, &goCred.Account{Username: "bo", AuthMethod: goCred.AuthLDAP}))
	require.NoError(t, s.SaveAccount(ctx, &goCred.Account{Username: "al", AuthMethod: goCred.AuthLDAP}))

	all, err := s.ListAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "al", all[0].Username)
	assert.Equal(t, "bo", all[1].Username)
}

func TestUniqueViolationsAreConflicts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveAccount(ctx, &goCred.Account{Username: "cy", Email: "cy@example.test", AuthMethod: goCred.AuthTableBased}))

	err := s.SaveAccount(ctx, &goCred.Account{Username: "cy", AuthMethod: goCred.AuthTableBased})
	require.ErrorIs(t, err, ErrConflict)

	err = s.SaveAccount(ctx, &goCred.Account{Username: "cyrus", Email: "cy@example.test", AuthMethod: goCred.AuthTableBased})
	require.ErrorIs(t, err, ErrConflict)
}

func TestDeleteAccountCascadesRoles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := &goCred.Account{Username: "dee", AuthMethod: goCred.AuthTableBased, Roles: []string{"admin"}}
	require.NoError(t, s.SaveAccount(ctx, a))
	require.NoError(t, s.DeleteAccount(ctx, a.ID))
	require.ErrorIs(t, s.DeleteAccount(ctx, a.ID), goCred.ErrNotFound)

	roles, err := s.roles(ctx, s.db, a.ID)
	require.NoError(t, err)
	assert.Empty(t, roles)
}

func TestIncrementFailuresLocksAtMax(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := &goCred.Account{Username: "eve", Enabled: true, AuthMethod: goCred.AuthTableBased}
	require.NoError(t, s.SaveAccount(ctx, a))

	for i := 1; i <= 2; i++ {
		updated, err := s.IncrementFailures(ctx, a.ID, 3)
		require.NoError(t, err)
		assert.Equal(t, i, updated.ConsecutiveFailures)
		assert.False(t, updated.Locked)
	}
	updated, err := s.IncrementFailures(ctx, a.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, updated.ConsecutiveFailures)
	assert.True(t, updated.Locked)

	_, err = s.IncrementFailures(ctx, "missing", 3)
	require.ErrorIs(t, err, goCred.ErrNotFound)
}

func TestLoginAttemptQueries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rows := []*goCred.LoginAttempt{
		{Username: "fay", AttemptedAt: epoch, Success: true, IPAddress: "10.0.0.1"},
		{Username: "fay", AttemptedAt: epoch.Add(time.Minute), ErrorType: "BadCredentials", ErrorMessage: "Bad credentials"},
		{Username: "fay", AttemptedAt: epoch.Add(time.Minute), Success: true, IPAddress: "10.0.0.2"},
		{Username: "gus", AttemptedAt: epoch.Add(2 * time.Minute), ErrorType: "BadCredentials"},
	}
	for _, r := range rows {
		require.NoError(t, s.AppendLoginAttempt(ctx, r))
	}

	ok, err := s.MostRecentSuccess(ctx, "fay")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2", ok.IPAddress, "later appends win ties")

	failed, err := s.MostRecentFailureOfType(ctx, "BadCredentials")
	require.NoError(t, err)
	assert.Equal(t, "gus", failed.Username)
	assert.True(t, epoch.Add(2*time.Minute).Equal(failed.AttemptedAt))

	_, err = s.MostRecentSuccess(ctx, "gus")
	require.ErrorIs(t, err, goCred.ErrNotFound)

	history, err := s.ListLoginAttempts(ctx, "fay")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "10.0.0.2", history[0].IPAddress)
	assert.Equal(t, "10.0.0.1", history[2].IPAddress)
}

func TestResetTokenQueries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	early := &goCred.PasswordResetToken{Token: "tok-early", AccountID: "acct-1", ExpiresAt: epoch.Add(10 * time.Minute)}
	late := &goCred.PasswordResetToken{Token: "tok-late", AccountID: "acct-1", ExpiresAt: epoch.Add(time.Hour)}
	other := &goCred.PasswordResetToken{Token: "tok-other", AccountID: "acct-2", ExpiresAt: epoch.Add(30 * time.Minute)}
	for _, tok := range []*goCred.PasswordResetToken{early, late, other} {
		require.NoError(t, s.SaveResetToken(ctx, tok))
	}

	latest, err := s.FindLatestResetToken(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "tok-late", latest.Token)

	active, err := s.ListActiveResetTokens(ctx, epoch.Add(10*time.Minute))
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "tok-late", active[0].Token)
	assert.Equal(t, "tok-other", active[1].Token)

	late.ExpiresAt = epoch.Add(-24 * time.Hour)
	require.NoError(t, s.SaveResetToken(ctx, late))

	stored, err := s.FindResetToken(ctx, "tok-late")
	require.NoError(t, err)
	assert.Equal(t, late.ID, stored.ID)
	assert.True(t, late.ExpiresAt.Equal(stored.ExpiresAt))

	latest, err = s.FindLatestResetToken(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "tok-early", latest.Token)

	_, err = s.FindResetToken(ctx, "absent")
	require.ErrorIs(t, err, goCred.ErrNotFound)
}

func TestSessionEventsOncePerKind(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	acct := "acct-1"

	first := &goCred.SessionEvent{SessionID: "sess-1", Kind: goCred.SessionLogin, AccountID: &acct, OccurredAt: epoch}
	written, err := s.AppendSessionEventOnce(ctx, first)
	require.NoError(t, err)
	assert.True(t, written)

	written, err = s.AppendSessionEventOnce(ctx, &goCred.SessionEvent{SessionID: "sess-1", Kind: goCred.SessionLogin, OccurredAt: epoch})
	require.NoError(t, err)
	assert.False(t, written)

	require.NoError(t, s.AppendSessionEvent(ctx, &goCred.SessionEvent{SessionID: "sess-1", Kind: goCred.SessionLogout, OccurredAt: epoch.Add(time.Hour)}))
	require.NoError(t, s.AppendSessionEvent(ctx, &goCred.SessionEvent{SessionID: "sess-1", Kind: goCred.SessionLogout, OccurredAt: epoch.Add(2 * time.Hour)}))

	found, err := s.FindSessionEvent(ctx, "sess-1", goCred.SessionLogin)
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)
	assert.Equal(t, acct, *found.AccountID)

	logout, err := s.FindSessionEvent(ctx, "sess-1", goCred.SessionLogout)
	require.NoError(t, err)
	assert.True(t, epoch.Add(time.Hour).Equal(logout.OccurredAt))
	assert.Nil(t, logout.AccountID)

	events, err := s.SessionEvents(ctx, "sess-1")
	require.NoError(t, err)
	assert.Len(t, events, 3)

	_, err = s.FindSessionEvent(ctx, "sess-2", goCred.SessionLogin)
	require.ErrorIs(t, err, goCred.ErrNotFound)
}

func TestSessionEventsConcurrentOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	written := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.AppendSessionEventOnce(ctx, &goCred.SessionEvent{SessionID: "sess-race", Kind: goCred.SessionLogin, OccurredAt: epoch})
			if err == nil && ok {
				mu.Lock()
				written++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, written)
}

func TestEngineOverSQLResetFlow(t *testing.T) {
	s := newTestStore(t)
	now := epoch

	hasher, err := password.NewBcrypt(4)
	require.NoError(t, err)

	cfg := goCred.DefaultConfig()
	cfg.Email.DryRun = true
	cfg.Email.Required = false

	engine, err := goCred.New().
		WithConfig(cfg).
		WithStore(s).
		WithHasher(hasher).
		WithNow(func() time.Time { return now }).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	ctx := context.Background()
	acct, violations, err := engine.SaveAccount(ctx, &goCred.Account{
		Username:   "hal",
		Email:      "hal@example.test",
		Enabled:    true,
		AuthMethod: goCred.AuthTableBased,
	}, "Correct-horse1")
	require.NoError(t, err)
	require.Empty(t, violations)

	require.NoError(t, engine.RequestPasswordReset(ctx, "hal@example.test"))
	token, err := s.FindLatestResetToken(ctx, acct.ID)
	require.NoError(t, err)

	res, err := engine.ResetPassword(ctx, token.Token, "Battery-staple7", "Battery-staple7")
	require.NoError(t, err)
	require.Empty(t, res.Violations)

	burned, err := s.FindResetToken(ctx, token.Token)
	require.NoError(t, err)
	assert.False(t, burned.ActiveAt(now))

	_, err = engine.Login(ctx, "hal", "Battery-staple7")
	require.NoError(t, err)
	_, err = engine.Login(ctx, "hal", "Correct-horse1")
	require.ErrorIs(t, err, goCred.ErrBadCredentials)
}
