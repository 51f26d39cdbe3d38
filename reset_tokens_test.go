package goCred

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResetTokenActiveIffStrictlyBeforeExpiry(t *testing.T) {
	te := newTestEngine(t, testConfig())
	acct := te.seed(t, "dan", "Correct-horse1")
	ctx := context.Background()

	token, err := te.ResetTokens().Issue(ctx, acct, 10*time.Minute)
	require.NoError(t, err)
	assert.Len(t, token.Token, 22)

	active, err := te.ResetTokens().IsActive(ctx, token.Token)
	require.NoError(t, err)
	assert.True(t, active)

	te.clock.Advance(10*time.Minute - time.Nanosecond)
	active, err = te.ResetTokens().IsActive(ctx, token.Token)
	require.NoError(t, err)
	assert.True(t, active)

	te.clock.Advance(time.Nanosecond)
	active, err = te.ResetTokens().IsActive(ctx, token.Token)
	require.NoError(t, err)
	assert.False(t, active, "token must be inactive at exactly its expiry")
}

func TestResetTokenBurnIsImmediateAndIdempotent(t *testing.T) {
	te := newTestEngine(t, testConfig())
	acct := te.seed(t, "eve", "Correct-horse1")
	ctx := context.Background()
	mgr := te.ResetTokens()

	token, err := mgr.Issue(ctx, acct, time.Hour)
	require.NoError(t, err)

	require.NoError(t, mgr.Burn(ctx, token))
	burnedAt := te.clock.Now().Add(-24 * time.Hour)

	stored, err := mgr.FindByToken(ctx, token.Token)
	require.NoError(t, err)
	assert.Equal(t, burnedAt, stored.ExpiresAt)

	te.clock.Advance(5 * time.Minute)
	require.NoError(t, mgr.Burn(ctx, stored))

	again, err := mgr.FindByToken(ctx, token.Token)
	require.NoError(t, err)
	assert.Equal(t, burnedAt, again.ExpiresAt)

	active, err := mgr.IsActive(ctx, token.Token)
	require.NoError(t, err)
	assert.False(t, active)

	_, err = mgr.Redeemable(ctx, token.Token)
	require.ErrorIs(t, err, ErrTokenInvalid)

	assert.Equal(t, uint64(1), te.MetricsSnapshot().Counters[MetricResetTokenBurned])
}

func TestResetTokenLookupsReturnNilWhenMissing(t *testing.T) {
	te := newTestEngine(t, testConfig())
	ctx := context.Background()

	tok, err := te.ResetTokens().FindByToken(ctx, "AAAAAAAAAAAAAAAAAAAAAA")
	require.NoError(t, err)
	assert.Nil(t, tok)

	tok, err = te.ResetTokens().FindByToken(ctx, "not hex")
	require.NoError(t, err)
	assert.Nil(t, tok)

	tok, err = te.ResetTokens().FindLatest(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, tok)

	burned, err := te.ResetTokens().BurnLatest(ctx, "nobody")
	require.NoError(t, err)
	assert.False(t, burned)
}

func TestResetTokenFindAllActiveOrdering(t *testing.T) {
	te := newTestEngine(t, testConfig())
	a := te.seed(t, "fay", "Correct-horse1")
	b := te.seed(t, "gus", "Correct-horse1")
	ctx := context.Background()
	mgr := te.ResetTokens()

	short, err := mgr.Issue(ctx, a, 5*time.Minute)
	require.NoError(t, err)
	long, err := mgr.Issue(ctx, b, time.Hour)
	require.NoError(t, err)

	active, err := mgr.FindAllActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, long.Token, active[0].Token)
	assert.Equal(t, short.Token, active[1].Token)

	te.clock.Advance(6 * time.Minute)
	active, err = mgr.FindAllActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, long.Token, active[0].Token)
}

func TestResetTokenIssueRejectsUnsavedAccount(t *testing.T) {
	te := newTestEngine(t, testConfig())

	_, err := te.ResetTokens().Issue(context.Background(), &Account{Username: "x"}, time.Hour)
	require.Error(t, err)
	_, err = te.ResetTokens().Issue(context.Background(), te.seed(t, "hal", ""), 0)
	require.Error(t, err)
}
