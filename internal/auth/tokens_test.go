package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTokens(t *testing.T, ttl time.Duration) (*ShareTokens, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewShareTokens(rdb, ttl), mr
}

func TestShareTokens_IssueAndRedeem(t *testing.T) {
	tokens, _ := newTestTokens(t, time.Minute)
	ctx := context.Background()

	token, err := tokens.Issue(ctx, "seg-123")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	segmentID, err := tokens.Redeem(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "seg-123", segmentID)
}

func TestShareTokens_SingleUse(t *testing.T) {
	tokens, _ := newTestTokens(t, time.Minute)
	ctx := context.Background()

	token, err := tokens.Issue(ctx, "seg-123")
	require.NoError(t, err)

	_, err = tokens.Redeem(ctx, token)
	require.NoError(t, err)

	_, err = tokens.Redeem(ctx, token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestShareTokens_UnknownToken(t *testing.T) {
	tokens, _ := newTestTokens(t, time.Minute)
	_, err := tokens.Redeem(context.Background(), "never-issued")
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestShareTokens_Expiry(t *testing.T) {
	tokens, mr := newTestTokens(t, time.Minute)
	ctx := context.Background()

	token, err := tokens.Issue(ctx, "seg-123")
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	_, err = tokens.Redeem(ctx, token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestShareTokens_DefaultTTL(t *testing.T) {
	tokens, mr := newTestTokens(t, 0)
	ctx := context.Background()

	token, err := tokens.Issue(ctx, "seg-123")
	require.NoError(t, err)

	ttl := mr.TTL(tokenKey(token))
	assert.Equal(t, DefaultTokenTTL, ttl)
}

func TestShareTokens_Unique(t *testing.T) {
	tokens, _ := newTestTokens(t, time.Minute)
	ctx := context.Background()

	a, err := tokens.Issue(ctx, "seg-1")
	require.NoError(t, err)
	b, err := tokens.Issue(ctx, "seg-2")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
