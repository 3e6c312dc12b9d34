// Package auth issues the access tokens behind shareable read-only segment
// links. Tokens are short-lived, single-use, and scoped to one segment id.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultTokenTTL is the share-token lifetime when none is configured.
const DefaultTokenTTL = 15 * time.Minute

// ErrTokenInvalid means the token is unknown, expired, or already redeemed.
var ErrTokenInvalid = errors.New("share token invalid or expired")

// ShareTokens mints and redeems single-use segment access tokens in Redis.
type ShareTokens struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewShareTokens creates an issuer. ttl <= 0 falls back to DefaultTokenTTL.
func NewShareTokens(rdb *redis.Client, ttl time.Duration) *ShareTokens {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &ShareTokens{rdb: rdb, ttl: ttl}
}

func tokenKey(token string) string {
	return fmt.Sprintf("share:token:%s", token)
}

// Issue mints a token scoped to the given segment id.
func (t *ShareTokens) Issue(ctx context.Context, segmentID string) (string, error) {
	token := uuid.NewString()
	if err := t.rdb.Set(ctx, tokenKey(token), segmentID, t.ttl).Err(); err != nil {
		return "", fmt.Errorf("store share token: %w", err)
	}
	return token, nil
}

// Redeem consumes a token and returns the segment id it was scoped to. A
// second redemption of the same token fails: the read deletes the key.
func (t *ShareTokens) Redeem(ctx context.Context, token string) (string, error) {
	segmentID, err := t.rdb.GetDel(ctx, tokenKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrTokenInvalid
	}
	if err != nil {
		return "", fmt.Errorf("redeem share token: %w", err)
	}
	return segmentID, nil
}
