package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"identity-service/internal/client"
	"identity-service/internal/util"
)

const challengePrefix = "otp:"

// ErrChallengeNotFound means no live challenge exists for the email: either
// none was ever issued, or it expired, or it was already consumed. The cache
// cannot tell these apart and neither can callers.
var ErrChallengeNotFound = errors.New("no live challenge")

// ChallengeCache is the ephemeral store of live OTP challenges, keyed by
// email. It is the single authority on whether a code is still redeemable;
// expiry is enforced by Redis TTL, never by a sweep in this service.
type ChallengeCache struct {
	client *client.RedisClient
}

func NewChallengeCache(client *client.RedisClient) *ChallengeCache {
	return &ChallengeCache{client: client}
}

// SetCode stores code for email with the given TTL. The write atomically
// replaces any prior challenge for the email and resets its TTL
// (last-writer-wins), so concurrent issuances never leave a torn entry.
func (c *ChallengeCache) SetCode(ctx context.Context, email, code string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := challengePrefix + email
	if err := c.client.Set(ctx, key, code, ttl); err != nil {
		util.Error("Failed to set challenge in cache",
			zap.String("email", email),
			zap.Duration("ttl", ttl),
			zap.Error(err))
		return fmt.Errorf("failed to set challenge in cache: %w", err)
	}

	util.Debug("Challenge cached",
		zap.String("email", email),
		zap.Duration("ttl", ttl))

	return nil
}

// GetCode returns the live code for email, or ErrChallengeNotFound.
func (c *ChallengeCache) GetCode(ctx context.Context, email string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := challengePrefix + email

	code, err := c.client.Get(ctx, key)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return "", ErrChallengeNotFound
		}
		util.Error("Failed to get challenge from cache",
			zap.String("email", email),
			zap.Error(err))
		return "", fmt.Errorf("failed to get challenge from cache: %w", err)
	}

	return code, nil
}

// DeleteCode removes the live challenge for email. Deleting an absent key
// is a no-op.
func (c *ChallengeCache) DeleteCode(ctx context.Context, email string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := challengePrefix + email
	if err := c.client.Del(ctx, key); err != nil {
		util.Error("Failed to delete challenge from cache",
			zap.String("email", email),
			zap.Error(err))
		return fmt.Errorf("failed to delete challenge from cache: %w", err)
	}

	util.Debug("Challenge deleted from cache", zap.String("email", email))
	return nil
}

// GetCodeTTL returns the remaining TTL of the live challenge for email.
func (c *ChallengeCache) GetCodeTTL(ctx context.Context, email string) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	ttl, err := c.client.TTL(ctx, challengePrefix+email)
	if err != nil {
		return 0, fmt.Errorf("failed to get challenge TTL: %w", err)
	}
	return ttl, nil
}

// CountLive returns the number of currently live challenges.
func (c *ChallengeCache) CountLive(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	keys, err := c.client.Scan(ctx, challengePrefix+"*", 1000)
	if err != nil {
		return 0, fmt.Errorf("failed to scan challenge keys: %w", err)
	}
	return len(keys), nil
}
