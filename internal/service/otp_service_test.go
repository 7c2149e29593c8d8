package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"identity-service/internal/client"
	"identity-service/internal/models"
	redisrepo "identity-service/internal/repository/redis"
)

type otpFixture struct {
	svc      *OTPService
	cache    *redisrepo.ChallengeCache
	audit    *memAuditRepo
	notifier *recordingNotifier
	mr       *miniredis.Miniredis
}

func newOTPFixture(t *testing.T) *otpFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	rc := client.NewRedisClientFromExisting(goredis.NewClient(&goredis.Options{
		Addr: mr.Addr(),
	}))
	t.Cleanup(func() { _ = rc.Close() })

	cache := redisrepo.NewChallengeCache(rc)
	audit := newMemAuditRepo()
	notifier := &recordingNotifier{}

	return &otpFixture{
		svc:      NewOTPService(cache, audit, notifier, 4, 3*time.Minute),
		cache:    cache,
		audit:    audit,
		notifier: notifier,
		mr:       mr,
	}
}

func testAccount(email string) *models.Account {
	return &models.Account{
		AccountBucket: 7,
		AccountID:     uuid.New().String(),
		Email:         email,
		Role:          models.RoleEmployee,
	}
}

func TestIssueCachesAuditsAndDelivers(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()
	account := testAccount("user@example.test")

	code, err := f.svc.Issue(ctx, account, models.PurposeSignup)
	require.NoError(t, err)
	assert.Len(t, code, 4)
	assert.Regexp(t, `^\d{4}$`, code)

	cached, err := f.cache.GetCode(ctx, account.Email)
	require.NoError(t, err)
	assert.Equal(t, code, cached)

	records, err := f.audit.ListByAccount(ctx, account)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, code, records[0].Code)
	assert.Equal(t, models.PurposeSignup, records[0].Purpose)
	assert.False(t, records[0].Consumed)

	delivered := f.notifier.delivered()
	require.Len(t, delivered, 1)
	assert.Equal(t, account.Email, delivered[0].Email)
	assert.Equal(t, code, delivered[0].Code)
}

func TestIssueReplacesLiveChallenge(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()
	account := testAccount("user@example.test")

	first, err := f.svc.Issue(ctx, account, models.PurposeSignup)
	require.NoError(t, err)
	second, err := f.svc.Issue(ctx, account, models.PurposeSignup)
	require.NoError(t, err)

	cached, err := f.cache.GetCode(ctx, account.Email)
	require.NoError(t, err)
	assert.Equal(t, second, cached)

	// The superseded code no longer redeems, but its trail row remains.
	if first != second {
		assert.ErrorIs(t, f.svc.Verify(ctx, account, first), ErrOTPMismatch)
	}
	records, err := f.audit.ListByAccount(ctx, account)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestIssueSurvivesDeliveryFailure(t *testing.T) {
	f := newOTPFixture(t)
	svc := NewOTPService(f.cache, f.audit, failingNotifier{err: assert.AnError}, 4, 3*time.Minute)
	ctx := context.Background()
	account := testAccount("user@example.test")

	code, err := svc.Issue(ctx, account, models.PurposeSignup)
	require.NoError(t, err)

	cached, err := f.cache.GetCode(ctx, account.Email)
	require.NoError(t, err)
	assert.Equal(t, code, cached)
}

func TestVerifyConsumesChallenge(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()
	account := testAccount("user@example.test")

	code, err := f.svc.Issue(ctx, account, models.PurposeSignup)
	require.NoError(t, err)

	require.NoError(t, f.svc.Verify(ctx, account, code))

	// Consumed: a second redemption finds nothing.
	err = f.svc.Verify(ctx, account, code)
	assert.ErrorIs(t, err, ErrOTPNotFound)

	records, err := f.audit.ListByAccount(ctx, account)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].Consumed)
}

func TestVerifyMismatchKeepsChallengeLive(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()
	account := testAccount("user@example.test")

	code, err := f.svc.Issue(ctx, account, models.PurposeSignup)
	require.NoError(t, err)

	wrong := "0000"
	if wrong == code {
		wrong = "0001"
	}

	err = f.svc.Verify(ctx, account, wrong)
	assert.ErrorIs(t, err, ErrOTPMismatch)

	// The challenge survives the failed attempt and still redeems.
	assert.NoError(t, f.svc.Verify(ctx, account, code))
}

func TestVerifyExpiredChallenge(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()
	account := testAccount("user@example.test")

	code, err := f.svc.Issue(ctx, account, models.PurposeSignup)
	require.NoError(t, err)

	f.mr.FastForward(3*time.Minute + time.Second)

	err = f.svc.Verify(ctx, account, code)
	assert.ErrorIs(t, err, ErrOTPNotFound)

	// The audit row outlives the cache entry, unconsumed.
	records, err := f.audit.ListByAccount(ctx, account)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.False(t, records[0].Consumed)
}

func TestVerifyNoChallenge(t *testing.T) {
	f := newOTPFixture(t)

	err := f.svc.Verify(context.Background(), testAccount("never@example.test"), "1234")
	assert.ErrorIs(t, err, ErrOTPNotFound)
}

func TestLiveChallenges(t *testing.T) {
	f := newOTPFixture(t)
	ctx := context.Background()

	live, err := f.svc.LiveChallenges(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, live)

	_, err = f.svc.Issue(ctx, testAccount("a@example.test"), models.PurposeSignup)
	require.NoError(t, err)
	_, err = f.svc.Issue(ctx, testAccount("b@example.test"), models.PurposeSignup)
	require.NoError(t, err)

	live, err = f.svc.LiveChallenges(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, live)
}

func TestGeneratedCodeLengthConfigurable(t *testing.T) {
	f := newOTPFixture(t)
	svc := NewOTPService(f.cache, f.audit, f.notifier, 6, 3*time.Minute)

	code, err := svc.Issue(context.Background(), testAccount("user@example.test"), models.PurposeSignup)
	require.NoError(t, err)
	assert.Regexp(t, `^\d{6}$`, code)
}
