package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"identity-service/internal/models"
	"identity-service/internal/notify"
	redisrepo "identity-service/internal/repository/redis"
	"identity-service/internal/repository/scylla"
	"identity-service/internal/util"
)

// OTPService owns the challenge lifecycle. Per email the states are
// NoChallenge -> Live -> Consumed or Expired; Issue always returns to Live,
// replacing whatever was there. The cache alone decides redeemability; the
// audit trail is write-only from the verification path's point of view.
type OTPService struct {
	cache      *redisrepo.ChallengeCache
	audit      scylla.OTPAuditRepository
	notifier   notify.Notifier
	codeLength int
	ttl        time.Duration
}

func NewOTPService(
	cache *redisrepo.ChallengeCache,
	audit scylla.OTPAuditRepository,
	notifier notify.Notifier,
	codeLength int,
	ttl time.Duration,
) *OTPService {
	return &OTPService{
		cache:      cache,
		audit:      audit,
		notifier:   notifier,
		codeLength: codeLength,
		ttl:        ttl,
	}
}

// Issue generates a fresh code for the account, appends the audit record,
// caches the code under the account's email with the configured TTL, and
// hands the code to the delivery channel. The cache write atomically
// replaces any prior live challenge for the email. Delivery is best-effort:
// the code is also surfaced in the signup result, so a dead broker must not
// fail the request.
func (s *OTPService) Issue(ctx context.Context, account *models.Account, purpose string) (string, error) {
	code, err := s.generateCode()
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	expiresAt := now.Add(s.ttl)

	// Audit before cache: a crash in between leaves a dead audit row and no
	// live challenge, which a resend signup recovers from. The reverse order
	// could leave a redeemable code with no trail.
	record := &models.OTPAudit{
		AccountBucket: account.AccountBucket,
		AccountID:     account.AccountID,
		Code:          code,
		Purpose:       purpose,
		ExpiresAt:     expiresAt,
		CreatedAt:     now,
	}
	if err := s.audit.Append(ctx, record); err != nil {
		return "", err
	}

	if err := s.cache.SetCode(ctx, account.Email, code, s.ttl); err != nil {
		return "", err
	}

	if err := s.notifier.DeliverOTP(ctx, notify.OTPMessage{
		Email:     account.Email,
		Code:      code,
		Purpose:   purpose,
		ExpiresAt: expiresAt,
		IssuedAt:  now,
	}); err != nil {
		util.Warn("OTP delivery event failed",
			zap.String("email", account.Email),
			zap.Error(err))
	}

	util.Info("OTP issued",
		zap.String("email", account.Email),
		zap.String("purpose", purpose),
		zap.Duration("ttl", s.ttl))

	return code, nil
}

// Verify checks the submitted code against the live challenge.
// ErrOTPNotFound when none is live; ErrOTPMismatch when it differs, in
// which case the challenge stays live until its TTL elapses. That permits
// repeated guesses within the window; capping attempts is a pending product
// decision, not something to bolt on here silently.
// On a match the challenge is consumed: the cache entry is deleted
// and matching audit records are flagged.
func (s *OTPService) Verify(ctx context.Context, account *models.Account, submittedCode string) error {
	stored, err := s.cache.GetCode(ctx, account.Email)
	if err != nil {
		if errors.Is(err, redisrepo.ErrChallengeNotFound) {
			return ErrOTPNotFound
		}
		return err
	}

	if subtle.ConstantTimeCompare([]byte(stored), []byte(submittedCode)) != 1 {
		util.Warn("OTP mismatch", zap.String("email", account.Email))
		return ErrOTPMismatch
	}

	if err := s.cache.DeleteCode(ctx, account.Email); err != nil {
		return err
	}

	if err := s.audit.MarkConsumed(ctx, account, submittedCode); err != nil {
		return err
	}

	util.Info("OTP verified", zap.String("email", account.Email))
	return nil
}

// LiveChallenges reports how many challenges are currently live.
func (s *OTPService) LiveChallenges(ctx context.Context) (int, error) {
	return s.cache.CountLive(ctx)
}

func (s *OTPService) generateCode() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < s.codeLength; i++ {
		max.Mul(max, big.NewInt(10))
	}

	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("failed to generate OTP code: %w", err)
	}

	return fmt.Sprintf("%0*d", s.codeLength, n), nil
}
