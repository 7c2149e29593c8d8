package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"identity-service/internal/bucketing"
	"identity-service/internal/models"
	"identity-service/internal/repository/scylla"
	"identity-service/internal/token"
	"identity-service/internal/util"
)

// TokenPair is the unit of issuance: the two tokens always travel together.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// TokenService mints token pairs and records each refresh token as a
// session row. The access token is stateless; the refresh token is the only
// durable artifact.
type TokenService struct {
	issuer    *token.Issuer
	sessions  scylla.SessionRepository
	bucketing *bucketing.BucketingManager
}

func NewTokenService(
	issuer *token.Issuer,
	sessions scylla.SessionRepository,
	bucketing *bucketing.BucketingManager,
) *TokenService {
	return &TokenService{
		issuer:    issuer,
		sessions:  sessions,
		bucketing: bucketing,
	}
}

// IssueTokenPair signs an access and refresh token for the account and
// appends the session row holding the refresh token verbatim.
func (s *TokenService) IssueTokenPair(ctx context.Context, account *models.Account) (*TokenPair, error) {
	accountID, err := uuid.Parse(account.AccountID)
	if err != nil {
		return nil, fmt.Errorf("bad account id %q: %w", account.AccountID, err)
	}

	accessToken, err := s.issuer.SignAccessToken(accountID, account.Role, account.Email)
	if err != nil {
		return nil, err
	}

	refreshToken, expiresAt, err := s.issuer.SignRefreshToken(accountID)
	if err != nil {
		return nil, err
	}

	session := &models.Session{
		AccountBucket: account.AccountBucket,
		AccountID:     account.AccountID,
		RefreshToken:  refreshToken,
		ExpiresAt:     expiresAt,
	}
	if err := s.sessions.Append(ctx, session); err != nil {
		return nil, err
	}

	util.Debug("Token pair issued",
		zap.String("account_id", account.AccountID),
		zap.String("role", string(account.Role)))

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, nil
}

// SessionsForAccount lists the account's recorded sessions.
func (s *TokenService) SessionsForAccount(ctx context.Context, accountID uuid.UUID) ([]*models.Session, error) {
	bucket := s.bucketing.GetAccountBucket(accountID)
	return s.sessions.ListByAccount(ctx, bucket, accountID.String())
}
