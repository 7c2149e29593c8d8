package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"identity-service/internal/bucketing"
	"identity-service/internal/hashing"
	"identity-service/internal/models"
	"identity-service/internal/repository/scylla"
	"identity-service/internal/util"
)

// CredentialStore owns the durable account record: lookup, creation,
// the one-way verified transition, and password authentication. Email
// matching is exact and case-sensitive.
type CredentialStore struct {
	accounts  scylla.AccountRepository
	hasher    *hashing.Hasher
	bucketing *bucketing.BucketingManager
}

func NewCredentialStore(
	accounts scylla.AccountRepository,
	hasher *hashing.Hasher,
	bucketing *bucketing.BucketingManager,
) *CredentialStore {
	return &CredentialStore{
		accounts:  accounts,
		hasher:    hasher,
		bucketing: bucketing,
	}
}

func (s *CredentialStore) FindByEmail(ctx context.Context, email string) (*models.Account, error) {
	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, scylla.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	return account, nil
}

// Create hashes the password and inserts a new unverified account. Returns
// ErrConflict when the email was claimed concurrently; the caller decides
// whether that means "resend" or a real duplicate.
func (s *CredentialStore) Create(ctx context.Context, email, password string, role models.Role) (*models.Account, error) {
	digest, err := s.hasher.HashPassword(password)
	if err != nil {
		return nil, err
	}

	accountID := uuid.New()
	account := &models.Account{
		AccountBucket: s.bucketing.GetAccountBucket(accountID),
		AccountID:     accountID.String(),
		Email:         email,
		PasswordHash:  digest,
		Role:          role,
		IsVerified:    false,
	}

	if err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, scylla.ErrAlreadyExists) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	return account, nil
}

// MarkVerified flips the account to verified. A no-op if it already is;
// the transition happens at most once.
func (s *CredentialStore) MarkVerified(ctx context.Context, email string) (*models.Account, error) {
	account, err := s.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if account.IsVerified {
		return account, nil
	}

	if err := s.accounts.MarkVerified(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

// FindAndAuthenticate resolves the account and checks the password against
// the stored hash. Verification state is checked before the password so an
// unverified account never leaks whether its password was right.
func (s *CredentialStore) FindAndAuthenticate(ctx context.Context, email, password string) (*models.Account, error) {
	account, err := s.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	if !account.IsVerified {
		return nil, ErrAccountUnverified
	}

	match, err := s.hasher.VerifyPassword(password, account.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("failed to check password: %w", err)
	}
	if !match {
		util.Warn("Password mismatch on login", zap.String("email", email))
		return nil, ErrInvalidCredentials
	}

	return account, nil
}
