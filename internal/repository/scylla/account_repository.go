package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"identity-service/internal/models"
	"identity-service/internal/util"
)

// A claim in email_to_account with no account row behind it and older than
// this is a crash leftover, not an insert still in flight.
const claimGracePeriod = time.Minute

type ScyllaAccountRepository struct {
	client *ScyllaClient
}

func NewAccountRepository(client *ScyllaClient) *ScyllaAccountRepository {
	return &ScyllaAccountRepository{client: client}
}

// Create claims the email with a conditional insert on the lookup table,
// then writes the account row. The LWT on email_to_account is the atomic
// uniqueness gate: the loser of a concurrent signup race sees
// ErrAlreadyExists and no partial state of its own.
func (r *ScyllaAccountRepository) Create(ctx context.Context, account *models.Account) error {
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}

	q := r.client.Query(ctx, `
		INSERT INTO email_to_account (email, account_bucket, account_id, created_at)
		VALUES (?, ?, ?, ?) IF NOT EXISTS`,
		account.Email, account.AccountBucket, account.AccountID, account.CreatedAt)

	previous := make(map[string]interface{})
	applied, err := q.MapScanCAS(previous)
	if err != nil {
		util.Error("Failed to claim email",
			zap.String("email", account.Email),
			zap.Error(err))
		return fmt.Errorf("failed to claim email: %w", err)
	}
	if !applied {
		return fmt.Errorf("email %s: %w", account.Email, ErrAlreadyExists)
	}

	insert := r.client.Query(ctx, `
		INSERT INTO accounts (account_bucket, account_id, email, password_hash, role,
			is_verified, created_at, verified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		account.AccountBucket, account.AccountID, account.Email, account.PasswordHash,
		string(account.Role), account.IsVerified, account.CreatedAt, account.VerifiedAt)

	if err := r.client.ExecuteWithRetry(insert, 2); err != nil {
		util.Error("Failed to create account",
			zap.String("email", account.Email),
			zap.String("account_id", account.AccountID),
			zap.Error(err))
		return fmt.Errorf("failed to create account: %w", err)
	}

	util.Info("Account created",
		zap.String("account_id", account.AccountID),
		zap.String("email", account.Email),
		zap.String("role", string(account.Role)),
		zap.Int("account_bucket", account.AccountBucket))

	return nil
}

func (r *ScyllaAccountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	var bucket int
	var accountID string
	var claimedAt time.Time

	lookup := r.client.Query(ctx, `
		SELECT account_bucket, account_id, created_at FROM email_to_account WHERE email = ?`, email)
	if err := r.client.ScanWithRetry(lookup, &bucket, &accountID, &claimedAt); err != nil {
		if err == gocql.ErrNotFound {
			return nil, fmt.Errorf("email %s: %w", email, ErrNotFound)
		}
		util.Error("Failed to look up email",
			zap.String("email", email),
			zap.Error(err))
		return nil, fmt.Errorf("failed to look up email: %w", err)
	}

	account := &models.Account{}
	var role string

	q := r.client.Query(ctx, `
		SELECT account_bucket, account_id, email, password_hash, role,
			is_verified, created_at, verified_at
		FROM accounts WHERE account_bucket = ? AND account_id = ?`, bucket, accountID)

	err := r.client.ScanWithRetry(q,
		&account.AccountBucket, &account.AccountID, &account.Email,
		&account.PasswordHash, &role, &account.IsVerified,
		&account.CreatedAt, &account.VerifiedAt)
	if err != nil {
		if err == gocql.ErrNotFound {
			// Lookup row exists but the account row is missing: a crash
			// between the two inserts. Once the claim is past the grace
			// period it cannot be an insert in flight, so drop it and let
			// the next signup reclaim the email.
			if time.Since(claimedAt) > claimGracePeriod {
				r.dropStaleClaim(ctx, email, accountID)
			}
			return nil, fmt.Errorf("email %s: %w", email, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	account.Role = models.Role(role)

	return account, nil
}

// dropStaleClaim removes an email claim whose account row never landed. The
// delete is conditional on the claimed account id so a concurrent reclaim of
// the email is never clobbered. Best-effort: on failure the claim survives
// until the next lookup.
func (r *ScyllaAccountRepository) dropStaleClaim(ctx context.Context, email, accountID string) {
	q := r.client.Query(ctx, `
		DELETE FROM email_to_account WHERE email = ? IF account_id = ?`, email, accountID)

	previous := make(map[string]interface{})
	applied, err := q.MapScanCAS(previous)
	if err != nil {
		util.Error("Failed to drop stale email claim",
			zap.String("email", email),
			zap.String("account_id", accountID),
			zap.Error(err))
		return
	}
	if applied {
		util.Warn("Dropped stale email claim with no account row",
			zap.String("email", email),
			zap.String("account_id", accountID))
	}
}

func (r *ScyllaAccountRepository) MarkVerified(ctx context.Context, account *models.Account) error {
	now := time.Now().UTC()

	q := r.client.Query(ctx, `
		UPDATE accounts SET is_verified = true, verified_at = ?
		WHERE account_bucket = ? AND account_id = ?`,
		now, account.AccountBucket, account.AccountID)

	if err := r.client.ExecuteWithRetry(q, 2); err != nil {
		util.Error("Failed to mark account verified",
			zap.String("account_id", account.AccountID),
			zap.Error(err))
		return fmt.Errorf("failed to mark account verified: %w", err)
	}

	account.IsVerified = true
	account.VerifiedAt = &now

	util.Info("Account verified",
		zap.String("account_id", account.AccountID),
		zap.String("email", account.Email))

	return nil
}

func (r *ScyllaAccountRepository) HealthCheck(ctx context.Context) error {
	return r.client.HealthCheck(ctx)
}
