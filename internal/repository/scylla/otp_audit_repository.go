package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"identity-service/internal/models"
	"identity-service/internal/util"
)

type ScyllaOTPAuditRepository struct {
	client *ScyllaClient
}

func NewOTPAuditRepository(client *ScyllaClient) *ScyllaOTPAuditRepository {
	return &ScyllaOTPAuditRepository{client: client}
}

func (r *ScyllaOTPAuditRepository) Append(ctx context.Context, record *models.OTPAudit) error {
	if record.AuditID == "" {
		record.AuditID = uuid.New().String()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	q := r.client.Query(ctx, `
		INSERT INTO otp_audit (account_bucket, account_id, audit_id, code, purpose,
			expires_at, consumed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.AccountBucket, record.AccountID, record.AuditID, record.Code,
		record.Purpose, record.ExpiresAt, record.Consumed, record.CreatedAt)

	if err := r.client.ExecuteWithRetry(q, 2); err != nil {
		util.Error("Failed to append OTP audit record",
			zap.String("account_id", record.AccountID),
			zap.String("audit_id", record.AuditID),
			zap.Error(err))
		return fmt.Errorf("failed to append OTP audit record: %w", err)
	}

	util.Info("OTP audit record appended",
		zap.String("account_id", record.AccountID),
		zap.String("audit_id", record.AuditID),
		zap.String("purpose", record.Purpose),
		zap.Time("expires_at", record.ExpiresAt))

	return nil
}

// MarkConsumed flags every unconsumed record for the account whose code
// matches the redeemed one. Matching is by (account, code) value: if the
// same code was ever issued twice to one account, both records get flagged.
// The audit trail tolerates that; it records issuances, not redemptions.
func (r *ScyllaOTPAuditRepository) MarkConsumed(ctx context.Context, account *models.Account, code string) error {
	iter := r.client.Query(ctx, `
		SELECT audit_id, code, consumed FROM otp_audit
		WHERE account_bucket = ? AND account_id = ?`,
		account.AccountBucket, account.AccountID).Iter()

	var auditID, rowCode string
	var consumed bool
	var matches []string

	for iter.Scan(&auditID, &rowCode, &consumed) {
		if rowCode == code && !consumed {
			matches = append(matches, auditID)
		}
	}
	if err := iter.Close(); err != nil {
		util.Error("Failed to scan OTP audit records",
			zap.String("account_id", account.AccountID),
			zap.Error(err))
		return fmt.Errorf("failed to scan OTP audit records: %w", err)
	}

	for _, id := range matches {
		q := r.client.Query(ctx, `
			UPDATE otp_audit SET consumed = true
			WHERE account_bucket = ? AND account_id = ? AND audit_id = ?`,
			account.AccountBucket, account.AccountID, id)
		if err := r.client.ExecuteWithRetry(q, 2); err != nil {
			util.Error("Failed to mark OTP audit record consumed",
				zap.String("account_id", account.AccountID),
				zap.String("audit_id", id),
				zap.Error(err))
			return fmt.Errorf("failed to mark OTP audit record consumed: %w", err)
		}
	}

	util.Debug("OTP audit records consumed",
		zap.String("account_id", account.AccountID),
		zap.Int("count", len(matches)))

	return nil
}

func (r *ScyllaOTPAuditRepository) ListByAccount(ctx context.Context, account *models.Account) ([]*models.OTPAudit, error) {
	iter := r.client.Query(ctx, `
		SELECT account_bucket, account_id, audit_id, code, purpose,
			expires_at, consumed, created_at
		FROM otp_audit WHERE account_bucket = ? AND account_id = ?`,
		account.AccountBucket, account.AccountID).Iter()

	var records []*models.OTPAudit
	for {
		record := &models.OTPAudit{}
		if !iter.Scan(&record.AccountBucket, &record.AccountID, &record.AuditID,
			&record.Code, &record.Purpose, &record.ExpiresAt,
			&record.Consumed, &record.CreatedAt) {
			break
		}
		records = append(records, record)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list OTP audit records: %w", err)
	}

	return records, nil
}
