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

type ScyllaSessionRepository struct {
	client *ScyllaClient
}

func NewSessionRepository(client *ScyllaClient) *ScyllaSessionRepository {
	return &ScyllaSessionRepository{client: client}
}

func (r *ScyllaSessionRepository) Append(ctx context.Context, session *models.Session) error {
	if session.SessionID == "" {
		session.SessionID = uuid.New().String()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}

	q := r.client.Query(ctx, `
		INSERT INTO sessions (account_bucket, account_id, session_id, refresh_token,
			expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		session.AccountBucket, session.AccountID, session.SessionID,
		session.RefreshToken, session.ExpiresAt, session.CreatedAt)

	if err := r.client.ExecuteWithRetry(q, 2); err != nil {
		util.Error("Failed to append session",
			zap.String("account_id", session.AccountID),
			zap.String("session_id", session.SessionID),
			zap.Error(err))
		return fmt.Errorf("failed to append session: %w", err)
	}

	util.Info("Session recorded",
		zap.String("account_id", session.AccountID),
		zap.String("session_id", session.SessionID),
		zap.Time("expires_at", session.ExpiresAt))

	return nil
}

func (r *ScyllaSessionRepository) ListByAccount(ctx context.Context, bucket int, accountID string) ([]*models.Session, error) {
	iter := r.client.Query(ctx, `
		SELECT account_bucket, account_id, session_id, refresh_token, expires_at, created_at
		FROM sessions WHERE account_bucket = ? AND account_id = ?`,
		bucket, accountID).Iter()

	var sessions []*models.Session
	for {
		session := &models.Session{}
		if !iter.Scan(&session.AccountBucket, &session.AccountID, &session.SessionID,
			&session.RefreshToken, &session.ExpiresAt, &session.CreatedAt) {
			break
		}
		sessions = append(sessions, session)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	return sessions, nil
}
