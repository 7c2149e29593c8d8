package models

import "time"

// Session is the durable record of an issued refresh token. Rows are only
// ever appended; an account accumulates one per successful verify or login.
// The token is stored verbatim so a future revocation path can match it.
type Session struct {
	AccountBucket int       `db:"account_bucket"`
	AccountID     string    `db:"account_id"`
	SessionID     string    `db:"session_id"`
	RefreshToken  string    `db:"refresh_token"`
	ExpiresAt     time.Time `db:"expires_at"`
	CreatedAt     time.Time `db:"created_at"`
}
