package models

import "time"

// OTP purposes. Only signup verification exists today; the purpose tag is
// stored so the audit trail stays meaningful if other flows are added.
const (
	PurposeSignup = "SIGNUP"
)

// OTPAudit is the durable, append-only record of a single OTP issuance. It
// mirrors the ephemeral cache entry but outlives it: the cache decides
// whether a code is still redeemable, the audit row only records that it
// existed and whether it was ever consumed.
type OTPAudit struct {
	AccountBucket int       `db:"account_bucket"`
	AccountID     string    `db:"account_id"`
	AuditID       string    `db:"audit_id"`
	Code          string    `db:"code"`
	Purpose       string    `db:"purpose"`
	ExpiresAt     time.Time `db:"expires_at"`
	Consumed      bool      `db:"consumed"`
	CreatedAt     time.Time `db:"created_at"`
}
