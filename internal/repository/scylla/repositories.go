package scylla

import (
	"context"
	"errors"

	"identity-service/internal/models"
)

var (
	// ErrNotFound means the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists means a conditional insert lost to an existing row.
	ErrAlreadyExists = errors.New("already exists")
)

// AccountRepository is the durable credential store.
type AccountRepository interface {
	// Create inserts the account, enforcing email uniqueness with a single
	// atomic conditional insert. Returns ErrAlreadyExists if the email is
	// taken, in which case no row was written.
	Create(ctx context.Context, account *models.Account) error
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	// MarkVerified flips the verified flag. A no-op if already verified.
	MarkVerified(ctx context.Context, account *models.Account) error
	HealthCheck(ctx context.Context) error
}

// OTPAuditRepository is the append-only issuance trail. It is never
// consulted to authorize a verification; the challenge cache decides that.
type OTPAuditRepository interface {
	Append(ctx context.Context, record *models.OTPAudit) error
	// MarkConsumed marks every unconsumed record for the account whose code
	// matches. Matching is by value, not by challenge identity.
	MarkConsumed(ctx context.Context, account *models.Account, code string) error
	ListByAccount(ctx context.Context, account *models.Account) ([]*models.OTPAudit, error)
}

// SessionRepository records issued refresh tokens. Rows are append-only;
// revocation does not exist yet.
type SessionRepository interface {
	Append(ctx context.Context, session *models.Session) error
	ListByAccount(ctx context.Context, bucket int, accountID string) ([]*models.Session, error)
}
