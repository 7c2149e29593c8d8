package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"identity-service/internal/models"
	"identity-service/internal/notify"
	"identity-service/internal/repository/scylla"
)

// In-memory stand-ins for the ScyllaDB repositories. They reproduce the
// contracts the services depend on, in particular the conditional-insert
// semantics of account creation.

type memAccountRepo struct {
	mu      sync.Mutex
	byEmail map[string]*models.Account
	// createHook, when set, runs once in place of the next Create. Tests use
	// it to interleave a concurrent writer between lookup and insert.
	createHook func() error
}

func newMemAccountRepo() *memAccountRepo {
	return &memAccountRepo{byEmail: make(map[string]*models.Account)}
}

func (r *memAccountRepo) Create(ctx context.Context, account *models.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.createHook != nil {
		hook := r.createHook
		r.createHook = nil
		return hook()
	}

	if _, taken := r.byEmail[account.Email]; taken {
		return scylla.ErrAlreadyExists
	}

	account.CreatedAt = time.Now().UTC()
	cp := *account
	r.byEmail[account.Email] = &cp
	return nil
}

func (r *memAccountRepo) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.byEmail[email]
	if !ok {
		return nil, scylla.ErrNotFound
	}
	cp := *stored
	return &cp, nil
}

func (r *memAccountRepo) MarkVerified(ctx context.Context, account *models.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.byEmail[account.Email]
	if !ok {
		return scylla.ErrNotFound
	}
	now := time.Now().UTC()
	stored.IsVerified = true
	stored.VerifiedAt = &now
	account.IsVerified = true
	account.VerifiedAt = &now
	return nil
}

func (r *memAccountRepo) HealthCheck(ctx context.Context) error { return nil }

type memAuditRepo struct {
	mu      sync.Mutex
	records []*models.OTPAudit
}

func newMemAuditRepo() *memAuditRepo {
	return &memAuditRepo{}
}

func (r *memAuditRepo) Append(ctx context.Context, record *models.OTPAudit) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if record.AuditID == "" {
		record.AuditID = uuid.New().String()
	}
	cp := *record
	r.records = append(r.records, &cp)
	return nil
}

func (r *memAuditRepo) MarkConsumed(ctx context.Context, account *models.Account, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range r.records {
		if rec.AccountID == account.AccountID && rec.Code == code && !rec.Consumed {
			rec.Consumed = true
		}
	}
	return nil
}

func (r *memAuditRepo) ListByAccount(ctx context.Context, account *models.Account) ([]*models.OTPAudit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.OTPAudit
	for _, rec := range r.records {
		if rec.AccountID == account.AccountID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

type memSessionRepo struct {
	mu       sync.Mutex
	sessions []*models.Session
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{}
}

func (r *memSessionRepo) Append(ctx context.Context, session *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if session.SessionID == "" {
		session.SessionID = uuid.New().String()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}
	cp := *session
	r.sessions = append(r.sessions, &cp)
	return nil
}

func (r *memSessionRepo) ListByAccount(ctx context.Context, bucket int, accountID string) ([]*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.Session
	for _, s := range r.sessions {
		if s.AccountBucket == bucket && s.AccountID == accountID {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

// recordingNotifier captures delivery events; failingNotifier always errors.

type recordingNotifier struct {
	mu       sync.Mutex
	messages []notify.OTPMessage
}

func (n *recordingNotifier) DeliverOTP(ctx context.Context, msg notify.OTPMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
	return nil
}

func (n *recordingNotifier) delivered() []notify.OTPMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]notify.OTPMessage, len(n.messages))
	copy(out, n.messages)
	return out
}

type failingNotifier struct{ err error }

func (n failingNotifier) DeliverOTP(ctx context.Context, msg notify.OTPMessage) error {
	return n.err
}
