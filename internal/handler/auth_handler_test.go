package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"identity-service/internal/bucketing"
	"identity-service/internal/client"
	"identity-service/internal/hashing"
	"identity-service/internal/models"
	"identity-service/internal/notify"
	redisrepo "identity-service/internal/repository/redis"
	"identity-service/internal/repository/scylla"
	"identity-service/internal/service"
	"identity-service/internal/token"
)

// In-memory repositories backing the HTTP tests.

type memAccounts struct {
	mu      sync.Mutex
	byEmail map[string]*models.Account
}

func (r *memAccounts) Create(ctx context.Context, account *models.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.byEmail[account.Email]; taken {
		return scylla.ErrAlreadyExists
	}
	account.CreatedAt = time.Now().UTC()
	cp := *account
	r.byEmail[account.Email] = &cp
	return nil
}

func (r *memAccounts) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.byEmail[email]
	if !ok {
		return nil, scylla.ErrNotFound
	}
	cp := *stored
	return &cp, nil
}

func (r *memAccounts) MarkVerified(ctx context.Context, account *models.Account) error {
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

func (r *memAccounts) HealthCheck(ctx context.Context) error { return nil }

type memAudit struct {
	mu      sync.Mutex
	records []*models.OTPAudit
}

func (r *memAudit) Append(ctx context.Context, record *models.OTPAudit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if record.AuditID == "" {
		record.AuditID = uuid.New().String()
	}
	cp := *record
	r.records = append(r.records, &cp)
	return nil
}

func (r *memAudit) MarkConsumed(ctx context.Context, account *models.Account, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.AccountID == account.AccountID && rec.Code == code && !rec.Consumed {
			rec.Consumed = true
		}
	}
	return nil
}

func (r *memAudit) ListByAccount(ctx context.Context, account *models.Account) ([]*models.OTPAudit, error) {
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

type memSessions struct {
	mu       sync.Mutex
	sessions []*models.Session
}

func (r *memSessions) Append(ctx context.Context, session *models.Session) error {
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

func (r *memSessions) ListByAccount(ctx context.Context, bucket int, accountID string) ([]*models.Session, error) {
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

type apiFixture struct {
	server *httptest.Server
	auth   *service.AuthService
	issuer *token.Issuer
	mr     *miniredis.Miniredis
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	rc := client.NewRedisClientFromExisting(goredis.NewClient(&goredis.Options{
		Addr: mr.Addr(),
	}))
	t.Cleanup(func() { _ = rc.Close() })

	buckets := bucketing.NewBucketingManager(8)
	issuer := token.NewIssuer("handler-test-secret", 15*time.Minute, 7*24*time.Hour)

	credentials := service.NewCredentialStore(
		&memAccounts{byEmail: make(map[string]*models.Account)},
		hashing.NewHasher(bcrypt.MinCost),
		buckets,
	)
	otp := service.NewOTPService(
		redisrepo.NewChallengeCache(rc), &memAudit{}, notify.NopNotifier{},
		4, 3*time.Minute,
	)
	tokens := service.NewTokenService(issuer, &memSessions{}, buckets)
	auth := service.NewAuthService(credentials, otp, tokens)

	logger := zap.NewNop()
	router := NewRouter(NewAuthHandler(auth, logger), issuer, logger)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &apiFixture{server: server, auth: auth, issuer: issuer, mr: mr}
}

func (f *apiFixture) post(t *testing.T, path string, body interface{}) (*http.Response, Response) {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(f.server.URL+path, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	var envelope Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return resp, envelope
}

func (f *apiFixture) get(t *testing.T, path, bearer string) (*http.Response, Response) {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, f.server.URL+path, nil)
	require.NoError(t, err)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	var envelope Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return resp, envelope
}

// signupCode runs signup and extracts the surfaced OTP from the payload.
func (f *apiFixture) signupCode(t *testing.T, email, password string) string {
	t.Helper()

	resp, envelope := f.post(t, "/api/v1/auth/signup", map[string]string{
		"email":    email,
		"password": password,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	data, ok := envelope.Data.(map[string]interface{})
	require.True(t, ok)
	code, _ := data["code"].(string)
	require.NotEmpty(t, code)
	return code
}

func (f *apiFixture) verifiedLogin(t *testing.T, email, password string) string {
	t.Helper()

	code := f.signupCode(t, email, password)
	resp, envelope := f.post(t, "/api/v1/auth/verify-otp", map[string]string{
		"email": email,
		"code":  code,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	data, ok := envelope.Data.(map[string]interface{})
	require.True(t, ok)
	access, _ := data["accessToken"].(string)
	require.NotEmpty(t, access)
	return access
}

func TestSignupEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	resp, envelope := f.post(t, "/api/v1/auth/signup", map[string]string{
		"email":    "user@example.test",
		"password": "pass123",
	})

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.True(t, envelope.Success)
	assert.Contains(t, envelope.Message, "Verify")
}

func TestSignupEndpointValidation(t *testing.T) {
	f := newAPIFixture(t)

	cases := []map[string]string{
		{"email": "", "password": "pass123"},
		{"email": "not-an-email", "password": "pass123"},
		{"email": "user@example.test", "password": ""},
	}
	for _, body := range cases {
		resp, envelope := f.post(t, "/api/v1/auth/signup", body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.False(t, envelope.Success)
	}
}

func TestSignupEndpointUnknownRole(t *testing.T) {
	f := newAPIFixture(t)

	resp, _ := f.post(t, "/api/v1/auth/signup", map[string]string{
		"email":    "user@example.test",
		"password": "pass123",
		"role":     "SUPERUSER",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSignupEndpointVerifiedDuplicate(t *testing.T) {
	f := newAPIFixture(t)
	f.verifiedLogin(t, "taken@example.test", "pass123")

	resp, envelope := f.post(t, "/api/v1/auth/signup", map[string]string{
		"email":    "taken@example.test",
		"password": "pass123",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.False(t, envelope.Success)
}

func TestVerifyOTPEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	code := f.signupCode(t, "user@example.test", "pass123")

	resp, envelope := f.post(t, "/api/v1/auth/verify-otp", map[string]string{
		"email": "user@example.test",
		"code":  code,
	})

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	data, ok := envelope.Data.(map[string]interface{})
	require.True(t, ok)
	assert.NotEmpty(t, data["accessToken"])
	assert.NotEmpty(t, data["refreshToken"])
}

func TestVerifyOTPEndpointWrongCode(t *testing.T) {
	f := newAPIFixture(t)
	code := f.signupCode(t, "user@example.test", "pass123")

	wrong := "0000"
	if wrong == code {
		wrong = "0001"
	}

	resp, _ := f.post(t, "/api/v1/auth/verify-otp", map[string]string{
		"email": "user@example.test",
		"code":  wrong,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// The challenge survived the miss.
	resp, _ = f.post(t, "/api/v1/auth/verify-otp", map[string]string{
		"email": "user@example.test",
		"code":  code,
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestVerifyOTPEndpointExpired(t *testing.T) {
	f := newAPIFixture(t)
	code := f.signupCode(t, "user@example.test", "pass123")

	f.mr.FastForward(4 * time.Minute)

	resp, _ := f.post(t, "/api/v1/auth/verify-otp", map[string]string{
		"email": "user@example.test",
		"code":  code,
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestVerifyOTPEndpointUnknownEmail(t *testing.T) {
	f := newAPIFixture(t)

	resp, _ := f.post(t, "/api/v1/auth/verify-otp", map[string]string{
		"email": "ghost@example.test",
		"code":  "1234",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLoginEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	f.verifiedLogin(t, "user@example.test", "pass123")

	resp, envelope := f.post(t, "/api/v1/auth/login", map[string]string{
		"email":    "user@example.test",
		"password": "pass123",
	})

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	data, ok := envelope.Data.(map[string]interface{})
	require.True(t, ok)
	assert.NotEmpty(t, data["accessToken"])
	assert.NotEmpty(t, data["refreshToken"])
}

func TestLoginEndpointWrongPassword(t *testing.T) {
	f := newAPIFixture(t)
	f.verifiedLogin(t, "user@example.test", "pass123")

	resp, _ := f.post(t, "/api/v1/auth/login", map[string]string{
		"email":    "user@example.test",
		"password": "nope",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLoginEndpointUnverified(t *testing.T) {
	f := newAPIFixture(t)
	f.signupCode(t, "user@example.test", "pass123")

	resp, _ := f.post(t, "/api/v1/auth/login", map[string]string{
		"email":    "user@example.test",
		"password": "pass123",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestLoginEndpointUnknownEmail(t *testing.T) {
	f := newAPIFixture(t)

	resp, _ := f.post(t, "/api/v1/auth/login", map[string]string{
		"email":    "ghost@example.test",
		"password": "pass123",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSessionsEndpointRequiresAuth(t *testing.T) {
	f := newAPIFixture(t)

	resp, _ := f.get(t, "/api/v1/auth/sessions", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = f.get(t, "/api/v1/auth/sessions", "not-a-token")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSessionsEndpointRejectsRefreshToken(t *testing.T) {
	f := newAPIFixture(t)

	refresh, _, err := f.issuer.SignRefreshToken(uuid.New())
	require.NoError(t, err)

	resp, _ := f.get(t, "/api/v1/auth/sessions", refresh)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSessionsEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	access := f.verifiedLogin(t, "user@example.test", "pass123")

	resp, envelope := f.get(t, "/api/v1/auth/sessions", access)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	views, ok := envelope.Data.([]interface{})
	require.True(t, ok)
	assert.Len(t, views, 1)
}

func TestStatsEndpointAdminOnly(t *testing.T) {
	f := newAPIFixture(t)
	access := f.verifiedLogin(t, "user@example.test", "pass123")

	resp, _ := f.get(t, "/api/v1/auth/stats", access)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestStatsEndpointAsAdmin(t *testing.T) {
	f := newAPIFixture(t)

	require.NoError(t, f.auth.EnsureAdmin(context.Background(), "admin@example.test", "admin-pass"))

	resp, envelope := f.post(t, "/api/v1/auth/login", map[string]string{
		"email":    "admin@example.test",
		"password": "admin-pass",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, ok := envelope.Data.(map[string]interface{})
	require.True(t, ok)
	access, _ := data["accessToken"].(string)
	require.NotEmpty(t, access)

	resp, envelope = f.get(t, "/api/v1/auth/stats", access)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	stats, ok := envelope.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, stats, "live_challenges")
}

func TestHealthEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	resp, err := http.Get(f.server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestUnknownEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	resp, err := http.Get(f.server.URL + "/api/v1/nope")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMalformedBody(t *testing.T) {
	f := newAPIFixture(t)

	resp, err := http.Post(f.server.URL+"/api/v1/auth/signup", "application/json",
		bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
