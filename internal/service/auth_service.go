package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"identity-service/internal/models"
	"identity-service/internal/util"
)

// AuthService composes the credential store, the OTP engine and the token
// issuer into the three public operations. It alone decides when an account
// changes state; the other components never call each other.
type AuthService struct {
	credentials *CredentialStore
	otp         *OTPService
	tokens      *TokenService
}

func NewAuthService(credentials *CredentialStore, otp *OTPService, tokens *TokenService) *AuthService {
	return &AuthService{
		credentials: credentials,
		otp:         otp,
		tokens:      tokens,
	}
}

// SignupResult carries the verification prompt. Code holds the issued OTP:
// surfacing it here is a simulation convenience so flows can be exercised
// without the delivery channel; a hardened deployment drops the field and
// relies on delivery alone.
type SignupResult struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// AuthResult is the success payload of verify and login.
type AuthResult struct {
	Message string `json:"message"`
	TokenPair
}

// Signup registers email with an unverified account and issues an OTP. A
// repeat signup on an unverified email never creates a second account; it
// reissues the code. A signup on a verified email fails with
// ErrAccountExists. Losing the creation race to a concurrent signup is
// retried once internally as the resend path.
func (s *AuthService) Signup(ctx context.Context, email, password string, role models.Role) (*SignupResult, error) {
	if role == "" {
		role = models.RoleEmployee
	}
	if !models.ValidRole(role) {
		return nil, ErrInvalidInput
	}

	existing, err := s.credentials.FindByEmail(ctx, email)
	if err == nil {
		return s.resend(ctx, existing)
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return nil, err
	}

	account, err := s.credentials.Create(ctx, email, password, role)
	if errors.Is(err, ErrConflict) {
		// Lost the race: someone else created this account between our
		// lookup and insert. Fall back to the resend path.
		existing, ferr := s.credentials.FindByEmail(ctx, email)
		if ferr == nil {
			return s.resend(ctx, existing)
		}
		if !errors.Is(ferr, ErrAccountNotFound) {
			return nil, ferr
		}

		// The email is claimed but no account row exists: a crash landed
		// between the claim and the insert. The store drops stale claims
		// on lookup, so one more insert attempt reclaims the email.
		account, err = s.credentials.Create(ctx, email, password, role)
		if errors.Is(err, ErrConflict) {
			existing, ferr := s.credentials.FindByEmail(ctx, email)
			if ferr != nil {
				return nil, ferr
			}
			return s.resend(ctx, existing)
		}
	}
	if err != nil {
		return nil, err
	}

	// Account first, OTP second. A crash between the two leaves an
	// unverified account with no live challenge, which the resend path
	// recovers; the reverse order could hand out a code with no account.
	code, err := s.otp.Issue(ctx, account, models.PurposeSignup)
	if err != nil {
		return nil, err
	}

	util.Info("Signup completed",
		zap.String("email", email),
		zap.String("role", string(role)))

	return &SignupResult{
		Message: "Account created. Verify the OTP sent to your email.",
		Code:    code,
	}, nil
}

func (s *AuthService) resend(ctx context.Context, account *models.Account) (*SignupResult, error) {
	if account.IsVerified {
		return nil, ErrAccountExists
	}

	code, err := s.otp.Issue(ctx, account, models.PurposeSignup)
	if err != nil {
		return nil, err
	}

	util.Info("OTP resent for unverified account", zap.String("email", account.Email))

	return &SignupResult{
		Message: "OTP resent. Verify your account.",
		Code:    code,
	}, nil
}

// VerifyOTP redeems the live challenge for email, marks the account
// verified and issues the first token pair.
func (s *AuthService) VerifyOTP(ctx context.Context, email, code string) (*AuthResult, error) {
	account, err := s.credentials.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			// No account means no challenge was ever issued for this email;
			// indistinguishable from an expired one.
			return nil, ErrOTPNotFound
		}
		return nil, err
	}

	if err := s.otp.Verify(ctx, account, code); err != nil {
		return nil, err
	}

	account, err = s.credentials.MarkVerified(ctx, email)
	if err != nil {
		return nil, err
	}

	pair, err := s.tokens.IssueTokenPair(ctx, account)
	if err != nil {
		return nil, err
	}

	return &AuthResult{
		Message:   "OTP verified successfully",
		TokenPair: *pair,
	}, nil
}

// Login authenticates the password against a verified account and issues a
// fresh token pair.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	account, err := s.credentials.FindAndAuthenticate(ctx, email, password)
	if err != nil {
		return nil, err
	}

	pair, err := s.tokens.IssueTokenPair(ctx, account)
	if err != nil {
		return nil, err
	}

	util.Info("Login succeeded", zap.String("email", email))

	return &AuthResult{
		Message:   "Login successful",
		TokenPair: *pair,
	}, nil
}

// EnsureAdmin seeds a verified administrator account at startup. Idempotent
// across restarts and concurrent instances.
func (s *AuthService) EnsureAdmin(ctx context.Context, email, password string) error {
	if email == "" {
		return nil
	}

	_, err := s.credentials.FindByEmail(ctx, email)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return err
	}

	if _, err := s.credentials.Create(ctx, email, password, models.RoleAdmin); err != nil {
		if errors.Is(err, ErrConflict) {
			// Another instance seeded it first.
			return nil
		}
		return err
	}

	if _, err := s.credentials.MarkVerified(ctx, email); err != nil {
		return err
	}

	util.Info("Admin account seeded", zap.String("email", email))
	return nil
}

// Stats reports operational counters for the admin surface.
func (s *AuthService) Stats(ctx context.Context) (map[string]interface{}, error) {
	live, err := s.otp.LiveChallenges(ctx)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"live_challenges": live,
		"timestamp":       time.Now().UTC(),
	}, nil
}

// TokenService exposes the issuer composition for the HTTP layer's session
// listing.
func (s *AuthService) TokenService() *TokenService {
	return s.tokens
}
