package auth

import (
	"context"
	"net/mail"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/casinoscope/casinoscopecom/internal/audit"
	"github.com/casinoscope/casinoscopecom/internal/telemetry/tracing"
)

const (
	maxLoginAttempts    = 5
	loginAttemptsWindow = time.Hour
	loginLockoutPeriod  = 15 * time.Minute
)

type auditRecorder interface {
	Record(ctx context.Context, event *audit.Event)
	FailedLogins(ctx context.Context, email string, since time.Time) ([]audit.Event, error)
}

// Service authenticates admins, mints and verifies session tokens, gates
// the step-up pin check and emits audit events. All store failures are
// converted to a failed-auth result, the request path must never crash
// nor leak internal detail to the caller.
type Service struct {
	repo     adminRepo
	recorder auditRecorder
	signer   *TokenSigner

	// ability to inject time for unit testing lockout windows and expiry
	NowFunc func() time.Time
}

func NewService(repo adminRepo, recorder auditRecorder, signer *TokenSigner) *Service {
	return &Service{
		repo:     repo,
		recorder: recorder,
		signer:   signer,
		NowFunc:  time.Now,
	}
}

// SignIn authenticates the given credentials and returns a fresh session.
// Failures are uniform: a wrong password and an unknown email both yield
// ErrInvalidCredentials so callers cannot enumerate admin accounts.
func (s *Service) SignIn(ctx context.Context, creds Credentials, clientIp, userAgent string) (*Session, error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "authService.signIn")
	defer span.End()

	now := s.NowFunc()

	if _, err := mail.ParseAddress(creds.Email); err != nil {
		log.Tracef("sign in, malformed email: %s", creds.Email)
		return nil, ErrInvalidCredentials
	}

	locked, err := s.isLockedOut(ctx, creds.Email, now)
	if err != nil {
		// fail closed: without the attempt history we cannot prove the
		// account is not under a brute-force run
		log.Errorf("sign in, failed to check login attempts for %s: %s", creds.Email, err)
		return nil, ErrInvalidCredentials
	}
	if locked {
		s.recorder.Record(ctx, &audit.Event{
			Type:      audit.EventTypeLoginLockout,
			Severity:  audit.SeverityHigh,
			IPAddress: clientIp,
			UserAgent: userAgent,
			Metadata:  map[string]any{"email": creds.Email},
		})
		return nil, ErrLoginLocked
	}

	rec, err := s.repo.GetByEmail(ctx, creds.Email)
	if err != nil {
		if err != ErrAdminNotFound {
			log.Errorf("sign in, failed to get admin by email: %s", err)
		}
		s.recordFailedLogin(ctx, creds.Email, clientIp, userAgent, "user_not_found")
		return nil, ErrInvalidCredentials
	}

	if !rec.IsActive {
		s.recordFailedLogin(ctx, creds.Email, clientIp, userAgent, "account_inactive")
		return nil, ErrInvalidCredentials
	}

	if !VerifySecret(creds.Password, rec.PasswordHash, PasswordHashIterations) {
		s.recordFailedLogin(ctx, creds.Email, clientIp, userAgent, "invalid_password")
		return nil, ErrInvalidCredentials
	}

	profile := rec.AdminProfile
	token, expiresAt, err := s.signer.Generate(&profile, creds.RememberMe, now)
	if err != nil {
		log.Errorf("sign in, failed to generate session token: %s", err)
		return nil, ErrInvalidCredentials
	}

	if err := s.repo.UpdateLastLogin(ctx, rec.ID, now); err != nil {
		// not fatal for the sign in itself
		log.Errorf("sign in, failed to update last login for %s: %s", rec.ID, err)
	}
	profile.LastLogin = &now

	span.SetAttributes(attribute.String("admin.id", rec.ID))
	s.recorder.Record(ctx, &audit.Event{
		Type:      audit.EventTypeLoginSuccess,
		Severity:  audit.SeverityLow,
		UserID:    rec.ID,
		IPAddress: clientIp,
		UserAgent: userAgent,
		Metadata:  map[string]any{"email": creds.Email, "remember_me": creds.RememberMe},
	})

	return &Session{
		Token:     token,
		ExpiresAt: expiresAt,
		User:      &profile,
	}, nil
}

// VerifySessionToken checks signature, expiry, issuer and audience, and
// returns the decoded payload, or nil for any invalid token
func (s *Service) VerifySessionToken(token string) *TokenPayload {
	return s.signer.Verify(token, s.NowFunc())
}

// ValidateSession verifies the token and re-reads the admin record, so
// deactivation and permission changes made after token issuance are
// honored. The profile is returned for the caller to carry, there is no
// process-wide current-user state.
func (s *Service) ValidateSession(ctx context.Context, token string) (*AdminProfile, error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "authService.validateSession")
	defer span.End()

	payload := s.VerifySessionToken(token)
	if payload == nil {
		return nil, ErrInvalidToken
	}

	rec, err := s.repo.GetByID(ctx, payload.AdminID)
	if err != nil {
		if err != ErrAdminNotFound {
			log.Errorf("validate session, failed to get admin %s: %s", payload.AdminID, err)
		}
		return nil, ErrInvalidToken
	}

	if !rec.IsActive {
		return nil, ErrInvalidToken
	}

	profile := rec.AdminProfile
	return &profile, nil
}

// VerifyPin is the step-up check for sensitive actions, valid only on top
// of an already valid session. Returns false on any failure, including a
// missing pin hash.
func (s *Service) VerifyPin(ctx context.Context, pin, token, clientIp string) bool {
	ctx, span := tracing.GlobalTracer.Start(ctx, "authService.verifyPin")
	defer span.End()

	profile, err := s.ValidateSession(ctx, token)
	if err != nil {
		return false
	}

	rec, err := s.repo.GetByID(ctx, profile.ID)
	if err != nil {
		log.Errorf("verify pin, failed to get admin %s: %s", profile.ID, err)
		return false
	}

	if rec.PinHash == "" || !VerifySecret(pin, rec.PinHash, PinHashIterations) {
		s.recorder.Record(ctx, &audit.Event{
			Type:      audit.EventTypePinFailed,
			Severity:  audit.SeverityMedium,
			UserID:    rec.ID,
			IPAddress: clientIp,
		})
		return false
	}

	s.recorder.Record(ctx, &audit.Event{
		Type:      audit.EventTypePinVerified,
		Severity:  audit.SeverityLow,
		UserID:    rec.ID,
		IPAddress: clientIp,
	})
	return true
}

// SignOut is best-effort: a still-valid token gets a logout audit event.
// The token itself stays valid until its natural expiry, there is no
// server-side revocation store.
func (s *Service) SignOut(ctx context.Context, token, clientIp string) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "authService.signOut")
	defer span.End()

	payload := s.VerifySessionToken(token)
	if payload == nil {
		return
	}

	s.recorder.Record(ctx, &audit.Event{
		Type:      audit.EventTypeLogout,
		Severity:  audit.SeverityLow,
		UserID:    payload.AdminID,
		IPAddress: clientIp,
	})
}

func (s *Service) isLockedOut(ctx context.Context, email string, now time.Time) (bool, error) {
	failed, err := s.recorder.FailedLogins(ctx, email, now.Add(-loginAttemptsWindow))
	if err != nil {
		return false, err
	}

	if len(failed) < maxLoginAttempts {
		return false, nil
	}

	// failed logins come most recent first
	lastFailure := failed[0].CreatedAt
	return now.Sub(lastFailure) < loginLockoutPeriod, nil
}

func (s *Service) recordFailedLogin(ctx context.Context, email, clientIp, userAgent, reason string) {
	log.Tracef("[%s] failed login attempt for: %s", reason, email)
	s.recorder.Record(ctx, &audit.Event{
		Type:      audit.EventTypeLoginFailed,
		Severity:  audit.SeverityMedium,
		IPAddress: clientIp,
		UserAgent: userAgent,
		Metadata:  map[string]any{"email": email, "reason": reason},
	})
}
