package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casinoscope/casinoscopecom/internal/audit"
)

const (
	testAdminID    = "adm-test-1"
	testAdminEmail = "admin@casinoscope.com"
	testPassword   = "test-password-123"
	testPin        = "428913"
)

func newTestService(t *testing.T) (*Service, *repoMock, *audit.TestRecorder) {
	t.Helper()

	passwordHash, err := HashSecret(testPassword, PasswordHashIterations)
	require.NoError(t, err)
	pinHash, err := HashSecret(testPin, PinHashIterations)
	require.NoError(t, err)

	repo := newRepoMock()
	repo.addAdmin(&adminRecord{
		AdminProfile: AdminProfile{
			ID:          testAdminID,
			Email:       testAdminEmail,
			Role:        RoleAdmin,
			Permissions: []string{"reviews:write"},
			IsActive:    true,
			CreatedAt:   time.Now().Add(-24 * time.Hour),
		},
		PasswordHash: passwordHash,
		PinHash:      pinHash,
	})

	recorder := audit.NewTestRecorder()
	service := NewService(repo, recorder, NewTokenSigner([]byte("test-signing-secret")))
	return service, repo, recorder
}

func testCredentials(rememberMe bool) Credentials {
	return Credentials{
		Email:      testAdminEmail,
		Password:   testPassword,
		RememberMe: rememberMe,
	}
}

func TestService_SignIn(t *testing.T) {
	service, repo, recorder := newTestService(t)
	ctx := context.Background()

	session, err := service.SignIn(ctx, testCredentials(false), "10.1.2.3", "test-agent")
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.NotEmpty(t, session.Token)
	assert.WithinDuration(t, time.Now().Add(DefaultSessionTTL), session.ExpiresAt, time.Minute)
	assert.Equal(t, RoleAdmin, session.User.Role)
	assert.NotNil(t, session.User.LastLogin)

	// last login persisted on the stored record too
	rec, err := repo.GetByID(ctx, testAdminID)
	require.NoError(t, err)
	assert.NotNil(t, rec.LastLogin)

	successEvents := recorder.EventsOfType(audit.EventTypeLoginSuccess)
	require.Len(t, successEvents, 1)
	assert.Equal(t, testAdminID, successEvents[0].UserID)
	assert.Equal(t, "10.1.2.3", successEvents[0].IPAddress)
}

func TestService_SignIn_RememberMe(t *testing.T) {
	service, _, _ := newTestService(t)

	session, err := service.SignIn(context.Background(), testCredentials(true), "", "")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(ExtendedSessionTTL), session.ExpiresAt, time.Minute)
}

func TestService_SignIn_UniformFailures(t *testing.T) {
	service, _, recorder := newTestService(t)
	ctx := context.Background()

	// wrong password and unknown email must be indistinguishable
	session, errWrongPass := service.SignIn(ctx, Credentials{
		Email:    testAdminEmail,
		Password: "wrong-password",
	}, "", "")
	assert.Nil(t, session)

	session, errUnknownEmail := service.SignIn(ctx, Credentials{
		Email:    "nobody@casinoscope.com",
		Password: testPassword,
	}, "", "")
	assert.Nil(t, session)

	assert.ErrorIs(t, errWrongPass, ErrInvalidCredentials)
	assert.ErrorIs(t, errUnknownEmail, ErrInvalidCredentials)
	assert.Equal(t, errWrongPass.Error(), errUnknownEmail.Error())

	// server side keeps distinct reasons
	failedEvents := recorder.EventsOfType(audit.EventTypeLoginFailed)
	require.Len(t, failedEvents, 2)
	assert.Equal(t, "invalid_password", failedEvents[0].Metadata["reason"])
	assert.Equal(t, "user_not_found", failedEvents[1].Metadata["reason"])
}

func TestService_SignIn_MalformedEmail(t *testing.T) {
	service, _, _ := newTestService(t)

	session, err := service.SignIn(context.Background(), Credentials{
		Email:    "not an email",
		Password: testPassword,
	}, "", "")
	assert.Nil(t, session)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestService_SignIn_InactiveAccount(t *testing.T) {
	service, repo, _ := newTestService(t)
	repo.Admins[testAdminID].IsActive = false

	session, err := service.SignIn(context.Background(), testCredentials(false), "", "")
	assert.Nil(t, session)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestService_SignIn_Lockout(t *testing.T) {
	service, _, recorder := newTestService(t)
	ctx := context.Background()

	wrongCreds := Credentials{
		Email:    testAdminEmail,
		Password: "wrong-password",
	}
	for i := 0; i < maxLoginAttempts; i++ {
		session, err := service.SignIn(ctx, wrongCreds, "10.1.2.3", "")
		assert.Nil(t, session)
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	}

	// 6th attempt rejected even with the correct password
	session, err := service.SignIn(ctx, testCredentials(false), "10.1.2.3", "")
	assert.Nil(t, session)
	assert.ErrorIs(t, err, ErrLoginLocked)

	lockoutEvents := recorder.EventsOfType(audit.EventTypeLoginLockout)
	require.Len(t, lockoutEvents, 1)
	assert.Equal(t, audit.SeverityHigh, lockoutEvents[0].Severity)
}

func TestService_SignIn_LockoutClears(t *testing.T) {
	service, _, recorder := newTestService(t)
	ctx := context.Background()

	for i := 0; i < maxLoginAttempts; i++ {
		_, err := service.SignIn(ctx, Credentials{
			Email:    testAdminEmail,
			Password: "wrong-password",
		}, "", "")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	}

	_, err := service.SignIn(ctx, testCredentials(false), "", "")
	assert.ErrorIs(t, err, ErrLoginLocked)

	// move past the lockout period, the correct password works again
	service.NowFunc = func() time.Time {
		return time.Now().Add(loginLockoutPeriod + time.Minute)
	}
	session, err := service.SignIn(ctx, testCredentials(false), "", "")
	require.NoError(t, err)
	require.NotNil(t, session)

	require.Len(t, recorder.EventsOfType(audit.EventTypeLoginSuccess), 1)
}

func TestService_SignIn_StoreFailures(t *testing.T) {
	service, repo, recorder := newTestService(t)
	ctx := context.Background()

	// admin store unreachable: fail closed
	repo.GetErr = errors.New("db connection refused")
	session, err := service.SignIn(ctx, testCredentials(false), "", "")
	assert.Nil(t, session)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	repo.GetErr = nil

	// attempt history unreachable: fail closed as well
	recorder.FailedLoginsErr = errors.New("db connection refused")
	session, err = service.SignIn(ctx, testCredentials(false), "", "")
	assert.Nil(t, session)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestService_ValidateSession(t *testing.T) {
	service, repo, _ := newTestService(t)
	ctx := context.Background()

	session, err := service.SignIn(ctx, testCredentials(false), "", "")
	require.NoError(t, err)

	profile, err := service.ValidateSession(ctx, session.Token)
	require.NoError(t, err)
	assert.Equal(t, testAdminID, profile.ID)
	assert.Equal(t, RoleAdmin, profile.Role)

	// deactivation after issuance invalidates the session
	repo.Admins[testAdminID].IsActive = false
	profile, err = service.ValidateSession(ctx, session.Token)
	assert.Nil(t, profile)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// garbage tokens
	_, err = service.ValidateSession(ctx, "garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = service.ValidateSession(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestService_VerifyPin(t *testing.T) {
	service, repo, recorder := newTestService(t)
	ctx := context.Background()

	session, err := service.SignIn(ctx, testCredentials(false), "", "")
	require.NoError(t, err)

	assert.True(t, service.VerifyPin(ctx, testPin, session.Token, "10.1.2.3"))
	assert.False(t, service.VerifyPin(ctx, "000000", session.Token, "10.1.2.3"))
	assert.False(t, service.VerifyPin(ctx, testPin, "garbage-token", "10.1.2.3"))

	require.Len(t, recorder.EventsOfType(audit.EventTypePinVerified), 1)
	require.Len(t, recorder.EventsOfType(audit.EventTypePinFailed), 1)

	// missing pin hash means the step-up can never pass
	repo.Admins[testAdminID].PinHash = ""
	assert.False(t, service.VerifyPin(ctx, testPin, session.Token, "10.1.2.3"))
}

func TestService_SignOut(t *testing.T) {
	service, _, recorder := newTestService(t)
	ctx := context.Background()

	session, err := service.SignIn(ctx, testCredentials(false), "", "")
	require.NoError(t, err)

	service.SignOut(ctx, session.Token, "10.1.2.3")
	require.Len(t, recorder.EventsOfType(audit.EventTypeLogout), 1)

	// invalid token: nothing recorded, nothing blows up
	service.SignOut(ctx, "garbage", "10.1.2.3")
	require.Len(t, recorder.EventsOfType(audit.EventTypeLogout), 1)

	// sign-out does not revoke the token, it stays valid until expiry
	profile, err := service.ValidateSession(ctx, session.Token)
	require.NoError(t, err)
	assert.NotNil(t, profile)
}
