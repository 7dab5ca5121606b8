package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/casinoscope/casinoscopecom/internal/auth"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type sessionValidatorMock struct {
	validToken string
	profile    *auth.AdminProfile
}

func (m *sessionValidatorMock) ValidateSession(_ context.Context, token string) (*auth.AdminProfile, error) {
	if token == m.validToken {
		return m.profile, nil
	}
	return nil, auth.ErrInvalidToken
}

func TestAuthMiddlewareHandler_AuthCheck(t *testing.T) {
	validator := &sessionValidatorMock{
		validToken: "valid-token",
		profile: &auth.AdminProfile{
			ID:    "adm-1",
			Email: "admin@casinoscope.com",
			Role:  auth.RoleAdmin,
		},
	}
	authMiddleware := NewAuthMiddlewareHandler(validator)

	testCases := []struct {
		name               string
		path               string
		method             string
		token              string
		bearerToken        string
		expectedStatusCode int
	}{
		{
			name:               "AllowedPathWithoutToken",
			path:               "/casinos",
			method:             "GET",
			expectedStatusCode: http.StatusOK,
		},
		{
			name:               "AllowedPathPrefixWithoutToken",
			path:               "/casinos/42/bonuses",
			method:             "GET",
			expectedStatusCode: http.StatusOK,
		},
		{
			name:               "LoginPathWithoutToken",
			path:               "/a/login",
			method:             "POST",
			expectedStatusCode: http.StatusOK,
		},
		{
			name:               "ProtectedPathWithoutToken",
			path:               "/admin/casinos",
			method:             "POST",
			expectedStatusCode: http.StatusUnauthorized,
		},
		{
			name:               "ProtectedPathWithValidToken",
			path:               "/admin/casinos",
			method:             "POST",
			token:              "valid-token",
			expectedStatusCode: http.StatusOK,
		},
		{
			name:               "ProtectedPathWithInvalidToken",
			path:               "/admin/casinos",
			method:             "POST",
			token:              "expired-or-forged",
			expectedStatusCode: http.StatusUnauthorized,
		},
		{
			name:               "ProtectedPathWithBearerToken",
			path:               "/a/session",
			method:             "GET",
			bearerToken:        "valid-token",
			expectedStatusCode: http.StatusOK,
		},
		{
			name:               "OptionsRequest",
			path:               "/admin/casinos",
			method:             "OPTIONS",
			expectedStatusCode: http.StatusOK,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, nil)
			if tc.token != "" {
				req.Header.Set(AuthTokenHeader, tc.token)
			}
			if tc.bearerToken != "" {
				req.Header.Set("Authorization", "Bearer "+tc.bearerToken)
			}

			var profileSeen *auth.AdminProfile
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				profileSeen = AdminFromRequest(r)
			})

			rr := httptest.NewRecorder()
			authMiddleware.AuthCheck()(next).ServeHTTP(rr, req)

			assert.Equal(t, tc.expectedStatusCode, rr.Code)

			if tc.expectedStatusCode == http.StatusOK && (tc.token == "valid-token" || tc.bearerToken == "valid-token") {
				require.NotNil(t, profileSeen)
				assert.Equal(t, "adm-1", profileSeen.ID)
			}
		})
	}
}

func TestReadAuthToken(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	assert.Empty(t, ReadAuthToken(req))

	req.Header.Set("Authorization", "Bearer bearer-token")
	assert.Equal(t, "bearer-token", ReadAuthToken(req))

	// custom header wins over the bearer one
	req.Header.Set(AuthTokenHeader, "custom-token")
	assert.Equal(t, "custom-token", ReadAuthToken(req))
}
