package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/casinoscope/casinoscopecom/internal/auth"
	"github.com/casinoscope/casinoscopecom/internal/telemetry/tracing"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/codes"
)

// AuthTokenHeader carries the admin session token. The non-standard
// header name makes browsers send a preflight/OPTIONS request:
//	https://developer.mozilla.org/en-US/docs/Web/HTTP/CORS#preflighted_requests
const AuthTokenHeader = "X-CSPE-TOKEN"

type contextKey string

const adminContextKey contextKey = "admin-profile"

// AdminFromRequest returns the admin profile the auth middleware stored
// for this request, nil on public routes
func AdminFromRequest(r *http.Request) *auth.AdminProfile {
	profile, _ := r.Context().Value(adminContextKey).(*auth.AdminProfile)
	return profile
}

type sessionValidator interface {
	ValidateSession(ctx context.Context, token string) (*auth.AdminProfile, error)
}

type AuthMiddlewareHandler struct {
	authService          sessionValidator
	allowedPaths         map[string]bool
	allowedPathsPrefixes []string
}

func NewAuthMiddlewareHandler(authService sessionValidator) *AuthMiddlewareHandler {
	return &AuthMiddlewareHandler{
		authService: authService,
		allowedPaths: map[string]bool{
			// misc handler:
			"/":         true,
			"/whereami": true,
			"/myip":     true,
			"/version":  true,

			// public casino listings:
			"/casinos":        true,
			"/casinos/search": true,

			// login-logout:
			"/a/login":  true,
			"/a/logout": true,
		},
		allowedPathsPrefixes: []string{
			// /casinos/{id} and /casinos/{id}/bonuses stay public,
			// mutations live under /admin/
			"/casinos/",
		},
	}
}

func (h *AuthMiddlewareHandler) pathIsAlwaysAllowed(path string) bool {
	if h.allowedPaths[path] {
		return true
	}
	for _, prefix := range h.allowedPathsPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// ReadAuthToken takes the session token from the auth header, falling
// back to a bearer Authorization header
func ReadAuthToken(r *http.Request) string {
	if token := r.Header.Get(AuthTokenHeader); token != "" {
		return token
	}
	authHeader := r.Header.Get("Authorization")
	if token, found := strings.CutPrefix(authHeader, "Bearer "); found {
		return token
	}
	return ""
}

func (h *AuthMiddlewareHandler) AuthCheck() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := tracing.GlobalTracer.Start(r.Context(), "middleware.auth")
			defer span.End()

			if r.Method == http.MethodOptions {
				w.Header().Add("Allow", "GET, POST, OPTIONS")
				w.WriteHeader(http.StatusOK)
				span.SetStatus(codes.Ok, "options-ok")
				return
			}

			if h.pathIsAlwaysAllowed(r.URL.Path) {
				span.SetStatus(codes.Ok, "ok")
				next.ServeHTTP(w, r)
				return
			}

			authToken := ReadAuthToken(r)
			if authToken == "" {
				log.Tracef("[missing token] [auth middleware] unauthorized => %s", r.URL.Path)
				http.Error(w, "no can do", http.StatusUnauthorized)
				span.SetStatus(codes.Error, "missing-auth-token")
				return
			}

			profile, err := h.authService.ValidateSession(ctx, authToken)
			if err != nil {
				log.Tracef("[invalid token] [auth middleware] unauthorized => %s", r.URL.Path)
				http.Error(w, "no can do", http.StatusUnauthorized)
				span.SetStatus(codes.Error, "invalid-session")
				return
			}

			span.SetStatus(codes.Ok, "ok")
			// the validated profile travels with the request, handlers
			// never consult process-wide login state
			ctx = context.WithValue(ctx, adminContextKey, profile)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
