package misc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/casinoscope/casinoscopecom/internal/audit"
	"github.com/casinoscope/casinoscopecom/internal/auth"
	"github.com/casinoscope/casinoscopecom/internal/geoip"
	"github.com/casinoscope/casinoscopecom/internal/middleware"
	"github.com/casinoscope/casinoscopecom/internal/ratelimit"
	"github.com/casinoscope/casinoscopecom/internal/telemetry/metrics"
	"github.com/casinoscope/casinoscopecom/internal/telemetry/tracing"
	"github.com/casinoscope/casinoscopecom/pkg"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type geoIpApi interface {
	GetIPGeoInfo(ctx context.Context, ip string) (*geoip.Info, error)
}

type securityAuditor interface {
	Record(ctx context.Context, event *audit.Event)
}

type authService interface {
	SignIn(ctx context.Context, creds auth.Credentials, clientIp, userAgent string) (*auth.Session, error)
	SignOut(ctx context.Context, token, clientIp string)
	VerifyPin(ctx context.Context, pin, token, clientIp string) bool
}

type Handler struct {
	geoIp       geoIpApi
	versionInfo string
	authService authService
	metrics     *metrics.Manager
}

func NewHandler(
	geoIp geoIpApi,
	versionInfo string,
	authService authService,
	metricsManager *metrics.Manager,
) *Handler {
	return &Handler{
		geoIp:       geoIp,
		versionInfo: versionInfo,
		authService: authService,
		metrics:     metricsManager,
	}
}

func (handler *Handler) SetupRoutes(
	mainRouter *mux.Router,
	loginLimiter *ratelimit.Limiter,
	loginPolicy ratelimit.Policy,
	auditor securityAuditor,
) {
	mainRouter.HandleFunc("/", handler.handleRoot).Methods("GET", "POST", "OPTIONS").Name("root")
	mainRouter.HandleFunc("/whereami", handler.handleWhereAmI).Methods("GET").Name("whereami")
	mainRouter.HandleFunc("/myip", handler.handleGetMyIp).Methods("GET").Name("myip")
	mainRouter.HandleFunc("/version", handler.handleGetVersionInfo).Methods("GET").Name("version")

	sessionSubrouter := mainRouter.PathPrefix("/a").Subrouter()
	sessionSubrouter.
		HandleFunc("/login", handler.handleLogin).
		Methods("POST", "OPTIONS").Name("login")
	sessionSubrouter.
		HandleFunc("/logout", handler.handleLogout).
		Methods("GET", "OPTIONS").Name("logout")
	sessionSubrouter.
		HandleFunc("/session", handler.handleSession).
		Methods("GET", "OPTIONS").Name("session")
	sessionSubrouter.
		HandleFunc("/pin", handler.handleVerifyPin).
		Methods("POST", "OPTIONS").Name("verify-pin")

	// the login endpoints sit behind the persistent limiter, lockout
	// alone does not stop password spraying across many accounts
	sessionSubrouter.Use(middleware.PersistentRateLimit(loginLimiter, "login", loginPolicy, handler.metrics, auditor))
	sessionSubrouter.Use(middleware.Cors())
}

func (handler *Handler) handleRoot(w http.ResponseWriter, _ *http.Request) {
	pkg.WriteTextResponseOK(w, "I'm OK, thanks ;)")
}

func (handler *Handler) handleWhereAmI(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "miscHandler.whereAmI")
	defer span.End()

	userIP, err := pkg.ReadUserIP(r)
	if err != nil {
		span.SetStatus(codes.Error, fmt.Sprintf("get user ip: %s", err))
		http.Error(w, "geo ip info error", http.StatusInternalServerError)
		return
	}

	span.SetAttributes(attribute.String("user.ip", userIP))

	ipInfo, err := handler.geoIp.GetIPGeoInfo(ctx, userIP)
	if err != nil {
		span.SetStatus(codes.Error, fmt.Sprintf("get request geo info: %s", err))
		log.Errorf("error getting geo ip info: %s", err)
		http.Error(w, "geo ip info error", http.StatusInternalServerError)
		return
	}

	span.SetAttributes(attribute.String("user.city", ipInfo.City))
	span.SetAttributes(attribute.String("user.country", ipInfo.Country))

	geoResp := fmt.Sprintf(`{"city":"%s", "country":"%s"}`, ipInfo.City, ipInfo.Country)
	pkg.WriteJSONResponseOK(w, geoResp)
}

func (handler *Handler) handleGetMyIp(w http.ResponseWriter, r *http.Request) {
	_, span := tracing.GlobalTracer.Start(r.Context(), "miscHandler.getMyIp")
	defer span.End()

	ip, err := pkg.ReadUserIP(r)
	if err != nil {
		span.SetStatus(codes.Error, fmt.Sprintf("failed to get user IP address: %s", err))
		log.Errorf("failed to get user IP address: %s", err)
		http.Error(w, "failed to get IP", http.StatusInternalServerError)
		return
	}

	span.SetAttributes(attribute.String("user.ip", ip))
	span.SetStatus(codes.Ok, fmt.Sprintf("user IP address: %s", ip))
	pkg.WriteTextResponseOK(w, ip)
}

func (handler *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "miscHandler.login")
	defer span.End()

	if r.Method == http.MethodOptions {
		w.Header().Add("Allow", "POST, OPTIONS")
		w.WriteHeader(http.StatusOK)
		return
	}

	type loginRequest struct {
		Email      string `json:"email"`
		Password   string `json:"password"`
		RememberMe bool   `json:"rememberMe"`
	}

	var loginReq loginRequest
	if r.Header.Get("Content-Type") == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&loginReq); err != nil {
			log.Errorf("login, unmarshal json params: %s", err)
			http.Error(w, "login failed", http.StatusBadRequest)
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			log.Errorf("login failed, parse form error: %s", err)
			http.Error(w, "parse form error", http.StatusInternalServerError)
			return
		}
		loginReq = loginRequest{
			Email:      r.Form.Get("email"),
			Password:   r.Form.Get("password"),
			RememberMe: r.Form.Get("rememberMe") == "true",
		}
	}

	if loginReq.Email == "" {
		http.Error(w, "error, email empty", http.StatusBadRequest)
		return
	}
	if loginReq.Password == "" {
		http.Error(w, "error, password empty", http.StatusBadRequest)
		return
	}

	clientIp, _ := pkg.ReadUserIP(r)
	session, err := handler.authService.SignIn(ctx, auth.Credentials{
		Email:      loginReq.Email,
		Password:   loginReq.Password,
		RememberMe: loginReq.RememberMe,
	}, clientIp, r.UserAgent())
	if err != nil {
		if handler.metrics != nil {
			handler.metrics.CounterFailedLogins.Inc()
		}
		if errors.Is(err, auth.ErrLoginLocked) {
			if handler.metrics != nil {
				handler.metrics.CounterLoginLockouts.Inc()
			}
			http.Error(w, "too many failed login attempts, try again later", http.StatusTooManyRequests)
			return
		}
		// one uniform answer for every other failure
		http.Error(w, "error, wrong credentials", http.StatusUnauthorized)
		return
	}

	log.Trace("new login success")

	sessionJson, err := json.Marshal(session)
	if err != nil {
		log.Errorf("login, marshal session: %s", err)
		http.Error(w, "login failed", http.StatusInternalServerError)
		return
	}
	pkg.WriteResponseBytesOK(w, pkg.ContentType.JSON, sessionJson)
}

func (handler *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "miscHandler.logout")
	defer span.End()

	if r.Method == http.MethodOptions {
		w.Header().Add("Allow", "GET, OPTIONS")
		w.WriteHeader(http.StatusOK)
		return
	}

	// best-effort: an invalid or expired token still gets the same
	// answer, there is nothing useful to tell an attacker here
	clientIp, _ := pkg.ReadUserIP(r)
	handler.authService.SignOut(ctx, middleware.ReadAuthToken(r), clientIp)

	pkg.WriteTextResponseOK(w, "logged-out")
}

// handleSession returns the profile behind a valid session token, the
// admin panel uses it to restore state after a reload. The route is not
// in the allow list, so the auth middleware already validated the token.
func (handler *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	_, span := tracing.GlobalTracer.Start(r.Context(), "miscHandler.session")
	defer span.End()

	profile := middleware.AdminFromRequest(r)
	if profile == nil {
		http.Error(w, "no can do", http.StatusUnauthorized)
		return
	}

	profileJson, err := json.Marshal(profile)
	if err != nil {
		log.Errorf("session, marshal profile: %s", err)
		http.Error(w, "session check failed", http.StatusInternalServerError)
		return
	}
	pkg.WriteResponseBytesOK(w, pkg.ContentType.JSON, profileJson)
}

func (handler *Handler) handleVerifyPin(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "miscHandler.verifyPin")
	defer span.End()

	if r.Method == http.MethodOptions {
		w.Header().Add("Allow", "POST, OPTIONS")
		w.WriteHeader(http.StatusOK)
		return
	}

	type pinRequest struct {
		Pin string `json:"pin"`
	}

	var pinReq pinRequest
	if err := json.NewDecoder(r.Body).Decode(&pinReq); err != nil {
		log.Tracef("verify pin, unmarshal json params: %s", err)
		http.Error(w, "pin verification failed", http.StatusBadRequest)
		return
	}
	if pinReq.Pin == "" {
		http.Error(w, "error, pin empty", http.StatusBadRequest)
		return
	}

	clientIp, _ := pkg.ReadUserIP(r)
	if !handler.authService.VerifyPin(ctx, pinReq.Pin, middleware.ReadAuthToken(r), clientIp) {
		http.Error(w, "pin verification failed", http.StatusForbidden)
		return
	}

	pkg.WriteJSONResponseOK(w, `{"verified": true}`)
}

func (handler *Handler) handleGetVersionInfo(w http.ResponseWriter, _ *http.Request) {
	pkg.WriteTextResponseOK(w, handler.versionInfo)
}
