package internal

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/IBM/pgxpoolprometheus"
	"github.com/getsentry/sentry-go"
	"github.com/go-redis/redis/extra/redisotel/v8"
	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redis_rate/v9"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/casinoscope/casinoscopecom/internal/audit"
	"github.com/casinoscope/casinoscopecom/internal/auth"
	"github.com/casinoscope/casinoscopecom/internal/casino"
	"github.com/casinoscope/casinoscopecom/internal/config"
	"github.com/casinoscope/casinoscopecom/internal/db"
	"github.com/casinoscope/casinoscopecom/internal/geoip"
	"github.com/casinoscope/casinoscopecom/internal/middleware"
	"github.com/casinoscope/casinoscopecom/internal/misc"
	"github.com/casinoscope/casinoscopecom/internal/ratelimit"
	"github.com/casinoscope/casinoscopecom/internal/telemetry/metrics"
	"github.com/casinoscope/casinoscopecom/internal/telemetry/tracing"
)

type Server struct {
	httpServer        *http.Server
	metricsHttpServer *http.Server
	versionInfo       string

	config      *config.Config
	dbPool      *pgxpool.Pool
	redisClient *redis.Client

	geoIp         *geoip.Api
	rateLimiter   *ratelimit.Limiter
	authService   *auth.Service
	auditRecorder *audit.Recorder

	// metrics
	metricsManager *metrics.Manager
	promRegistry   *prometheus.Registry
	otelShutdown   func()
}

type NewServerParams struct {
	Config                  *config.Config
	IpInfoAPIKey            string
	SessionSigningSecret    string
	RedisPassword           string
	VersionInfo             string
	HoneycombTracingEnabled bool
}

func NewServer(
	ctx context.Context,
	params NewServerParams,
) (*Server, error) {
	if params.SessionSigningSecret == "" {
		return nil, errors.New("session signing secret not set")
	}

	dbPool, err := db.NewDBPool(ctx, db.NewDBPoolParams{
		DBHost:         params.Config.PostgresHost,
		DBPort:         params.Config.PostgresPort,
		DBName:         params.Config.PostgresDBName,
		TracingEnabled: params.HoneycombTracingEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("new db pool: %w", err)
	}

	if err := dbPool.Ping(ctx); err != nil {
		log.Warnf("failed to ping db: %s", err)
	}

	pgxpoolCollector := pgxpoolprometheus.NewCollector(
		dbPool,
		map[string]string{"db_name": params.Config.PostgresDBName},
	)
	promRegistry := metrics.SetupPrometheus(pgxpoolCollector)
	metricsManager := metrics.NewManager("backend", "main", promRegistry)
	metricsManager.GaugeLifeSignal.Set(0)

	rdb := redis.NewClient(&redis.Options{
		Addr:     net.JoinHostPort(params.Config.RedisHost, params.Config.RedisPort),
		Password: params.RedisPassword,
		DB:       0, // use default DB
	})
	if params.HoneycombTracingEnabled {
		rdb.AddHook(redisotel.NewTracingHook())
	}

	rdbStatus := rdb.Ping(ctx)
	if err := rdbStatus.Err(); err != nil {
		log.Errorf("--> failed to ping redis: %s", err)
	} else {
		log.Debugf("redis ping: %s", rdbStatus.Val())
	}

	otelShutdown, err := tracing.HoneycombSetup(params.HoneycombTracingEnabled, "main-backend")
	if err != nil {
		return nil, err
	}

	tracedHttpClient := &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	geoIp := geoip.NewApi(
		geoip.NewIPInfoClient(tracedHttpClient, params.IpInfoAPIKey),
		rdb,
	)

	// the limiter falls back through redis -> postgres, and in
	// non-production also to process memory as a last resort
	rateLimitStore, err := ratelimit.NewStore(
		ctx,
		params.Config.RateLimitStore,
		rdb,
		dbPool,
		!params.Config.IsProduction(),
	)
	if err != nil {
		return nil, fmt.Errorf("new rate limit store: %w", err)
	}
	rateLimiter := ratelimit.NewLimiter(rateLimitStore)
	log.Infof("rate limit store backend: %s", rateLimiter.StoreName())

	auditRecorder := audit.
		NewRecorder(audit.NewRepo(dbPool), metricsManager).
		WithGeo(geoIp)

	authService := auth.NewService(
		auth.NewRepo(dbPool),
		auditRecorder,
		auth.NewTokenSigner([]byte(params.SessionSigningSecret)),
	)

	return &Server{
		config:      params.Config,
		versionInfo: params.VersionInfo,
		dbPool:      dbPool,
		redisClient: rdb,

		geoIp:         geoIp,
		rateLimiter:   rateLimiter,
		authService:   authService,
		auditRecorder: auditRecorder,

		// telemetry
		metricsManager: metricsManager,
		promRegistry:   promRegistry,
		otelShutdown:   otelShutdown,
	}, nil
}

func (s *Server) routerSetup() (*mux.Router, error) {
	r := mux.NewRouter()
	r.Use(otelmux.Middleware("main-router"))

	var listingCache *casino.ListingCache
	if s.config.ListingsCacheDisabled {
		log.Warnln("casino listings cache disabled")
	} else {
		listingCache = casino.NewListingCache()
	}

	casinoHandler := casino.NewHandler(
		casino.NewRepo(s.dbPool),
		listingCache,
		s.authService,
	)

	// public casino catalogue
	r.HandleFunc("/casinos", casinoHandler.HandleList).Methods("GET", "OPTIONS").Name("list-casinos")
	r.HandleFunc("/casinos/{id}", casinoHandler.HandleGet).Methods("GET", "OPTIONS").Name("get-casino")
	r.HandleFunc("/casinos/{id}/bonuses", casinoHandler.HandleBonuses).Methods("GET", "OPTIONS").Name("casino-bonuses")

	// admin casino management, behind the auth middleware plus a
	// persistent rate limit of its own
	adminRouter := r.PathPrefix("/admin").Subrouter()
	adminRouter.HandleFunc("/casinos", casinoHandler.HandleAdminList).Methods("GET", "OPTIONS").Name("admin-list-casinos")
	adminRouter.HandleFunc("/casinos", casinoHandler.HandleAdd).Methods("POST", "OPTIONS").Name("new-casino")
	adminRouter.HandleFunc("/casinos/{id}", casinoHandler.HandleUpdate).Methods("PUT", "OPTIONS").Name("update-casino")
	adminRouter.HandleFunc("/casinos/{id}", casinoHandler.HandleDelete).Methods("DELETE", "OPTIONS").Name("remove-casino")
	adminRouter.HandleFunc("/casinos/{id}/bonuses", casinoHandler.HandleAddBonus).Methods("POST", "OPTIONS").Name("new-bonus")
	adminRouter.HandleFunc("/bonuses/{id}", casinoHandler.HandleDeleteBonus).Methods("DELETE", "OPTIONS").Name("remove-bonus")
	adminRouter.Use(middleware.PersistentRateLimit(
		s.rateLimiter,
		"admin",
		s.config.RateLimitAdmin.Policy(),
		s.metricsManager,
		s.auditRecorder,
	))

	miscHandler := misc.NewHandler(s.geoIp, s.versionInfo, s.authService, s.metricsManager)
	miscHandler.SetupRoutes(r, s.rateLimiter, s.config.RateLimitStrict.Policy(), s.auditRecorder)

	// all the rest - unhandled paths
	r.HandleFunc("/{unknown}", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}).Methods("GET", "POST", "PUT", "OPTIONS").Name("unknown")

	authMiddleware := middleware.NewAuthMiddlewareHandler(s.authService)
	reqRateLimiter := redis_rate.NewLimiter(s.redisClient)

	r.Use(middleware.PanicRecovery(s.metricsManager))
	r.Use(middleware.LogRequest())
	r.Use(middleware.RequestMetrics(s.metricsManager))
	r.Use(middleware.RateLimit(reqRateLimiter, "main", s.config.PublicReqsPerMin))
	r.Use(middleware.Cors())
	r.Use(authMiddleware.AuthCheck())
	r.Use(middleware.DrainAndCloseRequest())

	return r, nil
}

func (s *Server) Serve(host string, port int) {
	router, err := s.routerSetup()
	if err != nil {
		log.Fatalf("failed to setup router: %s", err)
	}

	ipAndPort := net.JoinHostPort(host, strconv.Itoa(port))
	s.httpServer = &http.Server{
		Handler:      router,
		Addr:         ipAndPort,
		WriteTimeout: time.Minute,
		ReadTimeout:  time.Minute,
		ConnState:    s.connStateMetrics,
	}

	metricsRouter := mux.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.HandlerFor(
		s.promRegistry,
		promhttp.HandlerOpts{},
	))
	metricsAddr := net.JoinHostPort(s.config.PrometheusMetricsHost, s.config.PrometheusMetricsPort)
	s.metricsHttpServer = &http.Server{
		Addr:    metricsAddr,
		Handler: metricsRouter,
	}

	go func() {
		log.Infof(" > server listening on: [%s]", ipAndPort)
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("main service, listen and serve: %s", err)
		}
	}()

	go func() {
		log.Debugf(" > metrics listening on: [%s]", metricsAddr)
		err := s.metricsHttpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("metrics service, listen and serve: %s", err)
		}
	}()

	s.metricsManager.GaugeLifeSignal.Set(1)
}

func (s *Server) GracefulShutdown() {
	log.Debug("graceful shutdown initiated ...")

	s.metricsManager.GaugeLifeSignal.Set(0)

	s.otelShutdown()
	log.Trace("otel shut down ...")

	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			log.Errorf("failed to close redis client conn: %s", err)
		}
	}

	if s.dbPool != nil {
		log.Debugln("closing db pool ...")
		s.dbPool.Close() // blocking operation
		log.Debugln("db pool closed")
	}

	if ok := sentry.Flush(5 * time.Second); ok {
		log.Debugf("sentry flush ok: %t", ok)
	}

	maxWaitDuration := time.Second * 15
	ctx, timeoutCancel := context.WithTimeout(context.Background(), maxWaitDuration)
	defer timeoutCancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Error(" >>> failed to gracefully shutdown http server")
	}
	log.Warnln("server shut down")

	if err := s.metricsHttpServer.Shutdown(ctx); err != nil {
		log.Error(" >>> failed to gracefully shutdown metrics http server")
	}
	log.Warnln("metrics server shut down")
}

func (s *Server) connStateMetrics(_ net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		s.metricsManager.GaugeRequests.Add(1)
	case http.StateClosed:
		s.metricsManager.GaugeRequests.Add(-1)
	default:
		// do nothing
	}
}
