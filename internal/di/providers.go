package di

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/sandeepkv93/authkit/internal/app"
	"github.com/sandeepkv93/authkit/internal/config"
	"github.com/sandeepkv93/authkit/internal/database"
	"github.com/sandeepkv93/authkit/internal/health"
	"github.com/sandeepkv93/authkit/internal/http/handler"
	"github.com/sandeepkv93/authkit/internal/http/middleware"
	"github.com/sandeepkv93/authkit/internal/http/router"
	"github.com/sandeepkv93/authkit/internal/observability"
	"github.com/sandeepkv93/authkit/internal/ratelimit"
	"github.com/sandeepkv93/authkit/internal/repository"
	"github.com/sandeepkv93/authkit/internal/security"
	"github.com/sandeepkv93/authkit/internal/service"
	"github.com/sandeepkv93/authkit/internal/token"
	"github.com/sandeepkv93/authkit/internal/twofactor"
)

const redisRateLimitPrefix = "authkit:rl"

var ConfigSet = wire.NewSet(config.Load)

var ObservabilitySet = wire.NewSet(
	provideObservabilityRuntime,
	provideAppLogger,
)

var RuntimeInfraSet = wire.NewSet(
	provideRuntimeDB,
	provideRedisClient,
	provideReadinessProbeRunner,
)

var RepositorySet = wire.NewSet(
	repository.NewUserRepository,
	repository.NewSessionRepository,
	repository.NewAuthTokenRepository,
	repository.NewTwoFactorConfirmationRepository,
	repository.NewOAuthRepository,
)

var SecuritySet = wire.NewSet(
	provideJWTManager,
	provideCookieManager,
)

var ServiceSet = wire.NewSet(
	token.NewLedger,
	provideTwoFactorEngine,
	provideThrottleLimiter,
	provideAuthAbuseGuard,
	provideNotifier,
	wire.Bind(new(service.EmailVerificationNotifier), new(*service.DevNotifier)),
	wire.Bind(new(service.PasswordResetNotifier), new(*service.DevNotifier)),
	wire.Bind(new(service.TwoFactorCodeNotifier), new(*service.DevNotifier)),
	service.NewGoogleOAuthProvider,
	wire.Bind(new(service.OAuthProvider), new(*service.GoogleOAuthProvider)),
	service.NewOAuthService,
	service.NewUserService,
	provideTokenService,
	provideSessionService,
	service.NewAuthService,
	wire.Bind(new(service.UserServiceInterface), new(*service.UserService)),
	wire.Bind(new(service.AuthServiceInterface), new(*service.AuthService)),
)

var HTTPSet = wire.NewSet(
	provideAuthHandler,
	handler.NewUserHandler,
	handler.NewAdminHandler,
	provideAuthGate,
	provideGlobalRateLimiter,
	provideAuthRateLimiter,
	provideForgotRateLimiter,
	provideRouterDependencies,
	router.NewRouter,
	provideHTTPServer,
)

var AppSet = wire.NewSet(provideApp)

type MigrationRunner struct {
	cfg *config.Config
	db  *gorm.DB
}

func NewMigrationRunner(cfg *config.Config, db *gorm.DB) *MigrationRunner {
	return &MigrationRunner{cfg: cfg, db: db}
}

func (m *MigrationRunner) Run() error {
	if err := database.Migrate(m.db); err != nil {
		return err
	}
	if err := database.Seed(m.db, m.cfg.BootstrapAdminEmail); err != nil {
		return err
	}
	fmt.Println("migration complete")
	return nil
}

func provideObservabilityRuntime(cfg *config.Config) (*observability.Runtime, error) {
	bootstrapLogger := observability.NewBootstrapLogger(cfg)
	return observability.InitRuntime(context.Background(), cfg, bootstrapLogger)
}

func provideAppLogger(cfg *config.Config, runtime *observability.Runtime) *slog.Logger {
	return observability.InitLogger(cfg, runtime.LoggerProvider)
}

func provideOpenDB(cfg *config.Config) (*gorm.DB, error) {
	return database.Open(cfg)
}

func provideRuntimeDB(cfg *config.Config) (*gorm.DB, error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		return nil, err
	}
	if err := database.Seed(db, cfg.BootstrapAdminEmail); err != nil {
		return nil, err
	}
	return db, nil
}

func provideRedisClient(cfg *config.Config, logger *slog.Logger) redis.UniversalClient {
	if !cfg.RateLimitRedisEnabled {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	observability.InstrumentRedisClient(client, logger)
	return client
}

func provideJWTManager(cfg *config.Config) *security.JWTManager {
	return security.NewJWTManager(cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTAccessSecret, cfg.JWTRefreshSecret)
}

func provideCookieManager(cfg *config.Config) *security.CookieManager {
	return security.NewCookieManager(cfg.CookieDomain, cfg.CookieSecure, cfg.CookieSameSite)
}

func provideTwoFactorEngine(cfg *config.Config, users repository.UserRepository, confirmations repository.TwoFactorConfirmationRepository) *twofactor.Engine {
	return twofactor.NewEngine(users, confirmations, cfg.TOTPIssuer, cfg.TOTPTestSkew)
}

func provideThrottleLimiter(cfg *config.Config, redisClient redis.UniversalClient) ratelimit.Limiter {
	if cfg.RateLimitRedisEnabled && redisClient != nil {
		return ratelimit.NewRedisFixedWindowLimiter(redisClient, redisRateLimitPrefix+":throttle")
	}
	return ratelimit.NewLocalFixedWindowLimiter()
}

func provideAuthAbuseGuard(cfg *config.Config, redisClient redis.UniversalClient) service.AuthAbuseGuard {
	if cfg.RateLimitRedisEnabled && redisClient != nil {
		return service.NewRedisAuthAbuseGuard(redisClient, "authkit:abuse", service.AuthAbusePolicy{})
	}
	return service.NewInMemoryAuthAbuseGuard(service.AuthAbusePolicy{})
}

func provideNotifier(logger *slog.Logger) *service.DevNotifier {
	return service.NewDevNotifier(logger)
}

func provideTokenService(cfg *config.Config, jwt *security.JWTManager, sessionRepo repository.SessionRepository) *service.TokenService {
	return service.NewTokenService(jwt, sessionRepo, cfg.RefreshTokenPepper, cfg.JWTAccessTTL, cfg.JWTRefreshTTL)
}

func provideSessionService(cfg *config.Config, tokenSvc *service.TokenService, sessionRepo repository.SessionRepository, engine *twofactor.Engine) *service.SessionService {
	return service.NewSessionService(tokenSvc, sessionRepo, engine, cfg.RefreshTokenPepper, cfg.JWTAccessTTL)
}

func provideAuthHandler(authSvc service.AuthServiceInterface, engine *twofactor.Engine, cookieMgr *security.CookieManager, cfg *config.Config) *handler.AuthHandler {
	return handler.NewAuthHandler(authSvc, engine, cookieMgr, cfg.StateSigningSecret, cfg.JWTRefreshTTL)
}

func provideAuthGate(jwt *security.JWTManager) *middleware.AuthGate {
	return middleware.NewAuthGate(jwt, middleware.GateRoutes{
		APIAuthPrefix: "/api/v1/auth",
		AuthRoutes:    []string{"/auth/login", "/auth/register", "/auth/error", "/auth/reset", "/auth/new-password"},
		PublicRoutes:  []string{"/", "/auth/new-verification"},
		LoginPath:     "/auth/login",
	})
}

func provideGlobalRateLimiter(cfg *config.Config, redisClient redis.UniversalClient, jwt *security.JWTManager) router.GlobalRateLimiterFunc {
	if cfg.RateLimitRedisEnabled && redisClient != nil {
		redisLimiter := ratelimit.NewRedisFixedWindowLimiter(redisClient, redisRateLimitPrefix+":api")
		return router.GlobalRateLimiterFunc(middleware.NewDistributedRateLimiterWithKey(
			redisLimiter,
			cfg.APIRateLimitPerMin,
			time.Minute,
			middleware.FailOpen,
			"api",
			middleware.SubjectOrIPKeyFunc(jwt),
		).Middleware())
	}
	return router.GlobalRateLimiterFunc(middleware.NewRateLimiter(cfg.APIRateLimitPerMin, time.Minute).Middleware())
}

func provideAuthRateLimiter(cfg *config.Config, redisClient redis.UniversalClient) router.AuthRateLimiterFunc {
	if cfg.RateLimitRedisEnabled && redisClient != nil {
		redisLimiter := ratelimit.NewRedisFixedWindowLimiter(redisClient, redisRateLimitPrefix+":auth")
		return router.AuthRateLimiterFunc(middleware.NewDistributedRateLimiter(
			redisLimiter,
			cfg.AuthRateLimitPerMin,
			time.Minute,
			middleware.FailClosed,
			"auth",
		).Middleware())
	}
	return router.AuthRateLimiterFunc(middleware.NewRateLimiter(cfg.AuthRateLimitPerMin, time.Minute).Middleware())
}

func provideForgotRateLimiter(cfg *config.Config, redisClient redis.UniversalClient) router.ForgotRateLimiterFunc {
	if cfg.RateLimitRedisEnabled && redisClient != nil {
		redisLimiter := ratelimit.NewRedisFixedWindowLimiter(redisClient, redisRateLimitPrefix+":forgot")
		return router.ForgotRateLimiterFunc(middleware.NewDistributedRateLimiter(
			redisLimiter,
			cfg.AuthPasswordForgotRateLimitPerMin,
			time.Minute,
			middleware.FailClosed,
			"forgot",
		).Middleware())
	}
	return router.ForgotRateLimiterFunc(middleware.NewRateLimiter(cfg.AuthPasswordForgotRateLimitPerMin, time.Minute).Middleware())
}

func provideRouterDependencies(
	authHandler *handler.AuthHandler,
	userHandler *handler.UserHandler,
	adminHandler *handler.AdminHandler,
	jwt *security.JWTManager,
	gate *middleware.AuthGate,
	globalLimiter router.GlobalRateLimiterFunc,
	authLimiter router.AuthRateLimiterFunc,
	forgotLimiter router.ForgotRateLimiterFunc,
	readiness *health.ProbeRunner,
	cfg *config.Config,
) router.Dependencies {
	return router.Dependencies{
		AuthHandler:      authHandler,
		UserHandler:      userHandler,
		AdminHandler:     adminHandler,
		JWTManager:       jwt,
		AuthGate:         gate,
		CORSOrigins:      cfg.CORSAllowedOrigins,
		APIRateLimitRPM:  cfg.APIRateLimitPerMin,
		AuthRateLimitRPM: cfg.AuthRateLimitPerMin,
		ForgotRateLimit:  cfg.AuthPasswordForgotRateLimitPerMin,
		GlobalLimiter:    globalLimiter,
		AuthLimiter:      authLimiter,
		ForgotLimiter:    forgotLimiter,
		Readiness:        readiness,
		EnableOTelHTTP:   cfg.OTELMetricsEnabled || cfg.OTELTracingEnabled,
	}
}

func provideHTTPServer(cfg *config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           h,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func provideReadinessProbeRunner(cfg *config.Config, db *gorm.DB, redisClient redis.UniversalClient) *health.ProbeRunner {
	checkers := make([]health.Checker, 0, 2)
	if c := health.NewDBChecker(db); c != nil {
		checkers = append(checkers, c)
	}
	if cfg.RateLimitRedisEnabled {
		if c := health.NewRedisChecker(redisClient); c != nil {
			checkers = append(checkers, c)
		}
	}
	return health.NewProbeRunner(cfg.ReadinessProbeTimeout, cfg.ServerStartGracePeriod, checkers...)
}

func provideApp(
	cfg *config.Config,
	logger *slog.Logger,
	server *http.Server,
	runtime *observability.Runtime,
	db *gorm.DB,
	redisClient redis.UniversalClient,
	readiness *health.ProbeRunner,
) *app.App {
	return app.New(cfg, logger, server, runtime, db, redisClient, readiness)
}
