package observability

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/sandeepkv93/authkit/internal/config"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestRecordMetricHelpersNoPanicWhenUninitialized(t *testing.T) {
	ctx := context.Background()
	metricsMu.Lock()
	appMetrics = nil
	metricsMu.Unlock()

	// Smoke-call every helper with appMetrics=nil; they should all no-op safely.
	RecordAuthLogin(ctx, "local", "success")
	RecordAuthRefresh(ctx, "success")
	RecordAuthLogout(ctx, "success")
	RecordAuthRequestDuration(ctx, "login", "success", 10*time.Millisecond)
	RecordAuthLocalFlowEvent(ctx, "password_forgot", "success")
	RecordAccessTokenValidation(ctx, "valid", "cookie")
	RecordCSRFValidation(ctx, "valid", "api/auth")
	RecordRateLimitDecision(ctx, "login", "allowed", "fail_closed", "subject")
	RecordRateLimitRetryAfter(ctx, "login", "window_exhausted", time.Second)
	RecordSessionManagementEvent(ctx, "revoke_one", "success")
	RecordSessionRevokedCount(ctx, "revoke_others", 2)
	RecordUserProfileEvent(ctx, "success")
	RecordAdminListRequestDuration(ctx, "users", "success", 20*time.Millisecond)
	RecordAdminListPageSize(ctx, "users", 25)
	RecordHealthCheckResult(ctx, "db", "ready")
	RecordHealthCheckDuration(ctx, "db", 5*time.Millisecond)
	RecordDatabaseStartupEvent(ctx, "connect", "success")
	RecordDatabaseStartupDuration(ctx, "migrate", 15*time.Millisecond)
	RecordGoogleOAuthRequestDuration(ctx, "exchange", "success", 12*time.Millisecond)
	RecordGoogleOAuthError(ctx, "timeout")
	RecordMiddlewareValidationEvent(ctx, "csrf", "pass")
}

func TestRecordMetricHelpersEmitExpectedLabelCardinality(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = provider.Shutdown(ctx) }()

	m := newTestAppMetrics(t, provider)
	metricsMu.Lock()
	appMetrics = m
	metricsMu.Unlock()
	defer func() {
		metricsMu.Lock()
		appMetrics = nil
		metricsMu.Unlock()
	}()

	RecordAuthLogin(ctx, "local", "success")
	RecordAuthLogin(ctx, "google", "failure")
	RecordAuthRefresh(ctx, "success")
	RecordAuthLogout(ctx, "success")
	RecordAuthRequestDuration(ctx, "login", "success", 10*time.Millisecond)
	RecordAuthRequestDuration(ctx, "refresh", "failure", 15*time.Millisecond)
	RecordAuthLocalFlowEvent(ctx, "register", "success")
	RecordAuthLocalFlowEvent(ctx, "password_reset", "failure")
	RecordAccessTokenValidation(ctx, "valid", "cookie")
	RecordAccessTokenValidation(ctx, "invalid", "bearer")
	RecordCSRFValidation(ctx, "valid", "api/auth")
	RecordCSRFValidation(ctx, "mismatch", "api/me")
	RecordRateLimitDecision(ctx, "login", "allowed", "fail_closed", "subject")
	RecordRateLimitDecision(ctx, "login", "denied", "fail_closed", "ip")
	RecordRateLimitDecision(ctx, "api", "allowed", "fail_open", "ip")
	RecordRateLimitRetryAfter(ctx, "login", "window_exhausted", time.Second)
	RecordRateLimitRetryAfter(ctx, "api", "backend_error", time.Minute)
	RecordSessionManagementEvent(ctx, "revoke_one", "revoked")
	RecordSessionManagementEvent(ctx, "list", "success")
	RecordSessionRevokedCount(ctx, "revoke_others", 2)
	RecordUserProfileEvent(ctx, "success")
	RecordAdminListRequestDuration(ctx, "users", "success", 20*time.Millisecond)
	RecordAdminListPageSize(ctx, "users", 25)
	RecordHealthCheckResult(ctx, "db", "ready")
	RecordHealthCheckResult(ctx, "redis", "unready")
	RecordHealthCheckDuration(ctx, "db", 5*time.Millisecond)
	RecordDatabaseStartupEvent(ctx, "connect", "success")
	RecordDatabaseStartupEvent(ctx, "migrate", "success")
	RecordDatabaseStartupDuration(ctx, "migrate", 15*time.Millisecond)
	RecordGoogleOAuthRequestDuration(ctx, "exchange", "success", 12*time.Millisecond)
	RecordGoogleOAuthRequestDuration(ctx, "userinfo", "error", 8*time.Millisecond)
	RecordGoogleOAuthError(ctx, "timeout")
	RecordMiddlewareValidationEvent(ctx, "csrf", "pass")
	RecordMiddlewareValidationEvent(ctx, "body_limit", "rejected_too_large")

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}

	expected := map[string]int{
		"auth.login.attempts":                 2,
		"auth.refresh.attempts":               1,
		"auth.logout.attempts":                1,
		"auth.request.duration":               2,
		"auth.local.flow.events":              2,
		"auth.access_token.validation.events": 2,
		"security.csrf.validation.events":     2,
		"http.rate_limit.decisions":           3,
		"http.rate_limit.retry_after":         2,
		"session.management.events":           2,
		"session.revoked.count":               1,
		"user.profile.events":                 1,
		"admin.list.request.duration":         1,
		"admin.list.page_size":                1,
		"health.check.results":                2,
		"health.check.duration":               1,
		"database.startup.events":             2,
		"database.startup.duration":           1,
		"auth.oauth.google.request.duration":  2,
		"auth.oauth.google.errors":            1,
		"http.middleware.validation.events":   2,
	}

	observed := collectLabelCardinality(t, rm)
	for metricName, want := range expected {
		got, ok := observed[metricName]
		if !ok {
			t.Fatalf("missing metric datapoint for %s", metricName)
		}
		if got != want {
			t.Fatalf("metric %s label cardinality mismatch: got=%d want=%d", metricName, got, want)
		}
	}
}

func TestInitMetricsDisabledReturnsProvider(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{OTELMetricsEnabled: false}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	mp, err := InitMetrics(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("init metrics disabled: %v", err)
	}
	if mp == nil {
		t.Fatal("expected non-nil meter provider")
	}
	_ = mp.Shutdown(ctx)
}

func newTestAppMetrics(t *testing.T, provider *sdkmetric.MeterProvider) *AppMetrics {
	t.Helper()
	meter := provider.Meter("observability-test")

	counter := func(name string) metric.Int64Counter {
		t.Helper()
		c, err := meter.Int64Counter(name)
		if err != nil {
			t.Fatalf("create counter %s: %v", name, err)
		}
		return c
	}
	hist := func(name string) metric.Float64Histogram {
		t.Helper()
		h, err := meter.Float64Histogram(name)
		if err != nil {
			t.Fatalf("create histogram %s: %v", name, err)
		}
		return h
	}

	return &AppMetrics{
		authLoginCounter:             counter("auth.login.attempts"),
		authRefreshCounter:           counter("auth.refresh.attempts"),
		authLogoutCounter:            counter("auth.logout.attempts"),
		authReqDuration:              hist("auth.request.duration"),
		authLocalFlowCounter:         counter("auth.local.flow.events"),
		accessTokenValidationCounter: counter("auth.access_token.validation.events"),
		csrfValidationCounter:        counter("security.csrf.validation.events"),
		rateLimitDecisionCounter:     counter("http.rate_limit.decisions"),
		rateLimitRetryAfter:          hist("http.rate_limit.retry_after"),
		sessionManagementCounter:     counter("session.management.events"),
		sessionRevokedCount:          hist("session.revoked.count"),
		userProfileCounter:           counter("user.profile.events"),
		adminListReqDuration:         hist("admin.list.request.duration"),
		adminListPageSize:            hist("admin.list.page_size"),
		healthCheckResultCounter:     counter("health.check.results"),
		healthCheckDuration:          hist("health.check.duration"),
		databaseStartupCounter:       counter("database.startup.events"),
		databaseStartupDuration:      hist("database.startup.duration"),
		oauthGoogleReqDuration:       hist("auth.oauth.google.request.duration"),
		oauthGoogleErrorsCounter:     counter("auth.oauth.google.errors"),
		httpMiddlewareValidation:     counter("http.middleware.validation.events"),
	}
}

func collectLabelCardinality(t *testing.T, rm metricdata.ResourceMetrics) map[string]int {
	t.Helper()
	out := map[string]int{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				out[m.Name] = len(data.DataPoints)
			case metricdata.Histogram[float64]:
				out[m.Name] = len(data.DataPoints)
			}
		}
	}
	return out
}
