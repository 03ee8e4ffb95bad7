package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments of the token engine
type Metrics struct {
	// HTTP Layer Metrics
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Token Engine Metrics
	TokensIssued          metric.Int64Counter
	TokensRevoked         metric.Int64Counter
	RedemptionRejected    metric.Int64Counter
	TokenValidationFailed metric.Int64Counter
	ClientRegistered      metric.Int64Counter
	ClientDeleted         metric.Int64Counter

	// Security Metrics
	RateLimitExceeded metric.Int64Counter

	// Storage Metrics
	StorageOperationTotal     metric.Int64Counter
	StorageOperationDuration  metric.Float64Histogram
	StorageClientsCount       metric.Int64ObservableGauge
	StorageAuthCodesCount     metric.Int64ObservableGauge
	StorageAccessTokensCount  metric.Int64ObservableGauge
	StorageRefreshTokensCount metric.Int64ObservableGauge
}

type counterSpec struct {
	target      *metric.Int64Counter
	meter       metric.Meter
	name        string
	description string
	unit        string
}

type gaugeSpec struct {
	target      *metric.Int64ObservableGauge
	name        string
	description string
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}

	httpMeter := inst.Meter("http")
	serverMeter := inst.Meter("server")
	securityMeter := inst.Meter("security")
	storageMeter := inst.Meter("storage")

	counters := []counterSpec{
		{&m.HTTPRequestsTotal, httpMeter, "oauth.http.requests.total", "Total number of HTTP requests", "{request}"},
		{&m.TokensIssued, serverMeter, "oauth.token.issued", "Number of access tokens issued", "{token}"},
		{&m.TokensRevoked, serverMeter, "oauth.token.revoked", "Number of access tokens revoked", "{token}"},
		{&m.RedemptionRejected, serverMeter, "oauth.redemption.rejected", "Number of codes or refresh tokens that could not be redeemed", "{attempt}"},
		{&m.TokenValidationFailed, serverMeter, "oauth.token.validation_failed", "Number of bearer tokens rejected", "{token}"},
		{&m.ClientRegistered, serverMeter, "oauth.client.registered", "Number of clients registered", "{client}"},
		{&m.ClientDeleted, serverMeter, "oauth.client.deleted", "Number of clients deleted", "{client}"},
		{&m.RateLimitExceeded, securityMeter, "oauth.rate_limit.exceeded", "Number of rate limit violations", "{violation}"},
		{&m.StorageOperationTotal, storageMeter, "storage.operation.total", "Total number of storage operations", "{operation}"},
	}
	for _, c := range counters {
		counter, err := c.meter.Int64Counter(c.name,
			metric.WithDescription(c.description),
			metric.WithUnit(c.unit),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
		*c.target = counter
	}

	var err error
	m.HTTPRequestDuration, err = httpMeter.Float64Histogram(
		"oauth.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.request.duration histogram: %w", err)
	}

	m.StorageOperationDuration, err = storageMeter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.duration histogram: %w", err)
	}

	gauges := []gaugeSpec{
		{&m.StorageClientsCount, "storage.clients.count", "Number of registered clients"},
		{&m.StorageAuthCodesCount, "storage.auth_codes.count", "Number of outstanding authorization codes"},
		{&m.StorageAccessTokensCount, "storage.access_tokens.count", "Number of stored access tokens"},
		{&m.StorageRefreshTokensCount, "storage.refresh_tokens.count", "Number of live refresh tokens"},
	}
	for _, g := range gauges {
		gauge, err := storageMeter.Int64ObservableGauge(g.name,
			metric.WithDescription(g.description),
			metric.WithUnit("{record}"),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s gauge: %w", g.name, err)
		}
		*g.target = gauge
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request metric
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	m.HTTPRequestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
		attribute.Int("status", statusCode),
	))
	m.HTTPRequestDuration.Record(ctx, durationMs, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// RecordTokenIssued records an access token issued by a grant
func (m *Metrics) RecordTokenIssued(ctx context.Context, grantType string) {
	m.TokensIssued.Add(ctx, 1, metric.WithAttributes(attribute.String("grant_type", grantType)))
}

// RecordTokenRevocation records access tokens revoked for a reason
// ("rotation", "request", "client_deleted").
func (m *Metrics) RecordTokenRevocation(ctx context.Context, reason string, count int) {
	m.TokensRevoked.Add(ctx, int64(count), metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordRedemptionRejected records a code ("auth_code") or refresh token
// ("refresh_token") that could not be redeemed.
func (m *Metrics) RecordRedemptionRejected(ctx context.Context, kind string) {
	m.RedemptionRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordTokenValidationFailed records a rejected bearer token
func (m *Metrics) RecordTokenValidationFailed(ctx context.Context, reason string) {
	m.TokenValidationFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordClientRegistration records a client registration
func (m *Metrics) RecordClientRegistration(ctx context.Context, clientType string) {
	m.ClientRegistered.Add(ctx, 1, metric.WithAttributes(attribute.String("client_type", clientType)))
}

// RecordClientDeletion records a client deletion
func (m *Metrics) RecordClientDeletion(ctx context.Context) {
	m.ClientDeleted.Add(ctx, 1)
}

// RecordRateLimitExceeded records a rate limit violation
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, endpoint string) {
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	m.StorageOperationTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("result", result),
	))
	m.StorageOperationDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}
