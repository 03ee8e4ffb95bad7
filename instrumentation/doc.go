// Package instrumentation provides OpenTelemetry instrumentation for the token engine.
//
// # Quick Start
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:    "oauth-engine",
//		ServiceVersion: "1.0.0",
//		Enabled:        true,
//		MetricExporter: instrumentation.ExporterPrometheus,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
//	// Expose /metrics
//	http.Handle("/metrics", promhttp.Handler())
//
// Tests and embedders may supply their own MeterProvider or TracerProvider,
// e.g. an sdk/metric provider backed by a ManualReader.
//
// # Available Metrics
//
// Token engine:
//   - oauth.token.issued{grant_type} - Access tokens issued
//   - oauth.token.revoked{reason} - Access tokens revoked
//   - oauth.redemption.rejected{kind} - Codes or refresh tokens that could not be redeemed
//   - oauth.token.validation_failed{reason} - Bearer tokens rejected
//   - oauth.client.registered{client_type}, oauth.client.deleted
//
// HTTP:
//   - oauth.http.requests.total{method, endpoint, status}
//   - oauth.http.request.duration{endpoint}
//
// Security:
//   - oauth.rate_limit.exceeded{endpoint}
//
// Storage:
//   - storage.operation.total{operation, result}
//   - storage.operation.duration{operation}
//   - storage.clients.count, storage.auth_codes.count,
//     storage.access_tokens.count, storage.refresh_tokens.count
//
// # Security
//
// Span attributes never carry codes, tokens or secrets; only metadata such
// as client IDs, grant types and scopes.
package instrumentation
