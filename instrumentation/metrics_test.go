package instrumentation

import (
	"context"
	"testing"
)

func TestMetrics_Recorders(t *testing.T) {
	inst, reader := newTestInstrumentation(t)
	ctx := context.Background()
	m := inst.Metrics()

	m.RecordHTTPRequest(ctx, "POST", "/token", 200, 12.5)
	m.RecordTokenIssued(ctx, "password")
	m.RecordTokenIssued(ctx, "refresh_token")
	m.RecordTokenRevocation(ctx, "client_deleted", 4)
	m.RecordRedemptionRejected(ctx, "auth_code")
	m.RecordTokenValidationFailed(ctx, "expired")
	m.RecordClientRegistration(ctx, "confidential")
	m.RecordClientDeletion(ctx)
	m.RecordRateLimitExceeded(ctx, "/token")
	m.RecordStorageOperation(ctx, "redeem_auth_code", ResultSuccess, 0.4)

	metrics := collect(t, reader)

	want := map[string]int64{
		"oauth.http.requests.total":     1,
		"oauth.token.issued":            2,
		"oauth.token.revoked":           4,
		"oauth.redemption.rejected":     1,
		"oauth.token.validation_failed": 1,
		"oauth.client.registered":       1,
		"oauth.client.deleted":          1,
		"oauth.rate_limit.exceeded":     1,
		"storage.operation.total":       1,
	}
	for name, value := range want {
		m, ok := metrics[name]
		if !ok {
			t.Errorf("metric %s not collected", name)
			continue
		}
		if got := sumOf(t, m); got != value {
			t.Errorf("%s = %d, want %d", name, got, value)
		}
	}

	for _, name := range []string{"oauth.http.request.duration", "storage.operation.duration"} {
		if _, ok := metrics[name]; !ok {
			t.Errorf("histogram %s not collected", name)
		}
	}
}
