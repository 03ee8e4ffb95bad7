package instrumentation

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTracedInstrumentation(t *testing.T) (*Instrumentation, *tracetest.SpanRecorder) {
	t.Helper()

	recorder := tracetest.NewSpanRecorder()
	inst, err := New(Config{
		Enabled:        true,
		TracerProvider: sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return inst, recorder
}

func attrValue(attrs []attribute.KeyValue, key string) (string, bool) {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value.Emit(), true
		}
	}
	return "", false
}

func TestStartStorageOp_Success(t *testing.T) {
	inst, recorder := newTracedInstrumentation(t)

	_, op := StartStorageOp(context.Background(), inst, "memory", "issue_access_token")
	if err := op.End(nil); err != nil {
		t.Fatalf("End(nil) = %v", err)
	}

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(spans))
	}
	span := spans[0]
	if span.Name() != "storage.issue_access_token" {
		t.Errorf("span name = %q", span.Name())
	}
	if span.Status().Code != codes.Ok {
		t.Errorf("span status = %v, want Ok", span.Status().Code)
	}
	if v, _ := attrValue(span.Attributes(), AttrStorageType); v != "memory" {
		t.Errorf("%s = %q, want memory", AttrStorageType, v)
	}
	if v, _ := attrValue(span.Attributes(), AttrStorageResult); v != ResultSuccess {
		t.Errorf("%s = %q, want %s", AttrStorageResult, v, ResultSuccess)
	}
}

func TestStartStorageOp_ErrorPassesThrough(t *testing.T) {
	inst, recorder := newTracedInstrumentation(t)
	boom := errors.New("boom")

	_, op := StartStorageOp(context.Background(), inst, "valkey", "redeem_auth_code")
	if err := op.End(boom); !errors.Is(err, boom) {
		t.Fatalf("End() = %v, want boom", err)
	}

	span := recorder.Ended()[0]
	if span.Status().Code != codes.Error {
		t.Errorf("span status = %v, want Error", span.Status().Code)
	}
	if len(span.Events()) == 0 {
		t.Error("error event not recorded on span")
	}
}

func TestStartStorageOp_NilInstrumentation(t *testing.T) {
	ctx := context.Background()
	gotCtx, op := StartStorageOp(ctx, nil, "memory", "noop")
	if gotCtx != ctx {
		t.Error("nil instrumentation should return the input context")
	}
	boom := errors.New("boom")
	if err := op.End(boom); !errors.Is(err, boom) {
		t.Errorf("End() = %v, want boom", err)
	}
}

func TestAddOAuthFlowAttributes_SkipsEmpty(t *testing.T) {
	inst, recorder := newTracedInstrumentation(t)

	_, span := inst.Tracer("server").Start(context.Background(), "grant")
	AddOAuthFlowAttributes(span, "client_credentials", "client-1", "", "existingPlugins")
	span.End()

	attrs := recorder.Ended()[0].Attributes()
	if _, ok := attrValue(attrs, AttrUserID); ok {
		t.Error("empty user ID should not be recorded")
	}
	if v, _ := attrValue(attrs, AttrGrantType); v != "client_credentials" {
		t.Errorf("%s = %q", AttrGrantType, v)
	}
}

func TestNilSafeHelpers(t *testing.T) {
	RecordError(nil, errors.New("x"))
	SetSpanSuccess(nil)
	SetSpanAttributes(nil, attribute.String("k", "v"))
	AddOAuthFlowAttributes(nil, "a", "b", "c", "d")
}
