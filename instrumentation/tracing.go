package instrumentation

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys.
//
// SECURITY WARNING: never record codes, access tokens, refresh tokens or
// client secrets as attribute values. Only metadata belongs in traces.
const (
	AttrClientID   = "oauth.client_id"
	AttrUserID     = "oauth.user_id"
	AttrScope      = "oauth.scope"
	AttrGrantType  = "oauth.grant_type"
	AttrPKCEMethod = "oauth.pkce.method"
	AttrError      = "oauth.error"

	AttrStorageOperation = "storage.operation"
	AttrStorageResult    = "storage.result"
	AttrStorageType      = "storage.type"

	AttrHTTPEndpoint   = "http.endpoint"
	AttrHTTPMethod     = "http.method"
	AttrHTTPStatusCode = "http.status_code"
	AttrClientIP       = "security.client_ip"
)

// Storage operation results
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// RecordError records an error on a span with proper status codes (nil-safe)
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe)
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe)
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddOAuthFlowAttributes adds common OAuth flow attributes to a span,
// skipping empty values (nil-safe)
func AddOAuthFlowAttributes(span trace.Span, grantType, clientID, userID, scope string) {
	var attrs []attribute.KeyValue
	if grantType != "" {
		attrs = append(attrs, attribute.String(AttrGrantType, grantType))
	}
	if clientID != "" {
		attrs = append(attrs, attribute.String(AttrClientID, clientID))
	}
	if userID != "" {
		attrs = append(attrs, attribute.String(AttrUserID, userID))
	}
	if scope != "" {
		attrs = append(attrs, attribute.String(AttrScope, scope))
	}
	SetSpanAttributes(span, attrs...)
}

// StorageOp traces and measures one storage call. Start it with
// StartStorageOp and finish it with End.
type StorageOp struct {
	inst      *Instrumentation
	ctx       context.Context
	span      trace.Span
	operation string
	start     time.Time
}

// StartStorageOp opens a span named "storage.<operation>" tagged with the
// storage type. A nil Instrumentation yields an op whose End only returns err.
func StartStorageOp(ctx context.Context, inst *Instrumentation, storageType, operation string) (context.Context, *StorageOp) {
	op := &StorageOp{inst: inst, ctx: ctx, operation: operation, start: time.Now()}
	if inst == nil {
		return ctx, op
	}
	ctx, op.span = inst.Tracer("storage").Start(ctx, "storage."+operation)
	op.ctx = ctx
	SetSpanAttributes(op.span,
		attribute.String(AttrStorageOperation, operation),
		attribute.String(AttrStorageType, storageType),
	)
	return ctx, op
}

// End records the outcome and returns err unchanged so callers can write
// `return op.End(err)`.
func (op *StorageOp) End(err error) error {
	if op.inst == nil {
		return err
	}
	result := ResultSuccess
	if err != nil {
		result = ResultError
		RecordError(op.span, err)
	} else {
		SetSpanSuccess(op.span)
	}
	SetSpanAttributes(op.span, attribute.String(AttrStorageResult, result))
	op.span.End()

	op.inst.Metrics().RecordStorageOperation(op.ctx, op.operation, result,
		float64(time.Since(op.start).Microseconds())/1000)
	return err
}
