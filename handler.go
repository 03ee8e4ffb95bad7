package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/giantswarm/oauth-engine/instrumentation"
	"github.com/giantswarm/oauth-engine/scope"
	"github.com/giantswarm/oauth-engine/security"
	"github.com/giantswarm/oauth-engine/server"
	"github.com/giantswarm/oauth-engine/storage"
)

// Endpoint labels used in metrics and audit events
const (
	endpointToken      = "token"
	endpointRevocation = "revoke"
	endpointProtected  = "protected"
)

// HandlerConfig holds the HTTP settings of a Handler.
type HandlerConfig struct {
	// RateLimit is requests per second allowed per client IP. Zero disables limiting.
	RateLimit int

	// RateLimitBurst is the maximum burst size allowed per client IP.
	RateLimitBurst int

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers.
	// Only enable behind a trusted reverse proxy.
	TrustProxy bool

	// TrustedProxyCount is the number of proxies in front of the engine
	TrustedProxyCount int
}

// Handler is a thin HTTP adapter for the grant engine.
// It handles HTTP requests and delegates to server.Server for business logic.
type Handler struct {
	server      *server.Server
	config      HandlerConfig
	rateLimiter *security.RateLimiter
	logger      *slog.Logger
	tracer      trace.Tracer
}

// NewHandler creates a new HTTP handler. A nil config disables rate
// limiting and proxy trust.
func NewHandler(srv *server.Server, config *HandlerConfig, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		server: srv,
		logger: logger,
	}
	if config != nil {
		h.config = *config
	}
	if h.config.TrustedProxyCount <= 0 {
		h.config.TrustedProxyCount = 1
	}
	if h.config.RateLimit > 0 {
		burst := h.config.RateLimitBurst
		if burst <= 0 {
			burst = h.config.RateLimit
		}
		h.rateLimiter = security.NewRateLimiter(h.config.RateLimit, burst, logger)
	}
	if srv.Instrumentation != nil {
		h.tracer = srv.Instrumentation.Tracer("http")
	}
	return h
}

// Close stops the rate limiter's background cleanup.
func (h *Handler) Close() {
	if h.rateLimiter != nil {
		h.rateLimiter.Stop()
	}
}

type accessTokenContextKey struct{}

// ContextWithAccessToken returns a context carrying a validated access token.
func ContextWithAccessToken(ctx context.Context, token *storage.AccessToken) context.Context {
	return context.WithValue(ctx, accessTokenContextKey{}, token)
}

// AccessTokenFromContext returns the access token stored by ValidateToken.
func AccessTokenFromContext(ctx context.Context) (*storage.AccessToken, bool) {
	token, ok := ctx.Value(accessTokenContextKey{}).(*storage.AccessToken)
	return token, ok && token != nil
}

// ServeToken handles the OAuth token endpoint. Clients authenticate with
// HTTP Basic or with client_id and client_secret form parameters, never
// both.
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	h.instrument(endpointToken, w, r, h.serveToken)
}

func (h *Handler) serveToken(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.startSpan(r.Context(), "oauth.http.token")
	defer span.End()

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := h.clientIP(r)
	if h.checkRateLimit(ctx, w, clientIP, endpointToken) {
		return
	}

	if err := r.ParseForm(); err != nil {
		h.writeError(w, NewOAuthError(server.ErrorCodeInvalidRequest, "Failed to parse request", http.StatusBadRequest))
		return
	}

	clientID, clientSecret, oerr := clientCredentials(r)
	if oerr != nil {
		h.writeError(w, oerr)
		return
	}

	req := &server.TokenRequest{
		GrantType:    r.PostForm.Get("grant_type"),
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scope:        r.PostForm.Get("scope"),
		Code:         r.PostForm.Get("code"),
		RedirectURI:  r.PostForm.Get("redirect_uri"),
		CodeVerifier: r.PostForm.Get("code_verifier"),
		RefreshToken: r.PostForm.Get("refresh_token"),
		Username:     r.PostForm.Get("username"),
		Password:     r.PostForm.Get("password"),
		ClientIP:     clientIP,
	}
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrGrantType, req.GrantType))

	token, err := h.server.Token(ctx, req)
	if err != nil {
		instrumentation.RecordError(span, err)
		h.writeServerError(w, err, "token request failed", "grant_type", req.GrantType, "ip", clientIP)
		return
	}

	instrumentation.SetSpanSuccess(span)
	h.writeTokenResponse(w, token)
}

// ServeRevocation handles the RFC 7009 token revocation endpoint. Unknown
// tokens are not an error; a failed client authentication is.
func (h *Handler) ServeRevocation(w http.ResponseWriter, r *http.Request) {
	h.instrument(endpointRevocation, w, r, h.serveRevocation)
}

func (h *Handler) serveRevocation(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.startSpan(r.Context(), "oauth.http.token_revocation")
	defer span.End()

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := h.clientIP(r)
	if h.checkRateLimit(ctx, w, clientIP, endpointRevocation) {
		return
	}

	if err := r.ParseForm(); err != nil {
		h.writeError(w, NewOAuthError(server.ErrorCodeInvalidRequest, "Failed to parse request", http.StatusBadRequest))
		return
	}

	clientID, clientSecret, oerr := clientCredentials(r)
	if oerr != nil {
		h.writeError(w, oerr)
		return
	}

	err := h.server.RevokeAccessToken(ctx, &server.RevocationRequest{
		ClientID:      clientID,
		ClientSecret:  clientSecret,
		Token:         r.PostForm.Get("token"),
		TokenTypeHint: r.PostForm.Get("token_type_hint"),
		ClientIP:      clientIP,
	})
	if err != nil {
		instrumentation.RecordError(span, err)
		h.writeServerError(w, err, "revocation failed", "ip", clientIP)
		return
	}

	instrumentation.SetSpanSuccess(span)
	security.SetSecurityHeaders(w, h.issuer())
	w.WriteHeader(http.StatusOK)
}

// ValidateToken is middleware that admits requests carrying a valid bearer
// access token. The token record is available to next through
// AccessTokenFromContext.
func (h *Handler) ValidateToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.instrument(endpointProtected, w, r, func(w http.ResponseWriter, r *http.Request) {
			clientIP := h.clientIP(r)
			if h.checkRateLimit(r.Context(), w, clientIP, endpointProtected) {
				return
			}

			bearer, ok := extractBearerToken(r)
			if !ok {
				h.writeError(w, ToOAuthError(&server.Error{
					Code:        server.ErrorCodeInvalidToken,
					Description: "Missing or malformed Authorization header",
				}))
				return
			}

			token, err := h.server.ValidateAccessToken(r.Context(), bearer)
			if err != nil {
				h.writeServerError(w, err, "token validation failed", "ip", clientIP)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithAccessToken(r.Context(), token)))
		})
	})
}

// RequireScopes is middleware for routes behind ValidateToken. It rejects
// tokens that lack any of the given scopes with 403 insufficient_scope
// (RFC 6750 section 3.1).
func (h *Handler) RequireScopes(scopes ...string) func(http.Handler) http.Handler {
	required := scope.NewSet(scope.FromStrings(scopes)...)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := AccessTokenFromContext(r.Context())
			if !ok {
				h.writeError(w, ToOAuthError(&server.Error{Code: server.ErrorCodeInvalidToken}))
				return
			}
			if !token.Scopes.ContainsAll(required) {
				e := NewOAuthError(ErrorCodeInsufficientScope, "The token lacks a required scope", http.StatusForbidden)
				e.Challenge = bearerChallenge(ErrorCodeInsufficientScope, e.Description) + fmt.Sprintf(", scope=%q", required.String())
				h.writeError(w, e)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// instrument records the status and latency of a request.
func (h *Handler) instrument(endpoint string, w http.ResponseWriter, r *http.Request, fn http.HandlerFunc) {
	start := time.Now()
	ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
	fn(ww, r)

	status := ww.Status()
	if status == 0 {
		status = http.StatusOK
	}
	if h.server.Instrumentation != nil {
		h.server.Instrumentation.Metrics().RecordHTTPRequest(r.Context(), r.Method, endpoint, status,
			float64(time.Since(start).Microseconds())/1000)
	}
}

func (h *Handler) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if h.tracer == nil {
		return ctx, trace.SpanFromContext(context.Background())
	}
	return h.tracer.Start(ctx, name)
}

func (h *Handler) clientIP(r *http.Request) string {
	return security.GetClientIP(r, h.config.TrustProxy, h.config.TrustedProxyCount)
}

// checkRateLimit checks if the client IP is rate limited. Returns true if limited.
func (h *Handler) checkRateLimit(ctx context.Context, w http.ResponseWriter, clientIP, endpoint string) bool {
	if h.rateLimiter == nil || h.rateLimiter.Allow(clientIP) {
		return false
	}

	h.logger.Warn("Rate limit exceeded", "ip", clientIP, "endpoint", endpoint)
	if h.server.Instrumentation != nil {
		h.server.Instrumentation.Metrics().RecordRateLimitExceeded(ctx, endpoint)
	}
	h.server.Auditor.LogRateLimitExceeded(clientIP, endpoint)

	w.Header().Set("Retry-After", "1")
	h.writeError(w, NewOAuthError(ErrorCodeRateLimitExceeded, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests))
	return true
}

func (h *Handler) issuer() string {
	if h.server.Config == nil {
		return ""
	}
	return h.server.Config.Issuer
}

// clientCredentials extracts the client's public identifier and secret.
// HTTP Basic credentials are form-urlencoded (RFC 6749 section 2.3.1).
func clientCredentials(r *http.Request) (string, string, *OAuthError) {
	formID := r.PostForm.Get("client_id")
	formSecret := r.PostForm.Get("client_secret")

	basicID, basicSecret, ok := r.BasicAuth()
	if !ok {
		return formID, formSecret, nil
	}
	if formSecret != "" {
		return "", "", NewOAuthError(server.ErrorCodeInvalidRequest,
			"Use only one client authentication method", http.StatusBadRequest)
	}

	id, err := url.QueryUnescape(basicID)
	if err != nil {
		return "", "", NewOAuthError(server.ErrorCodeInvalidRequest, "Malformed client credentials", http.StatusBadRequest)
	}
	secret, err := url.QueryUnescape(basicSecret)
	if err != nil {
		return "", "", NewOAuthError(server.ErrorCodeInvalidRequest, "Malformed client credentials", http.StatusBadRequest)
	}
	if formID != "" && formID != id {
		return "", "", NewOAuthError(server.ErrorCodeInvalidRequest,
			"client_id does not match the authenticated client", http.StatusBadRequest)
	}
	return id, secret, nil
}

// extractBearerToken extracts the Bearer token from the Authorization header.
func extractBearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

func (h *Handler) writeTokenResponse(w http.ResponseWriter, token *oauth2.Token) {
	security.SetSecurityHeaders(w, h.issuer())

	tokenType := token.TokenType
	if tokenType == "" {
		tokenType = server.TokenTypeBearer
	}

	response := TokenResponse{
		AccessToken:  token.AccessToken,
		TokenType:    tokenType,
		RefreshToken: token.RefreshToken,
	}
	if expiresIn, ok := token.Extra("expires_in").(int64); ok {
		response.ExpiresIn = expiresIn
	}
	if s, ok := token.Extra("scope").(string); ok {
		response.Scope = s
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

// writeServerError writes the response for an error of the grant engine.
// Rejections are logged at debug level; anything else is a server fault.
func (h *Handler) writeServerError(w http.ResponseWriter, err error, msg string, args ...any) {
	oerr := ToOAuthError(err)
	if oerr.Status >= http.StatusInternalServerError {
		h.logger.Error(msg, append(args, "error", err)...)
	} else {
		h.logger.Debug(msg, append(args, "error", err)...)
	}
	h.writeError(w, oerr)
}

func (h *Handler) writeError(w http.ResponseWriter, oerr *OAuthError) {
	security.SetSecurityHeaders(w, h.issuer())
	oerr.write(w)
}
