// Rate limiting
//
// RateLimiter keeps one token bucket (golang.org/x/time/rate) per caller
// identifier, usually the client IP. The number of tracked identifiers is
// bounded; when the bound is reached the least recently used bucket is
// evicted, and idle buckets are dropped by a background sweep.
//
//	limiter := security.NewRateLimiter(10, 20, logger)
//	defer limiter.Stop()
//
//	if !limiter.Allow(clientIP) {
//	    return http.StatusTooManyRequests
//	}
//
// Secrets
//
// Client secrets and user passwords are stored as bcrypt hashes. CompareSecret
// always performs a bcrypt comparison, substituting a dummy hash when the real
// one is unavailable, so that lookups of unknown clients are not measurably
// faster than wrong secrets.

package security
