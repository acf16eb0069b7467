// Package middleware holds the gin middleware in front of the status server:
// read-only CORS, per-client rate limiting with idle eviction, and request
// logging through zap.
//
//	router.Use(middleware.RequestLogger(logger))
//	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
//	router.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
package middleware
