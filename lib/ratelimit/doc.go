// Package ratelimit enforces a distributed token bucket over incoming hook
// POST requests, one bucket per project, backed by Redis so the limit
// holds across every replica of the pipeline server. The bucket update
// runs as a server-side Lua script, keeping the read-refill-consume cycle
// atomic under concurrent requests.
//
// # Basic Usage
//
//	client, _ := redisx.New(redisx.DefaultConfig())
//	limiter, _ := ratelimit.New(client, ratelimit.DefaultConfig())
//
//	allowed, remaining, resetAt, err := limiter.Allow(ctx, "my-project")
//	if !allowed {
//	    // reject with 429
//	}
//
// # HTTP Middleware
//
//	mw := ratelimit.Middleware(ratelimit.DefaultMiddlewareConfig(limiter))
//	handler := mw(router)
//
// The middleware reads the project name set in the request context by the
// hook auth middleware (lib/hookauth) and fails open on Redis errors: a
// rate limiter outage must never block hook ingestion.
package ratelimit
