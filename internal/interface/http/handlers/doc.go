// Package handlers contains reusable pieces of the HTTP surface: health
// checking and middleware.
//
// # Health Checks
//
// A CompositeHealthChecker runs named checks in parallel, each under its own
// timeout. Optional checks cover dependencies the service degrades without:
//
//	checker := handlers.NewCompositeHealthChecker("v1")
//	checker.AddCheck("ledger", handlers.NewPingCheck(store))
//	checker.AddOptionalCheck("redis", handlers.NewPingCheck(cache))
//
//	status := checker.Check(ctx)
//
// # Middleware
//
// Middlewares share the MiddlewareFunc signature and compose with Chain:
//
//	h := handlers.ChainHandler(mux,
//	    handlers.SecurityHeadersMiddleware,
//	    handlers.RequestSizeLimitMiddleware(64<<10),
//	)
package handlers
