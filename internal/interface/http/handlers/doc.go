// Package handlers contains reusable pieces of the node's HTTP surface:
// health checks and middleware.
//
// # Health Checks
//
// Checks run in parallel, each under its own timeout:
//
//	checker := handlers.NewCompositeHealthChecker(version)
//	checker.SetTimeout(2 * time.Second)
//	checker.AddCheck("postgres", conn.CheckHealth)
//	checker.AddCheck("redis", handlers.NewPingCheck(cache))
//	checker.AddCheck("queue", handlers.NewQueueCheck(runtime.Pending, maxQueue))
//
// # Middleware
//
// Middleware composes with Chain:
//
//	h := handlers.ChainHandler(mux,
//	    handlers.SecurityHeadersMiddleware,
//	    handlers.RequestSizeLimitMiddleware(1<<20),
//	)
//
// APIKeyAuth guards extrinsic submission and the admin routes when API keys
// are configured. TimeoutMiddleware bounds every request.
package handlers
