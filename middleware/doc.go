// Package middleware provides optional net/http adapters over the
// goIdentity engine.
//
// The engine itself is transport-agnostic; these helpers cover the
// common HTTP wiring so integrators do not have to repeat it:
//
//	mux.Handle("/api/", middleware.Guard(engine)(apiHandler))
//	mux.Handle("/api/billing", middleware.Guard(engine)(
//		middleware.RequireStepUp(engine, "billing")(billingHandler)))
//
// Guard validates the bearer access token and stores the resulting
// [goIdentity.AccessIdentity] in the request context. RequireStepUp
// additionally demands a live step-up verification window for the
// session.
package middleware
