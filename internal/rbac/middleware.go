package rbac

import (
	"net/http"

	"github.com/iers-platform/iers/internal/platform/httpx"
)

// Middleware wires the guard into chi handler chains. The actor is read from
// the request context, where the session middleware places it.
type Middleware struct {
	Guard *Guard
}

// Require ensures the current actor holds slug.
func (m Middleware) Require(slug string) func(http.Handler) http.Handler {
	return m.Enforce(Require(slug))
}

// RequireAny ensures the current actor holds at least one of perms.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	return m.Enforce(RequireAny(perms...))
}

// RequireFresh is Require for sensitive operations; the role is re-resolved per request.
func (m Middleware) RequireFresh(slug string) func(http.Handler) http.Handler {
	return m.Enforce(Require(slug).Fresh())
}

// Enforce applies an arbitrary requirement.
func (m Middleware) Enforce(req Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision := m.Guard.Check(r.Context(), ActorFromContext(r.Context()), req)
			if decision.Allowed {
				next.ServeHTTP(w, r)
				return
			}
			WriteDenial(w, decision)
		})
	}
}

// WriteDenial renders a denial as problem JSON. Only the required slugs are
// echoed back, never the actor's granted set.
func WriteDenial(w http.ResponseWriter, d Decision) {
	httpx.WriteProblem(w, httpx.ProblemDetail{
		Status:  d.Status,
		Detail:  d.Message,
		Reason:  d.Reason,
		Missing: d.Missing,
	})
}
