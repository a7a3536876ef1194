package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// Machine readable denial reasons.
const (
	ReasonUnauthenticated   = "unauthenticated"
	ReasonMissingPermission = "missing_permission"
	ReasonResolutionFailed  = "resolution_failed"
	ReasonEmptyRequirement  = "empty_requirement"
)

// Requirement describes what a privileged operation needs. The actor must hold
// at least one of AnyOf. Sensitive requirements re-resolve the actor's role
// instead of trusting the session snapshot. A requirement without slugs denies.
type Requirement struct {
	AnyOf     []string
	Sensitive bool
}

// Require builds a single-permission requirement.
func Require(slug string) Requirement {
	return Requirement{AnyOf: normalizePermissions([]string{slug})}
}

// RequireAny builds an any-of requirement.
func RequireAny(slugs ...string) Requirement {
	return Requirement{AnyOf: normalizePermissions(slugs)}
}

// Fresh marks the requirement as sensitive.
func (r Requirement) Fresh() Requirement {
	r.Sensitive = true
	return r
}

// Decision is the outcome of a guard check.
type Decision struct {
	Allowed bool
	Status  int
	Reason  string
	Missing []string
	Message string
}

// Err converts a denial into an error value; it returns nil when allowed.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &DeniedError{Decision: d}
}

// DeniedError carries a denial through error returns.
type DeniedError struct {
	Decision Decision
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("rbac: denied (%s)", e.Decision.Reason)
}

// DenialObserver is notified for every denial, typically a metrics sink.
type DenialObserver interface {
	ObserveDenial(reason string)
}

// Guard is the request-scoped enforcement unit.
type Guard struct {
	resolver *Resolver
	logger   *slog.Logger
	observer DenialObserver
}

// NewGuard constructs a guard. observer may be nil.
func NewGuard(resolver *Resolver, logger *slog.Logger, observer DenialObserver) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{resolver: resolver, logger: logger, observer: observer}
}

// Check decides whether actor satisfies req.
func (g *Guard) Check(ctx context.Context, actor *Actor, req Requirement) Decision {
	if actor == nil {
		return g.deny(ctx, nil, Decision{
			Status:  http.StatusUnauthorized,
			Reason:  ReasonUnauthenticated,
			Message: "authentication required",
		})
	}
	if len(req.AnyOf) == 0 {
		g.logger.ErrorContext(ctx, "rbac requirement without permissions", slog.Int64("actor_id", actor.ID))
		return g.deny(ctx, actor, Decision{
			Status:  http.StatusForbidden,
			Reason:  ReasonEmptyRequirement,
			Message: "operation has no permission configured",
		})
	}
	subject := actor
	if req.Sensitive {
		fresh, err := g.resolver.Refresh(ctx, actor)
		if err != nil {
			g.logger.Error("rbac resolve sensitive", slog.Int64("actor_id", actor.ID), slog.String("role", actor.Role), slog.Any("error", err))
			return g.deny(ctx, actor, Decision{
				Status:  http.StatusForbidden,
				Reason:  ReasonResolutionFailed,
				Missing: append([]string(nil), req.AnyOf...),
				Message: "permissions could not be verified",
			})
		}
		subject = fresh
	}
	if g.resolver.HasAnyPermission(subject, req.AnyOf) {
		return Decision{Allowed: true, Status: http.StatusOK}
	}
	return g.deny(ctx, actor, Decision{
		Status:  http.StatusForbidden,
		Reason:  ReasonMissingPermission,
		Missing: append([]string(nil), req.AnyOf...),
		Message: missingMessage(req.AnyOf),
	})
}

func (g *Guard) deny(ctx context.Context, actor *Actor, d Decision) Decision {
	attrs := []any{slog.String("reason", d.Reason), slog.Any("missing", d.Missing)}
	if actor != nil {
		attrs = append(attrs, slog.Int64("actor_id", actor.ID), slog.String("role", actor.Role))
	}
	g.logger.InfoContext(ctx, "authorization denied", attrs...)
	if g.observer != nil {
		g.observer.ObserveDenial(d.Reason)
	}
	return d
}

func missingMessage(required []string) string {
	if len(required) == 1 {
		return "missing permission " + required[0]
	}
	return "missing any of permissions " + strings.Join(required, ", ")
}

func normalizePermissions(perms []string) []string {
	seen := make(map[string]struct{}, len(perms))
	normalized := make([]string, 0, len(perms))
	for _, p := range perms {
		p = NormalizeSlug(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		normalized = append(normalized, p)
	}
	return normalized
}
