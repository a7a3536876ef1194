package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	// ErrNotFound indicates that the requested record does not exist.
	ErrNotFound = errors.New("rbac: not found")
	// ErrDuplicate indicates a unique constraint violation.
	ErrDuplicate = errors.New("rbac: duplicate")
	// ErrInvalidRole is returned for blank role names.
	ErrInvalidRole = errors.New("rbac: role name required")
	// ErrInvalidPermission is returned when slug, module or action are blank.
	ErrInvalidPermission = errors.New("rbac: slug, module and action required")
	// ErrResolutionFailed means the permission set of a role could not be proven.
	ErrResolutionFailed = errors.New("rbac: permission resolution failed")
)

// Permission represents an atomic capability identified by its slug.
type Permission struct {
	ID          int64     `json:"id"`
	Slug        string    `json:"slug"`
	Module      string    `json:"module"`
	Action      string    `json:"action"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// RolePermission ties a permission to a role name.
type RolePermission struct {
	Role         string
	PermissionID int64
	CreatedAt    time.Time
}

// Actor is the authenticated caller. Permissions is the snapshot taken at
// authentication time and is not re-resolved for the lifetime of the session.
type Actor struct {
	ID          int64         `json:"id"`
	Role        string        `json:"role"`
	Permissions PermissionSet `json:"permissions"`
}

// PermissionSet is an immutable-by-convention set of permission slugs.
type PermissionSet map[string]struct{}

// NewPermissionSet builds a set from slugs, normalising each one.
func NewPermissionSet(slugs ...string) PermissionSet {
	set := make(PermissionSet, len(slugs))
	for _, s := range slugs {
		if s = NormalizeSlug(s); s != "" {
			set[s] = struct{}{}
		}
	}
	return set
}

// Has reports whether slug is in the set.
func (s PermissionSet) Has(slug string) bool {
	_, ok := s[NormalizeSlug(slug)]
	return ok
}

// HasAny reports whether at least one slug is in the set.
func (s PermissionSet) HasAny(slugs ...string) bool {
	for _, slug := range slugs {
		if s.Has(slug) {
			return true
		}
	}
	return false
}

// Slugs returns the sorted members.
func (s PermissionSet) Slugs() []string {
	out := make([]string, 0, len(s))
	for slug := range s {
		out = append(out, slug)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of slugs.
func (s PermissionSet) Len() int { return len(s) }

// MarshalJSON encodes the set as a sorted array.
func (s PermissionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Slugs())
}

// UnmarshalJSON decodes an array of slugs.
func (s *PermissionSet) UnmarshalJSON(data []byte) error {
	var slugs []string
	if err := json.Unmarshal(data, &slugs); err != nil {
		return err
	}
	*s = NewPermissionSet(slugs...)
	return nil
}

// NormalizeRole trims and upper-cases a role name.
func NormalizeRole(role string) string {
	// Casers keep state and cannot be shared between goroutines.
	return cases.Upper(language.Und).String(strings.TrimSpace(role))
}

// NormalizeSlug trims and lower-cases a permission slug.
func NormalizeSlug(slug string) string {
	return strings.ToLower(strings.TrimSpace(slug))
}

type actorContextKey struct{}

// ContextWithActor stores the authenticated actor in ctx.
func ContextWithActor(ctx context.Context, actor *Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor, or nil when the request is unauthenticated.
func ActorFromContext(ctx context.Context) *Actor {
	actor, _ := ctx.Value(actorContextKey{}).(*Actor)
	return actor
}
