// Package session keeps authenticated actor snapshots in Redis. The session
// TTL is the upper bound on how long a revoked permission stays usable for
// non-sensitive operations.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/iers-platform/iers/internal/rbac"
)

// DefaultTTL is the session lifetime used when none is configured.
const DefaultTTL = 8 * time.Hour

// ErrNotFound is returned for unknown or expired sessions.
var ErrNotFound = errors.New("session: not found")

// Session is the persisted login state.
type Session struct {
	ID        string      `json:"id"`
	Actor     *rbac.Actor `json:"actor"`
	CreatedAt time.Time   `json:"created_at"`
	ExpiresAt time.Time   `json:"expires_at"`
}

// Manager orchestrates cookie or bearer based sessions backed by Redis.
type Manager struct {
	client     redis.UniversalClient
	cookieName string
	ttl        time.Duration
	secure     bool
	logger     *slog.Logger
	now        func() time.Time
}

// NewManager constructs a Manager.
func NewManager(client redis.UniversalClient, cookieName string, ttl time.Duration, secure bool, logger *slog.Logger) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if cookieName == "" {
		cookieName = "iers_session"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		client:     client,
		cookieName: cookieName,
		ttl:        ttl,
		secure:     secure,
		logger:     logger,
		now:        time.Now,
	}
}

// TTL exposes the configured session lifetime.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// CookieName returns the cookie identifier used for sessions.
func (m *Manager) CookieName() string {
	return m.cookieName
}

// Create stores a new session holding actor.
func (m *Manager) Create(ctx context.Context, actor *rbac.Actor) (*Session, error) {
	if actor == nil {
		return nil, errors.New("session: actor required")
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("session: id: %w", err)
	}
	now := m.now().UTC()
	sess := &Session{ID: id.String(), Actor: actor, CreatedAt: now, ExpiresAt: now.Add(m.ttl)}
	data, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("session: encode: %w", err)
	}
	if err := m.client.Set(ctx, redisKey(sess.ID), data, m.ttl).Err(); err != nil {
		return nil, fmt.Errorf("session: store: %w", err)
	}
	return sess, nil
}

// Load fetches a session by id.
func (m *Manager) Load(ctx context.Context, id string) (*Session, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	payload, err := m.client.Get(ctx, redisKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: load: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(payload, &sess); err != nil {
		return nil, fmt.Errorf("session: decode: %w", err)
	}
	if sess.Actor == nil {
		return nil, ErrNotFound
	}
	return &sess, nil
}

// Destroy deletes a session.
func (m *Manager) Destroy(ctx context.Context, id string) error {
	if err := m.client.Del(ctx, redisKey(id)).Err(); err != nil {
		return fmt.Errorf("session: destroy: %w", err)
	}
	return nil
}

// WriteCookie sets the session cookie.
func (m *Manager) WriteCookie(w http.ResponseWriter, sess *Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteStrictMode,
		Expires:  sess.ExpiresAt,
	})
}

// ClearCookie expires the session cookie.
func (m *Manager) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// Middleware attaches the session actor to the request context. Requests
// without a valid session continue unauthenticated; the guard decides.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := m.tokenFromRequest(r)
		if id == "" {
			next.ServeHTTP(w, r)
			return
		}
		sess, err := m.Load(r.Context(), id)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				m.logger.Warn("session load", slog.Any("error", err))
			}
			next.ServeHTTP(w, r)
			return
		}
		ctx := ContextWithSession(r.Context(), sess)
		ctx = rbac.ContextWithActor(ctx, sess.Actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *Manager) tokenFromRequest(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if cookie, err := r.Cookie(m.cookieName); err == nil {
		return cookie.Value
	}
	return ""
}

func redisKey(id string) string {
	return "session:" + id
}

type sessionContextKey struct{}

// ContextWithSession stores the session in context.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// FromContext extracts the session from context.
func FromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionContextKey{}).(*Session)
	return sess
}
