package auth

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/iers-platform/iers/internal/audit"
	"github.com/iers-platform/iers/internal/rbac"
	"github.com/iers-platform/iers/internal/session"
)

// Service wraps authentication business rules.
type Service struct {
	repo     Repository
	resolver *rbac.Resolver
	sessions *session.Manager
	recorder audit.Recorder
	logger   *slog.Logger
}

// NewService constructs a new Service.
func NewService(repo Repository, resolver *rbac.Resolver, sessions *session.Manager, recorder audit.Recorder, logger *slog.Logger) *Service {
	if recorder == nil {
		recorder = audit.Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, resolver: resolver, sessions: sessions, recorder: recorder, logger: logger}
}

// Authenticate validates email/password credentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			s.logger.Error("auth find user", slog.Any("error", err))
		}
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// Login authenticates the user, resolves the role's permission set once and
// stores it in a new session. The snapshot is not refreshed until the next login.
func (s *Service) Login(ctx context.Context, email, password, ip string) (*session.Session, error) {
	user, err := s.Authenticate(ctx, email, password)
	if err != nil {
		return nil, err
	}
	actor, err := s.resolver.Authenticate(ctx, user.ID, user.Role)
	if err != nil {
		return nil, err
	}
	sess, err := s.sessions.Create(ctx, actor)
	if err != nil {
		return nil, err
	}
	if err := s.repo.TouchLastLogin(ctx, user.ID, time.Now()); err != nil {
		s.logger.Warn("auth touch last login", slog.Int64("user_id", user.ID), slog.Any("error", err))
	}
	actorID := user.ID
	err = s.recorder.Record(ctx, audit.Event{
		ActorID:  &actorID,
		Action:   audit.ActionLogin,
		Entity:   "users",
		EntityID: strconv.FormatInt(user.ID, 10),
		Meta:     map[string]any{"role": actor.Role, "ip": ip, "permissions": actor.Permissions.Len()},
	})
	if err != nil {
		s.logger.Error("auth audit login", slog.Int64("user_id", user.ID), slog.Any("error", err))
	}
	return sess, nil
}

// Logout removes the session.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	return s.sessions.Destroy(ctx, sessionID)
}
