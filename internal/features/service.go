package features

import (
	"context"
	"log/slog"
	"strings"

	"github.com/iers-platform/iers/internal/audit"
	"github.com/iers-platform/iers/internal/rbac"
)

// Service applies authorized changes to Flags.
type Service struct {
	flags    *Flags
	guard    *rbac.Guard
	recorder audit.Recorder
	logger   *slog.Logger
}

// NewService constructs a Service.
func NewService(flags *Flags, guard *rbac.Guard, recorder audit.Recorder, logger *slog.Logger) *Service {
	if recorder == nil {
		recorder = audit.Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{flags: flags, guard: guard, recorder: recorder, logger: logger}
}

// Flags exposes the managed table.
func (s *Service) Flags() *Flags {
	return s.flags
}

// Toggle switches module on or off. The actor's role is re-resolved before
// the change; a denial is returned as *rbac.DeniedError.
func (s *Service) Toggle(ctx context.Context, actor *rbac.Actor, module string, enabled bool) (bool, error) {
	if err := s.guard.Check(ctx, actor, rbac.Require(rbac.PermFeatureToggle).Fresh()).Err(); err != nil {
		return false, err
	}
	module = strings.ToLower(strings.TrimSpace(module))
	changed, err := s.flags.set(module, enabled)
	if err != nil || !changed {
		return false, err
	}
	actorID := actor.ID
	err = s.recorder.Record(ctx, audit.Event{
		ActorID:  &actorID,
		Action:   audit.ActionFeatureToggled,
		Entity:   "features",
		EntityID: module,
		Meta:     map[string]any{"enabled": enabled, "actor_role": actor.Role},
	})
	if err != nil {
		s.logger.Error("features audit record", slog.String("module", module), slog.Any("error", err))
	}
	s.logger.Info("feature toggled", slog.String("module", module), slog.Bool("enabled", enabled), slog.Int64("actor_id", actor.ID))
	return true, nil
}
