package features

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iers-platform/iers/internal/audit"
	"github.com/iers-platform/iers/internal/rbac"
)

type staticSource map[string][]string

func (s staticSource) PermissionSlugsForRole(ctx context.Context, role string) ([]string, error) {
	return s[role], nil
}

type sink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *sink) Record(ctx context.Context, e audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func newTestService(source staticSource) (*Service, *sink) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	resolver := rbac.NewResolver(source, nil, 0, logger)
	events := &sink{}
	return NewService(New(map[string]bool{"sla": false, "Bad Name": true}), rbac.NewGuard(resolver, logger, nil), events, logger), events
}

func TestNewAppliesOverrides(t *testing.T) {
	flags := New(map[string]bool{"SLA": false, "reports": true, "../x": true})
	assert.False(t, flags.Enabled(ModuleSLA))
	assert.True(t, flags.Enabled(ModuleAudit))
	assert.True(t, flags.Enabled("reports"))
	assert.False(t, flags.Enabled("../x"))
	assert.False(t, flags.Enabled("unknown"))
}

func TestToggleRequiresPermission(t *testing.T) {
	svc, events := newTestService(staticSource{"ADMIN": {rbac.PermFeatureToggle}})

	_, err := svc.Toggle(context.Background(), nil, ModuleSLA, true)
	var denied *rbac.DeniedError
	require.True(t, errors.As(err, &denied))
	assert.Equal(t, http.StatusUnauthorized, denied.Decision.Status)

	stale := &rbac.Actor{ID: 4, Role: "CLERK", Permissions: rbac.NewPermissionSet(rbac.PermFeatureToggle)}
	_, err = svc.Toggle(context.Background(), stale, ModuleSLA, true)
	require.True(t, errors.As(err, &denied))
	assert.Equal(t, rbac.ReasonMissingPermission, denied.Decision.Reason)
	assert.False(t, svc.Flags().Enabled(ModuleSLA))
	assert.Empty(t, events.events)
}

func TestToggleRecordsChange(t *testing.T) {
	svc, events := newTestService(staticSource{"ADMIN": {rbac.PermFeatureToggle}})
	admin := &rbac.Actor{ID: 1, Role: "ADMIN"}

	changed, err := svc.Toggle(context.Background(), admin, " SLA ", true)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, svc.Flags().Enabled(ModuleSLA))

	changed, err = svc.Toggle(context.Background(), admin, ModuleSLA, true)
	require.NoError(t, err)
	assert.False(t, changed)

	require.Len(t, events.events, 1)
	assert.Equal(t, audit.ActionFeatureToggled, events.events[0].Action)
	assert.Equal(t, "sla", events.events[0].EntityID)

	_, err = svc.Toggle(context.Background(), admin, "ghost", true)
	assert.ErrorIs(t, err, ErrUnknownModule)
}

func TestGate(t *testing.T) {
	flags := New(map[string]bool{ModuleSLA: false})
	h := flags.Gate(ModuleSLA)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sla/rules", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	_, err := flags.set(ModuleSLA, true)
	require.NoError(t, err)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sla/rules", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestNilFlagsDisableEveryModule(t *testing.T) {
	var flags *Flags
	assert.False(t, flags.Enabled(ModuleSLA))
	assert.False(t, New(nil).Enabled("reports"))

	h := flags.Gate(ModuleAudit)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit/events", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerToggle(t *testing.T) {
	svc, _ := newTestService(staticSource{"ADMIN": {rbac.PermFeatureToggle, rbac.PermFeatureRead}})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := chi.NewRouter()
	NewHandler(logger, svc, rbac.Middleware{Guard: svc.guard}).MountRoutes(r)
	admin := &rbac.Actor{ID: 1, Role: "ADMIN", Permissions: rbac.NewPermissionSet(rbac.PermFeatureRead)}

	do := func(method, path, body string, actor *rbac.Actor) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		if actor != nil {
			req = req.WithContext(rbac.ContextWithActor(req.Context(), actor))
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	rec := do(http.MethodPut, "/features/sla", `{"enabled":true}`, admin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, svc.Flags().Enabled(ModuleSLA))

	rec = do(http.MethodPut, "/features/sla", `{}`, admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(http.MethodPut, "/features/sla", `{"enabled":false}`, &rbac.Actor{ID: 2, Role: "HR"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), rbac.PermFeatureToggle)

	rec = do(http.MethodGet, "/features", "", admin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"sla":true`)
}
