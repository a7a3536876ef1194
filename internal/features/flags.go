// Package features holds module switches. The state is an explicit object
// created once at startup and passed to its consumers; it changes only through
// Service.Toggle.
package features

import (
	"errors"
	"maps"
	"net/http"
	"regexp"
	"strings"
	"sync"

	"github.com/iers-platform/iers/internal/platform/httpx"
)

// ErrUnknownModule is returned when toggling a module that was never registered.
var ErrUnknownModule = errors.New("features: unknown module")

// Module names gated by default.
const (
	ModulePermissions = "permissions"
	ModuleAudit       = "audit"
	ModuleSLA         = "sla"
)

var modulePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,62}$`)

// Flags is the module switch table.
type Flags struct {
	mu      sync.RWMutex
	modules map[string]bool
}

// New builds a flag table. Default modules start enabled unless initial says otherwise.
func New(initial map[string]bool) *Flags {
	modules := map[string]bool{
		ModulePermissions: true,
		ModuleAudit:       true,
		ModuleSLA:         true,
	}
	for name, on := range initial {
		name = strings.ToLower(strings.TrimSpace(name))
		if modulePattern.MatchString(name) {
			modules[name] = on
		}
	}
	return &Flags{modules: modules}
}

// Enabled reports whether module is switched on. Unknown modules are off,
// as is every module of a nil table.
func (f *Flags) Enabled(module string) bool {
	if f == nil {
		return false
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.modules[module]
}

// Snapshot returns a copy of the table.
func (f *Flags) Snapshot() map[string]bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return maps.Clone(f.modules)
}

// set switches a registered module and reports whether the value changed.
func (f *Flags) set(module string, on bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	current, ok := f.modules[module]
	if !ok {
		return false, ErrUnknownModule
	}
	if current == on {
		return false, nil
	}
	f.modules[module] = on
	return true, nil
}

// Gate answers 404 for every request while module is disabled.
func (f *Flags) Gate(module string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !f.Enabled(module) {
				httpx.Problem(w, http.StatusNotFound, "Not Found", "module "+module+" is disabled")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
