// Package cache provides the read-through caching layer used by permission
// resolution and other list/detail lookups.
//
// The cache is an optimisation only: every store failure is logged and the
// caller falls back to the source of truth.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	platformcache "github.com/iers-platform/iers/internal/platform/cache"
)

const deleteBatch = 500

// Store is the key-value contract the service relies on.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	KeysWithPrefix(ctx context.Context, prefix string) ([]string, error)
}

// Loader produces the value for a missing key. A nil result is returned to
// the caller but never stored.
type Loader func(ctx context.Context) (any, error)

// Service wraps a Store with read-through population and invalidation helpers.
type Service struct {
	store  Store
	logger *slog.Logger
	prefix string
	group  singleflight.Group
}

// NewService builds a cache service. prefix namespaces every key and may be empty.
func NewService(store Store, logger *slog.Logger, prefix string) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger, prefix: strings.TrimSuffix(prefix, ":")}
}

// FetchJSON loads a cached value into dest or populates it using loader.
func (s *Service) FetchJSON(ctx context.Context, key string, ttl time.Duration, dest any, loader Loader) error {
	if loader == nil {
		return errors.New("cache: loader required")
	}
	if s == nil || s.store == nil {
		return loadInto(ctx, dest, loader)
	}
	full := s.key(key)

	payload, err := s.store.Get(ctx, full)
	switch {
	case err == nil:
		jsonErr := json.Unmarshal(payload, dest)
		if jsonErr == nil {
			return nil
		}
		s.logger.Warn("cache decode", slog.String("key", full), slog.Any("error", jsonErr))
	case errors.Is(err, platformcache.ErrMiss):
	default:
		s.logger.Warn("cache read", slog.String("key", full), slog.Any("error", err))
		return loadInto(ctx, dest, loader)
	}

	raw, err, _ := s.group.Do(full, func() (any, error) {
		value, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		if isNil(value) {
			return []byte(nil), nil
		}
		data, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		if err := s.store.Set(ctx, full, data, ttl); err != nil {
			s.logger.Warn("cache write", slog.String("key", full), slog.Any("error", err))
		}
		return data, nil
	})
	if err != nil {
		return err
	}
	data, _ := raw.([]byte)
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dest)
}

// GetOrSet is the typed variant of FetchJSON.
func GetOrSet[T any](ctx context.Context, s *Service, key string, ttl time.Duration, fetch func(context.Context) (T, error)) (T, error) {
	var out T
	err := s.FetchJSON(ctx, key, ttl, &out, func(ctx context.Context) (any, error) {
		return fetch(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// Invalidate removes a single key. Failures are logged and swallowed.
func (s *Service) Invalidate(ctx context.Context, key string) {
	if s == nil || s.store == nil {
		return
	}
	full := s.key(key)
	s.group.Forget(full)
	if err := s.store.Del(ctx, full); err != nil {
		s.logger.Warn("cache invalidate", slog.String("key", full), slog.Any("error", err))
	}
}

// InvalidatePattern removes every key starting with prefix. Failures are logged and swallowed.
func (s *Service) InvalidatePattern(ctx context.Context, prefix string) {
	if s == nil || s.store == nil {
		return
	}
	full := s.key(prefix)
	keys, err := s.store.KeysWithPrefix(ctx, full)
	if err != nil {
		s.logger.Warn("cache invalidate pattern", slog.String("prefix", full), slog.Any("error", err))
		return
	}
	for start := 0; start < len(keys); start += deleteBatch {
		end := min(start+deleteBatch, len(keys))
		batch := keys[start:end]
		for _, k := range batch {
			s.group.Forget(k)
		}
		if err := s.store.Del(ctx, batch...); err != nil {
			s.logger.Warn("cache invalidate pattern", slog.String("prefix", full), slog.Int("keys", len(batch)), slog.Any("error", err))
			return
		}
	}
	s.logger.Debug("cache invalidated", slog.String("prefix", full), slog.Int("keys", len(keys)))
}

func (s *Service) key(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + ":" + key
}

func loadInto(ctx context.Context, dest any, loader Loader) error {
	value, err := loader(ctx)
	if err != nil {
		return err
	}
	if isNil(value) {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

func isNil(value any) bool {
	if value == nil {
		return true
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
