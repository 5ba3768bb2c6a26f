// A step wraps a computation so that every call is timed and, when caching is configured, memoized on disk:
// arguments are bound against the step's signature, digested into a cache key and looked up in the namespace of
// (step name, eviction policy). Failed computations are returned as-is and never cached.

package step

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nobletooth/kissml/pkg/eviction"
	"github.com/nobletooth/kissml/pkg/keys"
	"github.com/nobletooth/kissml/pkg/manager"
	"github.com/nobletooth/kissml/pkg/registry"
)

// CacheConfig enables caching of a step. Bumping Version invalidates every entry cached by older versions.
// The zero EvictionPolicy means eviction.None.
type CacheConfig struct {
	Version        int64
	EvictionPolicy eviction.Policy
}

type settings struct {
	cache    *CacheConfig
	manager  *manager.Manager
	logLevel *slog.Level
}

type Option func(*settings)

func WithCache(config CacheConfig) Option {
	return func(s *settings) { s.cache = &config }
}

// WithManager sets the manager resolving cache namespaces; manager.Default() is used otherwise.
func WithManager(m *manager.Manager) Option {
	return func(s *settings) { s.manager = m }
}

// WithLogLevel logs every completed call at `level`. Steps don't log without it.
func WithLogLevel(level slog.Level) Option {
	return func(s *settings) { s.logLevel = &level }
}

// Step is a named computation returning R.
type Step[R any] struct {
	name      string
	signature keys.Signature
	fn        func(keys.Bound) (R, error)
	settings
}

// New declares a step. The name is the computation identity: steps sharing a name and eviction policy share
// their cache namespace.
func New[R any](name string, signature keys.Signature, fn func(keys.Bound) (R, error), options ...Option) (*Step[R], error) {
	if name == "" {
		return nil, fmt.Errorf("%w: step name must not be empty", manager.ErrInvalidIdentity)
	}
	if fn == nil {
		return nil, fmt.Errorf("step %s has no function", name)
	}
	step := &Step[R]{name: name, signature: signature, fn: fn}
	for _, option := range options {
		option(&step.settings)
	}
	if step.cache != nil {
		if step.cache.EvictionPolicy == "" {
			step.cache.EvictionPolicy = eviction.None
		}
		if !step.cache.EvictionPolicy.Valid() {
			return nil, fmt.Errorf("step %s: unknown eviction policy %q", name, step.cache.EvictionPolicy)
		}
	}
	return step, nil
}

func (s *Step[R]) Name() string {
	return s.name
}

// Call runs the step. Named arguments are passed with keys.Named after the positional ones.
func (s *Step[R]) Call(args ...any) (R, error) {
	var zero R
	start := time.Now()
	bound, err := s.signature.Bind(args...)
	if err != nil {
		return zero, fmt.Errorf("step %s: %w", s.name, err)
	}

	if s.cache == nil {
		result, err := s.fn(bound)
		if err != nil {
			return zero, err
		}
		s.logCompleted(start, false /*cached*/)
		return result, nil
	}

	result, cached, err := s.callCached(bound)
	if err != nil {
		return zero, err
	}
	s.logCompleted(start, cached)
	return result, nil
}

func (s *Step[R]) callCached(bound keys.Bound) (R, bool, error) {
	var zero R
	m := s.manager
	if m == nil {
		var err error
		if m, err = manager.Default(); err != nil {
			return zero, false, err
		}
	}
	instance, err := m.Get(s.name, s.cache.EvictionPolicy)
	if err != nil {
		return zero, false, err
	}
	key, err := keys.NewBuilder(m.Registry()).Build(s.cache.Version, bound)
	if err != nil {
		return zero, false, fmt.Errorf("step %s: %w", s.name, err)
	}

	value, cached, err := instance.GetOrCompute(key, func() (any, error) { return s.fn(bound) })
	if err != nil {
		return zero, false, err
	}
	if value == nil {
		return zero, cached, nil
	}
	result, ok := value.(R)
	if !ok {
		return zero, false, fmt.Errorf("%w: step %s cached a %T under %s, not a %T", registry.ErrDeserialization,
			s.name, value, key, zero)
	}
	return result, cached, nil
}

func (s *Step[R]) logCompleted(start time.Time, cached bool) {
	if s.logLevel == nil {
		return
	}
	slog.Log(context.Background(), *s.logLevel, "Step completed.",
		"step", s.name, "seconds", time.Since(start).Seconds(), "cached", cached)
}
