// The manager owns every live cache instance of the process: one store per (computation identity, eviction
// policy) pair, each persisted in its own directory under the cache root as <root>/<escaped identity>/<policy>.
// Instances are created lazily on first use and live until closed.

package manager

import (
	"cmp"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/nobletooth/kissml/pkg/config"
	"github.com/nobletooth/kissml/pkg/eviction"
	"github.com/nobletooth/kissml/pkg/registry"
	"github.com/nobletooth/kissml/pkg/serde"
	"github.com/nobletooth/kissml/pkg/storage"
	"github.com/nobletooth/kissml/pkg/store"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/errgroup"
)

var (
	ErrClosed          = errors.New("cache manager is closed")
	ErrInvalidIdentity = errors.New("invalid computation identity")
)

// HolderFactory opens the persistent holder of a namespace directory.
type HolderFactory func(dir string) (storage.KeyValueHolder, error)

func openSQLite(dir string) (storage.KeyValueHolder, error) {
	return storage.NewSQLiteTable(dir)
}

type Option func(*Manager)

// WithRoot sets the cache root directory.
func WithRoot(root string) Option {
	return func(m *Manager) { m.root = root }
}

// WithRegistry sets the type registry handed to new instances.
func WithRegistry(r *registry.Registry) Option {
	return func(m *Manager) { m.registry.Store(r) }
}

// WithCapacity sets the entry limit of every instance; non-positive values disable eviction.
func WithCapacity(capacity int) Option {
	return func(m *Manager) { m.capacity = capacity }
}

// WithHolderFactory replaces the SQLite holders, mostly for tests.
func WithHolderFactory(factory HolderFactory) Option {
	return func(m *Manager) { m.newHolder = factory }
}

type namespaceKey struct {
	identity string
	policy   eviction.Policy
}

// Namespace describes one on-disk cache instance.
type Namespace struct {
	Identity string
	Policy   eviction.Policy
	Dir      string
	Size     int64 // Bytes used on disk.
	Open     bool  // Whether this manager currently holds the instance open.
}

// Manager is safe for concurrent use.
type Manager struct {
	root      string
	capacity  int
	newHolder HolderFactory
	registry  atomic.Pointer[registry.Registry]
	updateMux sync.Mutex // Serializes registry updates.
	stores    *xsync.MapOf[namespaceKey, *store.Store]
	closed    atomic.Bool
}

// New creates a manager; without options it uses serde.Default() and the configured cache directory and capacity.
func New(options ...Option) (*Manager, error) {
	m := &Manager{
		capacity:  config.CacheCapacity(),
		newHolder: openSQLite,
		stores:    xsync.NewMapOf[namespaceKey, *store.Store](),
	}
	for _, option := range options {
		option(m)
	}
	if m.registry.Load() == nil {
		m.registry.Store(serde.Default())
	}
	if m.root == "" {
		root, err := config.CacheDir()
		if err != nil {
			return nil, err
		}
		m.root = root
	}
	root, err := filepath.Abs(m.root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve cache root %s: %w", m.root, err)
	}
	m.root = root
	return m, nil
}

var defaultManager = sync.OnceValues(func() (*Manager, error) { return New() })

// Default returns the process-wide manager built from configuration on first use.
func Default() (*Manager, error) {
	return defaultManager()
}

func (m *Manager) Root() string {
	return m.root
}

// Dir returns the directory of the (identity, policy) namespace. Identities differing only in case get directories
// that also differ on case-insensitive filesystems.
func (m *Manager) Dir(identity string, policy eviction.Policy) (string, error) {
	if err := validate(identity, policy); err != nil {
		return "", err
	}
	return filepath.Join(m.root, escapeIdentity(identity), string(policy)), nil
}

// escapeIdentity path-escapes the identity into a single path element and percent-encodes ASCII upper case
// letters too, so the only upper case characters left are hex digits of escapes. url.PathUnescape reverses it.
func escapeIdentity(identity string) string {
	escaped := url.PathEscape(identity)
	var builder strings.Builder
	for i := 0; i < len(escaped); i++ {
		switch c := escaped[i]; {
		case c == '%':
			builder.WriteString(escaped[i : i+3])
			i += 2
		case 'A' <= c && c <= 'Z':
			fmt.Fprintf(&builder, "%%%02X", c)
		default:
			builder.WriteByte(c)
		}
	}
	return builder.String()
}

func validate(identity string, policy eviction.Policy) error {
	switch identity {
	case "", ".", "..":
		return fmt.Errorf("%w: %q", ErrInvalidIdentity, identity)
	}
	if !policy.Valid() {
		return fmt.Errorf("unknown eviction policy %q", policy)
	}
	return nil
}

// Get returns the instance of (identity, policy), opening it on first use. Concurrent first calls open the
// namespace exactly once.
func (m *Manager) Get(identity string, policy eviction.Policy) (*store.Store, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	dir, err := m.Dir(identity, policy)
	if err != nil {
		return nil, err
	}
	if instance, found := m.stores.Load(namespaceKey{identity, policy}); found {
		return instance, nil
	}

	var openErr error
	instance, _ := m.stores.Compute(namespaceKey{identity, policy},
		func(existing *store.Store, loaded bool) (*store.Store, bool) {
			if loaded {
				return existing, false
			}
			opened, err := m.open(identity, policy, dir)
			if err != nil {
				openErr = err
				return nil, true // Nothing is inserted.
			}
			return opened, false
		})
	if openErr != nil {
		return nil, openErr
	}
	return instance, nil
}

func (m *Manager) open(identity string, policy eviction.Policy, dir string) (*store.Store, error) {
	holder, err := m.newHolder(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache namespace %s: %w", dir, err)
	}
	instance, err := store.New(holder, store.Options{
		Name:     identity,
		Policy:   policy,
		Capacity: m.capacity,
		Registry: m.registry.Load(), // Instances keep the snapshot they were created with.
	})
	if err != nil {
		_ = holder.Close()
		return nil, err
	}
	slog.Debug("Opened cache namespace.", "identity", identity, "policy", policy, "dir", dir)
	return instance, nil
}

// Registry returns the registry new instances are created with.
func (m *Manager) Registry() *registry.Registry {
	return m.registry.Load()
}

// UpdateRegistry derives a new registry from the current one and publishes it for instances opened afterward.
// Already open instances keep their snapshot.
func (m *Manager) UpdateRegistry(update func(*registry.Builder) error) error {
	m.updateMux.Lock()
	defer m.updateMux.Unlock()

	builder := registry.NewBuilderFrom(m.registry.Load())
	if err := update(builder); err != nil {
		return err
	}
	m.registry.Store(builder.Build())
	return nil
}

// Remove closes the instance of (identity, policy) if open and deletes its directory.
func (m *Manager) Remove(identity string, policy eviction.Policy) error {
	dir, err := m.Dir(identity, policy)
	if err != nil {
		return err
	}
	var closeErr error
	m.stores.Compute(namespaceKey{identity, policy}, func(existing *store.Store, loaded bool) (*store.Store, bool) {
		if loaded {
			closeErr = existing.Close()
		}
		return nil, true
	})
	if closeErr != nil {
		return closeErr
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove cache namespace %s: %w", dir, err)
	}
	// Drop the identity directory too once its last policy is gone.
	identityDir := filepath.Dir(dir)
	if entries, err := os.ReadDir(identityDir); err == nil && len(entries) == 0 {
		_ = os.Remove(identityDir)
	}
	slog.Info("Removed cache namespace.", "identity", identity, "policy", policy)
	return nil
}

// CloseAll closes every open instance. Instances are opened again on their next Get.
func (m *Manager) CloseAll() error {
	var group errgroup.Group
	m.stores.Range(func(key namespaceKey, instance *store.Store) bool {
		m.stores.Delete(key)
		group.Go(func() error {
			if err := instance.Close(); err != nil {
				return fmt.Errorf("failed to close %s/%s: %w", key.identity, key.policy, err)
			}
			return nil
		})
		return true
	})
	return group.Wait()
}

// Close closes every instance and rejects further Get calls.
func (m *Manager) Close() error {
	m.closed.Store(true)
	return m.CloseAll()
}

// Namespaces lists the namespaces persisted under the root whose identity matches the glob `pattern`.
func (m *Manager) Namespaces(pattern string) ([]Namespace, error) {
	identityDirs, err := os.ReadDir(m.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list cache root %s: %w", m.root, err)
	}

	var found []Namespace
	for _, identityDir := range identityDirs {
		if !identityDir.IsDir() {
			continue
		}
		identity, err := url.PathUnescape(identityDir.Name())
		if err != nil {
			slog.Warn("Skipping foreign directory in cache root.", "dir", identityDir.Name(), "error", err)
			continue
		}
		policyDirs, err := os.ReadDir(filepath.Join(m.root, identityDir.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", identityDir.Name(), err)
		}
		for _, policyDir := range policyDirs {
			policy := eviction.Policy(policyDir.Name())
			if !policyDir.IsDir() || !policy.Valid() {
				continue
			}
			dir := filepath.Join(m.root, identityDir.Name(), policyDir.Name())
			size, err := dirSize(dir)
			if err != nil {
				return nil, err
			}
			_, open := m.stores.Load(namespaceKey{identity, policy})
			found = append(found, Namespace{Identity: identity, Policy: policy, Dir: dir, Size: size, Open: open})
		}
	}

	matched, err := matchGlob(pattern, slices.Values(found))
	if err != nil {
		return nil, err
	}
	namespaces := slices.Collect(matched)
	slices.SortFunc(namespaces, func(a, b Namespace) int {
		return cmp.Or(cmp.Compare(a.Identity, b.Identity), cmp.Compare(a.Policy, b.Policy))
	})
	return namespaces, nil
}

func dirSize(dir string) (int64, error) {
	var size int64
	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		size += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to measure %s: %w", dir, err)
	}
	return size, nil
}
