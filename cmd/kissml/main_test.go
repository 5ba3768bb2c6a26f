package main

import (
	"bytes"
	"crypto/sha256"
	"testing"

	"github.com/nobletooth/kissml/pkg/eviction"
	"github.com/nobletooth/kissml/pkg/keys"
	"github.com/nobletooth/kissml/pkg/manager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *manager.Manager {
	t.Helper()
	m, err := manager.New(manager.WithRoot(t.TempDir()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	for _, identity := range []string{"pkg.train", "pkg.evaluate"} {
		instance, err := m.Get(identity, eviction.LeastRecentlyUsed)
		require.NoError(t, err)
		for _, value := range []string{"a", "b"} {
			require.NoError(t, instance.Store(keys.CacheKey{Digest: sha256.Sum256([]byte(value))}, value))
		}
	}
	require.NoError(t, m.CloseAll())
	return m
}

func TestRun_List(t *testing.T) {
	m := newTestManager(t)

	var out bytes.Buffer
	require.NoError(t, run(m, []string{"list"}, &out))
	assert.Contains(t, out.String(), "pkg.train")
	assert.Contains(t, out.String(), "pkg.evaluate")
	assert.Contains(t, out.String(), "2 namespaces")

	out.Reset()
	require.NoError(t, run(m, []string{"list", "*.train"}, &out))
	assert.Contains(t, out.String(), "pkg.train")
	assert.NotContains(t, out.String(), "pkg.evaluate")
	assert.Contains(t, out.String(), "         2 entries")
}

func TestRun_Purge(t *testing.T) {
	m := newTestManager(t)

	var out bytes.Buffer
	require.NoError(t, run(m, []string{"purge", "pkg.train", "LRU"}, &out))
	assert.Equal(t, "Purged pkg.train (least-recently-used).\n", out.String())

	namespaces, err := m.Namespaces("")
	require.NoError(t, err)
	require.Len(t, namespaces, 1)
	assert.Equal(t, "pkg.evaluate", namespaces[0].Identity)
}

func TestRun_Usage(t *testing.T) {
	m := newTestManager(t)
	for _, args := range [][]string{nil, {"list", "a", "b"}, {"purge", "pkg.train"}, {"compact"}} {
		assert.ErrorIs(t, run(m, args, &bytes.Buffer{}), errUsage, "args: %v", args)
	}
	assert.Error(t, run(m, []string{"purge", "pkg.train", "random"}, &bytes.Buffer{}))
}
