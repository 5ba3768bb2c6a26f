package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock hands out strictly increasing timestamps.
type fakeClock struct{ current time.Time }

func (c *fakeClock) now() time.Time {
	c.current = c.current.Add(time.Second)
	return c.current
}

// holderFactories builds every KeyValueHolder implementation with a deterministic clock.
func holderFactories(t *testing.T) map[string]func() KeyValueHolder {
	return map[string]func() KeyValueHolder{
		"in-memory": func() KeyValueHolder {
			holder := NewInMemoryKeyValueHolder()
			holder.now = (&fakeClock{current: time.Unix(1_000, 0)}).now
			return holder
		},
		"sqlite": func() KeyValueHolder {
			table, err := NewSQLiteTable(filepath.Join(t.TempDir(), "identity", "none"))
			require.NoError(t, err)
			table.now = (&fakeClock{current: time.Unix(1_000, 0)}).now
			t.Cleanup(func() { _ = table.Close() })
			return table
		},
	}
}

func TestKeyValueHolder_GetSetDelete(t *testing.T) {
	for name, newHolder := range holderFactories(t) {
		t.Run(name, func(t *testing.T) {
			holder := newHolder()

			_, err := holder.Get("missing")
			assert.ErrorIs(t, err, ErrKeyNotFound)

			require.NoError(t, holder.Set("0:sha256:ab", []byte{0, 1, 2}))
			got, err := holder.Get("0:sha256:ab")
			require.NoError(t, err)
			assert.Equal(t, []byte{0, 1, 2}, got)

			require.NoError(t, holder.Set("0:sha256:ab", []byte("replaced")))
			got, err = holder.Get("0:sha256:ab")
			require.NoError(t, err)
			assert.Equal(t, []byte("replaced"), got)

			require.NoError(t, holder.Set("empty", nil))
			got, err = holder.Get("empty")
			require.NoError(t, err)
			assert.Empty(t, got)

			count, err := holder.Len()
			require.NoError(t, err)
			assert.Equal(t, 2, count)

			deleted, err := holder.Delete("0:sha256:ab")
			require.NoError(t, err)
			assert.True(t, deleted)
			deleted, err = holder.Delete("0:sha256:ab")
			require.NoError(t, err)
			assert.False(t, deleted)

			require.NoError(t, holder.Clear())
			count, err = holder.Len()
			require.NoError(t, err)
			assert.Zero(t, count)
		})
	}
}

func TestKeyValueHolder_Entries(t *testing.T) {
	for name, newHolder := range holderFactories(t) {
		t.Run(name, func(t *testing.T) {
			holder := newHolder()
			require.NoError(t, holder.Set("a", []byte("1")))
			require.NoError(t, holder.Set("b", []byte("2")))
			require.NoError(t, holder.Touch("a"))
			require.NoError(t, holder.Touch("a"))
			require.NoError(t, holder.Touch("missing"))

			metas, err := holder.Entries()
			require.NoError(t, err)
			require.Len(t, metas, 2)
			assert.Equal(t, "a", metas[0].Key)
			assert.Equal(t, "b", metas[1].Key)
			assert.Less(t, metas[0].Seq, metas[1].Seq)
			assert.Equal(t, int64(2), metas[0].Accesses)
			assert.Zero(t, metas[1].Accesses)
			assert.True(t, metas[0].AccessedAt.After(metas[1].StoredAt))
			assert.True(t, metas[0].StoredAt.Before(metas[1].StoredAt))

			// Rewriting keeps the insertion sequence but resets access bookkeeping.
			require.NoError(t, holder.Set("a", []byte("3")))
			metas, err = holder.Entries()
			require.NoError(t, err)
			assert.Equal(t, "a", metas[0].Key)
			assert.Zero(t, metas[0].Accesses)
			assert.True(t, metas[0].StoredAt.After(metas[1].StoredAt))
		})
	}
}

func TestSQLiteTable_Persists(t *testing.T) {
	// Percent signs must survive as-is in directory names.
	dir := filepath.Join(t.TempDir(), "pkg.fn%2Fv2", "least-recently-used")
	table, err := NewSQLiteTable(dir)
	require.NoError(t, err)
	require.NoError(t, table.Set("k", []byte("v")))
	require.NoError(t, table.Close())

	assert.FileExists(t, filepath.Join(dir, DatabaseFileName))
	reopened, err := NewSQLiteTable(dir)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()
	got, err := reopened.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
	assert.Equal(t, dir, reopened.Dir())
}

func TestSQLiteTable_NotADirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(path, []byte("not a directory"), 0o600))
	_, err := NewSQLiteTable(path)
	assert.ErrorContains(t, err, "is not a directory")
}
