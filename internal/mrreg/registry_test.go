package mrreg

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rocketbitz/fidomain/internal/errno"
)

func TestRequestedKeyMustBeUnique(t *testing.T) {
	reg := New(Options{})
	key, err := reg.Register(Entry{Length: 64}, 42)
	require.NoError(t, err)
	require.Equal(t, uint64(42), key)

	_, err = reg.Register(Entry{Length: 64}, 42)
	require.ErrorIs(t, err, errno.ErrNoKey)
}

func TestProviderKeysIgnoreRequest(t *testing.T) {
	reg := New(Options{ProviderKeys: true})
	a, err := reg.Register(Entry{}, 42)
	require.NoError(t, err)
	b, err := reg.Register(Entry{}, 42)
	require.NoError(t, err)
	require.NotEqual(t, a, b)
	require.NotZero(t, a)
	require.NotZero(t, b)
}

func TestAllocatedKeysSkipClaimedKeys(t *testing.T) {
	reg := New(Options{})
	_, err := reg.Register(Entry{}, 1)
	require.NoError(t, err)
	key, err := reg.Register(Entry{}, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(2), key)
}

func TestUnmapStrictness(t *testing.T) {
	reg := New(Options{})
	regionKey, err := reg.Register(Entry{}, 0)
	require.NoError(t, err)

	require.ErrorIs(t, reg.Unmap(999), errno.ErrNotFound)
	require.ErrorIs(t, reg.Unmap(regionKey), errno.ErrNotFound)

	imported, err := reg.Import(Entry{RemoteKey: regionKey, Length: 16})
	require.NoError(t, err)
	require.NotEqual(t, regionKey, imported)
	require.NoError(t, reg.Unmap(imported))
	require.ErrorIs(t, reg.Unmap(imported), errno.ErrNotFound)
}

func TestReleaseFreesKeyAndCapacity(t *testing.T) {
	reg := New(Options{MaxRegions: 1})
	key, err := reg.Register(Entry{}, 7)
	require.NoError(t, err)
	_, err = reg.Register(Entry{}, 8)
	require.ErrorIs(t, err, errno.ErrNoSpace)

	require.NoError(t, reg.Release(key))
	require.ErrorIs(t, reg.Release(key), errno.ErrNotFound)
	_, err = reg.Register(Entry{}, 7)
	require.NoError(t, err)
}

func TestLookupSnapshot(t *testing.T) {
	reg := New(Options{})
	key, err := reg.Register(Entry{Base: 0x1000, Length: 4096, Access: 3, AuthDigest: []byte{1, 2}}, 0)
	require.NoError(t, err)

	entry, err := reg.Lookup(key)
	require.NoError(t, err)
	require.Equal(t, uint64(0x1000), entry.Base)
	require.Equal(t, key, entry.RemoteKey)
	entry.AuthDigest[0] = 9

	again, err := reg.Lookup(key)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2}, again.AuthDigest)
}

func TestConcurrentRegistration(t *testing.T) {
	reg := New(Options{})
	var wg sync.WaitGroup
	keys := make(chan uint64, 400)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				key, err := reg.Register(Entry{}, 0)
				if err != nil {
					t.Errorf("register: %v", err)
					return
				}
				keys <- key
			}
		}()
	}
	wg.Wait()
	close(keys)

	seen := make(map[uint64]bool)
	for key := range keys {
		require.False(t, seen[key], "duplicate key %d", key)
		seen[key] = true
	}
	require.Equal(t, 400, reg.Regions())
}
