package store

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStore_GetPut(t *testing.T) {
	s := New()

	_, ok := s.Get("missing")
	require.False(t, ok)

	s.Put("key1", "hello")
	v, ok := s.Get("key1")
	require.True(t, ok)
	require.Equal(t, "hello", v)
}

func TestStore_Overwrite(t *testing.T) {
	s := New()
	s.Put("k", "v1")
	s.Put("k", "v2")

	v, ok := s.Get("k")
	require.True(t, ok)
	require.Equal(t, "v2", v)
}

func TestStore_Snapshot(t *testing.T) {
	s := New()
	s.Put("b", "2")
	s.Put("a", "1")
	s.Put("c", "3")

	snap := s.Snapshot()
	require.Len(t, snap, 3)
	require.Equal(t, []Entry{{Key: "a", Value: "1"}, {Key: "b", Value: "2"}, {Key: "c", Value: "3"}}, snap)
}

func TestStore_ConcurrentAccess(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Put("k", "v")
			s.Get("k")
			s.Snapshot()
		}(i)
	}
	wg.Wait()
	require.Equal(t, 1, s.Len())
}
