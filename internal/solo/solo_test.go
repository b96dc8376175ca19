package solo

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSolo_PutGet(t *testing.T) {
	s := New()
	s.Put("key1", "hello")

	v, ok := s.Get("key1")
	require.True(t, ok)
	require.Equal(t, "hello", v)

	_, ok = s.Get("missing")
	require.False(t, ok)
}

func TestSolo_GetAll(t *testing.T) {
	s := New()
	s.Put("a", "1")
	s.Put("b", "2")
	require.Len(t, s.GetAll(), 2)
}
