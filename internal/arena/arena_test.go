package arena

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocReturnsDistinctRegions(t *testing.T) {
	t.Parallel()

	a := New(16)
	first := a.Alloc(8)
	second := a.Alloc(8)

	require.Len(t, first, 8)
	require.Len(t, second, 8)

	first[0] = 0xAA
	require.NotEqual(t, byte(0xAA), second[0])
}

func TestAllocGrowsBeyondSlabSize(t *testing.T) {
	t.Parallel()

	a := New(4)
	big := a.Alloc(64)
	require.Len(t, big, 64)
	require.Equal(t, 64, a.Allocated())
}

func TestAllocStringCopiesInput(t *testing.T) {
	t.Parallel()

	a := New(0)
	src := []byte("hello")
	s := a.AllocString(string(src))
	src[0] = 'H'

	require.Equal(t, "hello", s)
}

func TestSprintfFormats(t *testing.T) {
	t.Parallel()

	a := New(0)
	require.Equal(t, "item:42", a.Sprintf("item:%d", 42))
}

func TestAllocIsConcurrencySafe(t *testing.T) {
	t.Parallel()

	a := New(64)
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.Alloc(10)
		}()
	}
	wg.Wait()

	require.Equal(t, 640, a.Allocated())
}
