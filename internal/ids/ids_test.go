package ids

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewIsSortable(t *testing.T) {
	prev := New()
	for i := 0; i < 100; i++ {
		next := New()
		require.Less(t, prev, next)
		prev = next
	}
}

func TestTimeRoundTrip(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	id := NewAt(at)
	got, ok := Time(id)
	require.True(t, ok)
	require.True(t, got.Equal(at), "got %s", got)

	_, ok = Time("not-a-ulid")
	require.False(t, ok)
}
