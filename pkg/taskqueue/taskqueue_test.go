package taskqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueueFIFOOrder(t *testing.T) {
	q := New("test")
	defer q.Stop()

	var order []int
	done := make(chan struct{})
	for i := 0; i < 5; i++ {
		i := i
		q.Post(func() {
			order = append(order, i)
			if i == 4 {
				close(done)
			}
		})
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
	require.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestQueueDelayedTask(t *testing.T) {
	q := New("test")
	defer q.Stop()

	done := make(chan time.Time, 1)
	start := time.Now()
	q.PostDelayed(30*time.Millisecond, func() {
		done <- time.Now()
	})
	select {
	case fired := <-done:
		require.GreaterOrEqual(t, fired.Sub(start), 25*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
}

func TestAliveFlagGuardsStaleClosures(t *testing.T) {
	flag := NewAliveFlag()
	ran := false
	guarded := flag.Guard(func() { ran = true })

	flag.Kill()
	guarded()
	require.False(t, ran)

	flag2 := NewAliveFlag()
	guarded2 := flag2.Guard(func() { ran = true })
	guarded2()
	require.True(t, ran)
}
