package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHaltWaitsForGoroutines(t *testing.T) {
	var h Halter
	done := make(chan struct{})
	h.Go(func() {
		<-h.HaltCh()
		time.Sleep(10 * time.Millisecond)
		close(done)
	})

	h.Halt()
	select {
	case <-done:
	default:
		t.Fatal("Halt returned before goroutine finished")
	}
}

func TestHaltIdempotent(t *testing.T) {
	var h Halter
	require.False(t, h.IsHalted())
	h.Halt()
	h.Halt()
	require.True(t, h.IsHalted())
}
