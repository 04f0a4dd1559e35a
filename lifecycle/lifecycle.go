// Package lifecycle provides the halt-channel goroutine pattern used
// throughout this module: a single HaltCh fans out shutdown to every
// goroutine spawned with Go, and Halt blocks until they have all returned.
package lifecycle

import "sync"

// Halter is embedded by any type that owns background goroutines, giving it
// Go/HaltCh/Halt/IsHalted without pulling in a separate worker package.
type Halter struct {
	haltOnce sync.Once
	haltCh   chan struct{}
	wg       sync.WaitGroup

	initOnce sync.Once
}

func (h *Halter) init() {
	h.initOnce.Do(func() {
		h.haltCh = make(chan struct{})
	})
}

// Go spawns fn in a goroutine that Halt waits for.
func (h *Halter) Go(fn func()) {
	h.init()
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		fn()
	}()
}

// HaltCh returns the channel closed by Halt. Goroutines spawned with Go
// should select on it to notice shutdown.
func (h *Halter) HaltCh() <-chan struct{} {
	h.init()
	return h.haltCh
}

// Halt closes HaltCh exactly once and waits for every Go goroutine to
// return. Safe to call more than once or concurrently; all callers observe
// the same completion.
func (h *Halter) Halt() {
	h.init()
	h.haltOnce.Do(func() {
		close(h.haltCh)
	})
	h.wg.Wait()
}

// IsHalted reports whether Halt has been called, without blocking.
func (h *Halter) IsHalted() bool {
	h.init()
	select {
	case <-h.haltCh:
		return true
	default:
		return false
	}
}
