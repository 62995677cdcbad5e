// File: reactor/timerheap.go
//go:build unix
// +build unix

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import (
	"time"

	"github.com/momentics/hioload-bus/api"
)

// timerEntry is the reactor's bookkeeping for one registered timeout. It is
// stored in the timeout's adapter data slot and, while armed, in the expiry
// heap. index is the heap position, -1 while not armed.
type timerEntry struct {
	t      *api.Timeout
	expiry time.Time
	index  int
}

// timerHeap is a min-heap of armed timers ordered by absolute expiry.
type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool { return h[i].expiry.Before(h[j].expiry) }

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
