// Package reactor implements the process-wide timer reactor described in
// SPEC_FULL.md §5: a single min-heap of (peer id, deadline, wake) entries
// shared by every peer's ResendMap, so that N peers don't each need their
// own OS timer thread. The pipeline's ack loop uses its own ticker.
package reactor

import (
	"container/heap"
	"sync"
	"time"

	"github.com/rn-go/raknet/pkg/raknet"
)

type entry struct {
	peerID   raknet.PeerID
	deadline time.Time
	wake     func()
	index    int
	canceled bool
}

type entryHeap []*entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Reactor is a min-heap of deadlines keyed by peer id. Insertion and
// fire-events are O(log n).
type Reactor struct {
	mu      sync.Mutex
	heap    entryHeap
	byPeer  map[raknet.PeerID][]*entry
	timer   *time.Timer
	done    chan struct{}
	nowFunc func() time.Time
}

var (
	globalMu sync.Mutex
	global   *Reactor
)

// Install creates (or returns, if already installed) the process-wide
// reactor and starts its background wakeup loop.
func Install() *Reactor {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global != nil {
		return global
	}
	global = newReactor()
	return global
}

// Get returns the installed reactor, installing one if necessary. Most
// callers should use Install explicitly at startup and Get elsewhere.
func Get() *Reactor {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		global = newReactor()
	}
	return global
}

// Shutdown tears down the process-wide reactor, so tests can reset it
// between runs.
func Shutdown() {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global != nil {
		global.stop()
		global = nil
	}
}

func newReactor() *Reactor {
	r := &Reactor{
		byPeer:  make(map[raknet.PeerID][]*entry),
		done:    make(chan struct{}),
		nowFunc: time.Now,
	}
	r.timer = time.NewTimer(time.Hour)
	r.timer.Stop()
	go r.loop()
	return r
}

// InsertTimer arms a wake callback for peerID at deadline. Multiple timers
// may be outstanding per peer; each call adds one independent entry.
func (r *Reactor) InsertTimer(peerID raknet.PeerID, deadline time.Time, wake func()) {
	r.mu.Lock()
	e := &entry{peerID: peerID, deadline: deadline, wake: wake}
	heap.Push(&r.heap, e)
	r.byPeer[peerID] = append(r.byPeer[peerID], e)
	r.rearmLocked()
	r.mu.Unlock()
}

// Cancel removes all outstanding timers for peerID, e.g. on disconnect.
func (r *Reactor) Cancel(peerID raknet.PeerID) {
	r.mu.Lock()
	for _, e := range r.byPeer[peerID] {
		e.canceled = true
	}
	delete(r.byPeer, peerID)
	r.mu.Unlock()
}

func (r *Reactor) rearmLocked() {
	if len(r.heap) == 0 {
		r.timer.Stop()
		return
	}
	next := r.heap[0].deadline
	d := time.Until(next)
	if d < 0 {
		d = 0
	}
	r.timer.Stop()
	r.timer.Reset(d)
}

func (r *Reactor) loop() {
	for {
		select {
		case <-r.done:
			return
		case <-r.timer.C:
			r.fireDue()
		}
	}
}

func (r *Reactor) fireDue() {
	now := r.nowFunc()
	var due []*entry
	r.mu.Lock()
	for len(r.heap) > 0 && !r.heap[0].deadline.After(now) {
		e := heap.Pop(&r.heap).(*entry)
		if !e.canceled {
			due = append(due, e)
		}
	}
	r.rearmLocked()
	r.mu.Unlock()
	for _, e := range due {
		e.wake()
	}
}

func (r *Reactor) stop() {
	close(r.done)
	r.timer.Stop()
}
