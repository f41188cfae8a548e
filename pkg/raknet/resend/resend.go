// Package resend implements the reliable-resend map from SPEC_FULL.md §4.5:
// in-flight outbound FrameSets keyed by sequence number, expired on a fixed
// RTO and surfaced for retransmission, or dropped outright on ACK.
//
// Grounded on Xuanwo/raknet-rs's src/resend_map.rs (see original_source/ in
// the retrieval pack): the same record/on_ack/on_nack_into/process_stales/
// poll_wait operations, the same expired_at cache used to short-circuit the
// stale scan, and the same "update the cache on record, not just on scan"
// fix for the cache/reactor disagreement noted as an open question there.
package resend

import (
	"sync"
	"time"

	"github.com/rn-go/raknet/pkg/raknet"
	"github.com/rn-go/raknet/pkg/reactor"
)

// DefaultRTO is the fixed retransmit timeout; an RTT estimator is a
// designated extension point, not implemented here.
const DefaultRTO = time.Second

type resendEntry struct {
	frames    []raknet.Frame
	expiredAt time.Time
}

// Map tracks in-flight reliable FrameSets by outbound sequence number.
// It contains at most one entry per seq_num, and that entry exists iff the
// frame set has not been fully acknowledged and not yet expired.
type Map struct {
	mu                  sync.Mutex
	entries             map[raknet.U24]*resendEntry
	peerID              raknet.PeerID
	rto                 time.Duration
	lastRecordExpiredAt time.Time
	reactor             *reactor.Reactor
	now                 func() time.Time
}

// New creates a resend map for one peer, using the process-wide reactor for
// wakeups.
func New(peerID raknet.PeerID, rto time.Duration, r *reactor.Reactor) *Map {
	if rto <= 0 {
		rto = DefaultRTO
	}
	return &Map{
		entries:             make(map[raknet.U24]*resendEntry),
		peerID:              peerID,
		rto:                 rto,
		lastRecordExpiredAt: time.Now(),
		reactor:             r,
		now:                 time.Now,
	}
}

// Record inserts an entry for seq_num, expiring at now+RTO. It also
// advances the short-circuit cache down to this deadline if it is sooner,
// so PollWait's reactor arm-point and ProcessStales's cache can never
// disagree (SPEC_FULL.md §4.5, §9).
func (m *Map) Record(seqNum raknet.U24, frames []raknet.Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	expiredAt := m.now().Add(m.rto)
	m.entries[seqNum] = &resendEntry{frames: frames, expiredAt: expiredAt}
	if expiredAt.Before(m.lastRecordExpiredAt) {
		m.lastRecordExpiredAt = expiredAt
	}
}

// OnAck deletes every entry covered by ack without reinjecting its frames.
func (m *Map) OnAck(ack raknet.AckOrNack) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ack.Each(func(seq raknet.U24) {
		delete(m.entries, seq)
	})
}

// OnNackInto moves the frames of every entry covered by nack into buffer,
// in order, and deletes those entries.
func (m *Map) OnNackInto(nack raknet.AckOrNack, buffer *[]raknet.Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	nack.Each(func(seq raknet.U24) {
		if e, ok := m.entries[seq]; ok {
			*buffer = append(*buffer, e.frames...)
			delete(m.entries, seq)
		}
	})
}

// ProcessStales moves the frames of every expired entry into buffer and
// deletes those entries, updating the short-circuit cache to the next
// nearest deadline among survivors.
func (m *Map) ProcessStales(buffer *[]raknet.Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if now.Before(m.lastRecordExpiredAt) {
		// No stale entries possible yet; skip scanning the map.
		return
	}
	minExpiredAt := now.Add(m.rto)
	for seq, e := range m.entries {
		if !e.expiredAt.After(now) {
			*buffer = append(*buffer, e.frames...)
			delete(m.entries, seq)
			continue
		}
		if e.expiredAt.Before(minExpiredAt) {
			minExpiredAt = e.expiredAt
		}
	}
	m.lastRecordExpiredAt = minExpiredAt
}

// IsEmpty reports whether any entries remain in flight.
func (m *Map) IsEmpty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries) == 0
}

// Len reports the number of in-flight entries, for metrics.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// PollWait arms wake with the reactor for the earliest outstanding
// deadline and returns false (pending), or returns true (ready) if there
// is nothing to wait for — either the map is empty, or the earliest
// deadline has already passed and the caller should consume immediately.
func (m *Map) PollWait(wake func()) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) == 0 {
		return true
	}
	now := m.now()
	var earliest time.Time
	first := true
	for _, e := range m.entries {
		if first || e.expiredAt.Before(earliest) {
			earliest = e.expiredAt
			first = false
		}
	}
	if !earliest.After(now) {
		return true
	}
	m.reactor.InsertTimer(m.peerID, earliest, wake)
	return false
}
