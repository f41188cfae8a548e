// Package reassembly implements the fragment reassembler from
// SPEC_FULL.md §4.6: frames sharing a parted_id are joined, in index
// order, into one whole message once every index 0..parted_size-1 has
// arrived.
package reassembly

import (
	"go.uber.org/zap"

	"github.com/rn-go/raknet/pkg/raknet"
)

// MaxFragmentsPerMessage bounds parted_size against a pathological or
// corrupt split-packet header, mirroring the teacher repo's
// MAX_SPLIT_PACKET_COUNT sanity cap.
const MaxFragmentsPerMessage = 4096

// MaxInFlight bounds the number of distinct parted_ids being assembled at
// once; the oldest (by last-touched order) is evicted to bound memory.
const MaxInFlight = 256

type partial struct {
	partedSize uint32
	first      raknet.Frame // flags/reliability/ordering fields, body unused
	data       [][]byte
	have       []bool
	count      int
}

// Reassembler joins fragmented frames into whole messages by
// (compound-id, index).
type Reassembler struct {
	maxInFlight int
	entries     map[uint16]*partial
	order       []uint16
	log         *zap.SugaredLogger
}

// New creates a Reassembler bounded to maxInFlight concurrent parted_ids
// (0 selects MaxInFlight).
func New(maxInFlight int, log *zap.SugaredLogger) *Reassembler {
	if maxInFlight <= 0 {
		maxInFlight = MaxInFlight
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Reassembler{
		maxInFlight: maxInFlight,
		entries:     make(map[uint16]*partial),
		log:         log,
	}
}

// Add ingests one fragmented frame. It returns the reassembled frame and
// true once every fragment of its message has arrived; otherwise it
// returns false (the frame has been buffered, or discarded as invalid).
func (r *Reassembler) Add(f raknet.Frame) (raknet.Frame, bool) {
	info := f.FragmentInfo
	if info.PartedSize == 0 || info.PartedSize > MaxFragmentsPerMessage || info.PartedIndex >= info.PartedSize {
		r.log.Debugw("discarding fragment with invalid split header", "parted_id", info.PartedID, "parted_size", info.PartedSize, "parted_index", info.PartedIndex)
		return raknet.Frame{}, false
	}

	p, ok := r.entries[info.PartedID]
	if !ok {
		p = &partial{
			partedSize: info.PartedSize,
			first:      withoutBody(f),
			data:       make([][]byte, info.PartedSize),
			have:       make([]bool, info.PartedSize),
		}
		r.entries[info.PartedID] = p
		r.touch(info.PartedID)
		r.evictIfNeeded()
	} else {
		if p.partedSize != info.PartedSize {
			r.log.Debugw("discarding fragment with mismatched parted_size", "parted_id", info.PartedID)
			return raknet.Frame{}, false
		}
		if !consistent(p.first, f) {
			r.log.Debugw("discarding fragment with inconsistent flags/ordering", "parted_id", info.PartedID)
			return raknet.Frame{}, false
		}
		r.touch(info.PartedID)
	}

	if !p.have[info.PartedIndex] {
		p.have[info.PartedIndex] = true
		p.data[info.PartedIndex] = f.Body
		p.count++
	} else {
		p.data[info.PartedIndex] = f.Body
	}

	if p.count < int(p.partedSize) {
		return raknet.Frame{}, false
	}

	total := 0
	for _, b := range p.data {
		total += len(b)
	}
	body := make([]byte, 0, total)
	for _, b := range p.data {
		body = append(body, b...)
	}
	out := p.first
	out.Flags = raknet.NewFlags(p.first.Flags.Reliability(), false)
	out.FragmentInfo = raknet.Fragment{}
	out.Body = body

	delete(r.entries, info.PartedID)
	r.removeFromOrder(info.PartedID)
	return out, true
}

func withoutBody(f raknet.Frame) raknet.Frame {
	f.Body = nil
	return f
}

// consistent reports whether two fragments of the same message agree on
// the fields that must be shared across every fragment.
func consistent(a, b raknet.Frame) bool {
	if a.Flags != b.Flags {
		return false
	}
	r := a.Flags.Reliability()
	if r.HasOrderedIndex() && a.Ordered != b.Ordered {
		return false
	}
	return true
}

func (r *Reassembler) touch(id uint16) {
	r.removeFromOrder(id)
	r.order = append(r.order, id)
}

func (r *Reassembler) removeFromOrder(id uint16) {
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}

func (r *Reassembler) evictIfNeeded() {
	for len(r.entries) > r.maxInFlight && len(r.order) > 0 {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.entries, oldest)
		r.log.Debugw("evicting in-flight fragment set under memory pressure", "parted_id", oldest)
	}
}
