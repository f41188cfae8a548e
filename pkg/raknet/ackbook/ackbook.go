// Package ackbook implements the two halves of acknowledgement bookkeeping
// from SPEC_FULL.md §4.3 and §4.4: tracking which inbound sequence numbers
// still need to be acked/nacked, and routing inbound ACK/NACK packets to a
// peer's resend map.
package ackbook

import (
	"time"

	"github.com/rn-go/raknet/pkg/raknet"
	"github.com/rn-go/raknet/pkg/raknet/resend"
)

// DefaultNackRateLimit bounds how often an identical NACK record set may be
// re-emitted, so a persistently missing frame set doesn't cause a NACK to be
// retransmitted every single flush tick.
const DefaultNackRateLimit = resend.DefaultRTO

// Outgoing tracks inbound sequence numbers seen since the last flush and
// turns them into coalesced ACK/NACK records on demand.
type Outgoing struct {
	received       map[raknet.U24]struct{}
	highestSeen    raknet.U24
	haveHighest    bool
	missing        map[raknet.U24]struct{}
	lastNackKey    string
	lastNackAt     time.Time
	nackRateLimit  time.Duration
	now            func() time.Time
}

// NewOutgoing creates an empty Outgoing ack book.
func NewOutgoing() *Outgoing {
	return &Outgoing{
		received:      make(map[raknet.U24]struct{}),
		missing:       make(map[raknet.U24]struct{}),
		nackRateLimit: DefaultNackRateLimit,
		now:           time.Now,
	}
}

// Observe records that seqNum was received and reports whether it is a
// duplicate: a seq_num that was already fully accounted for (either it
// equals the current high-water mark, or it is older and was not an
// outstanding gap). Duplicates are re-added to the pending-ack set —
// SPEC_FULL.md §4.3 requires they still be acknowledged — but their
// frames must not be delivered to the user again; callers use the
// returned bool to skip re-delivery. Any not-yet-seen sequence numbers
// between the previous high-water mark and seqNum are recorded as
// missing, so a gap opened by reordering or loss produces a NACK.
func (o *Outgoing) Observe(seqNum raknet.U24) (duplicate bool) {
	if !o.haveHighest {
		o.received[seqNum] = struct{}{}
		o.highestSeen = seqNum
		o.haveHighest = true
		return false
	}
	if seqNum == o.highestSeen {
		o.received[seqNum] = struct{}{}
		return true
	}
	if o.highestSeen.LessThanSequence(seqNum) {
		for cur := o.highestSeen.Next(); cur != seqNum; cur = cur.Next() {
			if _, ok := o.received[cur]; !ok {
				o.missing[cur] = struct{}{}
			}
		}
		o.highestSeen = seqNum
		o.received[seqNum] = struct{}{}
		return false
	}
	if _, isMissing := o.missing[seqNum]; isMissing {
		delete(o.missing, seqNum)
		o.received[seqNum] = struct{}{}
		return false
	}
	o.received[seqNum] = struct{}{}
	return true
}

// FlushAck drains every received sequence number into a coalesced ACK and
// clears the received set.
func (o *Outgoing) FlushAck() (raknet.AckOrNack, bool) {
	if len(o.received) == 0 {
		return raknet.AckOrNack{}, false
	}
	nums := make([]raknet.U24, 0, len(o.received))
	for seq := range o.received {
		nums = append(nums, seq)
		delete(o.received, seq)
	}
	return raknet.CoalesceSeqNums(nums), true
}

// FlushNack coalesces the currently outstanding missing sequence numbers
// into a NACK, subject to rate-limiting: an identical record set is not
// re-emitted within nackRateLimit of its last emission.
func (o *Outgoing) FlushNack() (raknet.AckOrNack, bool) {
	if len(o.missing) == 0 {
		return raknet.AckOrNack{}, false
	}
	nums := make([]raknet.U24, 0, len(o.missing))
	for seq := range o.missing {
		nums = append(nums, seq)
	}
	nack := raknet.CoalesceSeqNums(nums)

	key := nackKey(nack)
	now := o.now()
	if key == o.lastNackKey && now.Sub(o.lastNackAt) < o.nackRateLimit {
		return raknet.AckOrNack{}, false
	}
	o.lastNackKey = key
	o.lastNackAt = now
	return nack, true
}

// Resolve stops tracking seqNum as missing once it has genuinely arrived
// (called from Observe implicitly, exposed for callers that reconcile
// against a resend map directly).
func (o *Outgoing) Resolve(seqNum raknet.U24) {
	delete(o.missing, seqNum)
}

func nackKey(a raknet.AckOrNack) string {
	buf := make([]byte, 0, len(a.Records)*7)
	for _, r := range a.Records {
		buf = append(buf, byte(r.Kind))
		var tmp [3]byte
		raknet.PutU24LE(tmp[:], r.Start)
		buf = append(buf, tmp[:]...)
		raknet.PutU24LE(tmp[:], r.End)
		buf = append(buf, tmp[:]...)
	}
	return string(buf)
}

// Incoming routes inbound ACK/NACK packets to a peer's resend map: ACKs
// clear in-flight entries, NACKs move their frames into the retransmit
// buffer immediately rather than waiting for RTO expiry.
type Incoming struct {
	resendMap *resend.Map
}

// NewIncoming binds an Incoming ack router to a peer's resend map.
func NewIncoming(m *resend.Map) *Incoming {
	return &Incoming{resendMap: m}
}

// HandleAck applies an inbound ACK packet.
func (in *Incoming) HandleAck(ack raknet.AckOrNack) {
	in.resendMap.OnAck(ack)
}

// HandleNack applies an inbound NACK packet, appending the frames it
// covers to buffer for immediate retransmission.
func (in *Incoming) HandleNack(nack raknet.AckOrNack, buffer *[]raknet.Frame) {
	in.resendMap.OnNackInto(nack, buffer)
}
