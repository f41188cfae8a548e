package ackbook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rn-go/raknet/pkg/raknet"
	"github.com/rn-go/raknet/pkg/raknet/resend"
	"github.com/rn-go/raknet/pkg/reactor"
)

func TestOutgoingObserveThenFlushAck(t *testing.T) {
	o := NewOutgoing()
	require.False(t, o.Observe(raknet.NewU24(1)))
	require.False(t, o.Observe(raknet.NewU24(2)))
	ack, ok := o.FlushAck()
	require.True(t, ok, "expected an ack to flush")
	var got []raknet.U24
	ack.Each(func(u raknet.U24) { got = append(got, u) })
	require.Len(t, got, 2)

	_, ok = o.FlushAck()
	require.False(t, ok, "second flush should be empty")
}

func TestOutgoingObserveReportsDuplicates(t *testing.T) {
	o := NewOutgoing()
	require.False(t, o.Observe(raknet.NewU24(1)), "first arrival of 1 is not a duplicate")
	require.True(t, o.Observe(raknet.NewU24(1)), "re-arrival of the current high-water mark is a duplicate")

	require.False(t, o.Observe(raknet.NewU24(2)), "first arrival of 2 is not a duplicate")

	// Flushing the ack must not make a genuinely-already-seen seq_num look
	// new again: a retransmitted copy of 1 arriving after the ack for it
	// was already flushed is still a duplicate.
	_, ok := o.FlushAck()
	require.True(t, ok)
	require.True(t, o.Observe(raknet.NewU24(1)), "duplicate of an already-flushed seq_num must still be reported as a duplicate")

	// But a seq_num that was outstanding as a gap is genuinely new when it
	// finally arrives, even though it is numerically behind highestSeen.
	o.Observe(raknet.NewU24(5)) // opens a gap at 3,4
	require.False(t, o.Observe(raknet.NewU24(3)), "filling a known gap is not a duplicate")
	require.True(t, o.Observe(raknet.NewU24(3)), "re-arrival of a just-filled gap is a duplicate")
}

func TestOutgoingObserveGapProducesMissing(t *testing.T) {
	o := NewOutgoing()
	o.Observe(raknet.NewU24(1))
	o.Observe(raknet.NewU24(5)) // opens a gap at 2,3,4
	nack, ok := o.FlushNack()
	require.True(t, ok, "expected a nack for the gap")
	var got []raknet.U24
	nack.Each(func(u raknet.U24) { got = append(got, u) })
	require.Len(t, got, 3)
}

func TestOutgoingFlushNackRateLimited(t *testing.T) {
	o := NewOutgoing()
	now := time.Now()
	o.now = func() time.Time { return now }
	o.Observe(raknet.NewU24(1))
	o.Observe(raknet.NewU24(5))

	_, ok := o.FlushNack()
	require.True(t, ok, "expected first flush to emit")

	_, ok = o.FlushNack()
	require.False(t, ok, "immediate re-flush of identical record set should be rate-limited")

	now = now.Add(2 * time.Second)
	_, ok = o.FlushNack()
	require.True(t, ok, "expected flush to emit again after rate limit window passes")
}

func TestIncomingHandleAckClearsResendMap(t *testing.T) {
	t.Cleanup(reactor.Shutdown)
	rct := reactor.Install()
	m := resend.New("peer", 0, rct)
	m.Record(raknet.NewU24(1), []raknet.Frame{{Body: []byte("x")}})

	in := NewIncoming(m)
	in.HandleAck(raknet.CoalesceSeqNums([]raknet.U24{1}))
	require.True(t, m.IsEmpty(), "expected resend map cleared after ack")
}

func TestIncomingHandleNackRetransmitsFrames(t *testing.T) {
	t.Cleanup(reactor.Shutdown)
	rct := reactor.Install()
	m := resend.New("peer", 0, rct)
	m.Record(raknet.NewU24(1), []raknet.Frame{{Body: []byte("a")}, {Body: []byte("b")}})

	in := NewIncoming(m)
	var buffer []raknet.Frame
	in.HandleNack(raknet.CoalesceSeqNums([]raknet.U24{1}), &buffer)
	require.Len(t, buffer, 2)
}
