// Package pipeline composes the per-peer online engine from SPEC_FULL.md
// §4.8: reader, writer, resender, acker and ping-keepalive tasks running
// under one errgroup, talking to each other over plain Go channels instead
// of the teacher's single-threaded select loop.
package pipeline

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rn-go/raknet/pkg/raknet"
	"github.com/rn-go/raknet/pkg/raknet/ackbook"
	"github.com/rn-go/raknet/pkg/raknet/ordered"
	"github.com/rn-go/raknet/pkg/raknet/reassembly"
	"github.com/rn-go/raknet/pkg/raknet/resend"
	"github.com/rn-go/raknet/pkg/reactor"
)

// Transport is the datagram I/O collaborator the engine depends on; tests
// substitute an in-memory fake instead of a live UDP socket.
type Transport interface {
	ReadFrom(ctx context.Context) ([]byte, *net.UDPAddr, error)
	WriteTo(ctx context.Context, b []byte, addr *net.UDPAddr) error
}

// MetricsRecorder is the observability collaborator the engine reports
// per-peer counters to; *metrics.Collector satisfies this structurally.
// A nil Recorder is valid and simply drops every call.
type MetricsRecorder interface {
	AddFramesSent(peerID raknet.PeerID, n, bytes uint64)
	AddFramesReceived(peerID raknet.PeerID, n, bytes uint64)
	SetResendQueueLen(peerID raknet.PeerID, n int)
	AddRetransmits(peerID raknet.PeerID, n uint64)
	AddDuplicatesDropped(peerID raknet.PeerID, n uint64)
}

type nopRecorder struct{}

func (nopRecorder) AddFramesSent(raknet.PeerID, uint64, uint64)     {}
func (nopRecorder) AddFramesReceived(raknet.PeerID, uint64, uint64) {}
func (nopRecorder) SetResendQueueLen(raknet.PeerID, int)            {}
func (nopRecorder) AddRetransmits(raknet.PeerID, uint64)            {}
func (nopRecorder) AddDuplicatesDropped(raknet.PeerID, uint64)      {}

// Config holds the tunables recognized by an OnlinePipeline.
type Config struct {
	SendBufCap        int
	FlushInterval     time.Duration
	RTO               time.Duration
	PingInterval      time.Duration
	ConnectionTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.SendBufCap <= 0 {
		c.SendBufCap = 256
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 50 * time.Millisecond
	}
	if c.RTO <= 0 {
		c.RTO = resend.DefaultRTO
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 5 * time.Second
	}
	if c.ConnectionTimeout <= 0 {
		c.ConnectionTimeout = 30 * time.Second
	}
	return c
}

// frameOverhead is the fixed header cost budgeted against MTU when deciding
// whether a message must be fragmented: the largest frame header (23 bytes:
// flags, bit length, reliable, sequenced and ordered indexes, fragment
// header) plus the 4-byte frame set header.
const frameOverhead = 27

type outboundMessage struct {
	reliability raknet.Reliability
	channel     uint8
	body        []byte
}

// Pipeline is the duplex engine for one connected Peer.
type Pipeline struct {
	peer      raknet.Peer
	transport Transport
	cfg       Config
	log       *zap.SugaredLogger

	resendMap   *resend.Map
	outAck      *ackbook.Outgoing
	inAck       *ackbook.Incoming
	reassembler *reassembly.Reassembler
	ordered     *ordered.Channels
	metrics     MetricsRecorder

	reliableCounter raknet.U24
	orderedCounters [raknet.MaxChannels]raknet.U24
	seqCounters     [raknet.MaxChannels]raknet.U24
	outSeqNum       raknet.U24

	inbound    chan []byte
	outbound   chan outboundMessage
	retransmit chan []raknet.Frame
	wake       chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
	mu        sync.Mutex
	closeErr  error
}

// New builds a Pipeline for peer, ready to be driven by Run. rec may be
// nil, in which case metrics reporting is a no-op.
func New(peer raknet.Peer, t Transport, cfg Config, rct *reactor.Reactor, log *zap.SugaredLogger, rec ...MetricsRecorder) *Pipeline {
	cfg = cfg.withDefaults()
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	var recorder MetricsRecorder = nopRecorder{}
	if len(rec) > 0 && rec[0] != nil {
		recorder = rec[0]
	}
	resendMap := resend.New(peer.ID, cfg.RTO, rct)
	return &Pipeline{
		peer:        peer,
		transport:   t,
		cfg:         cfg,
		log:         log.With("peer_id", peer.ID),
		resendMap:   resendMap,
		outAck:      ackbook.NewOutgoing(),
		inAck:       ackbook.NewIncoming(resendMap),
		reassembler: reassembly.New(0, log),
		ordered:     ordered.New(0, log),
		metrics:     recorder,
		inbound:     make(chan []byte, cfg.SendBufCap),
		outbound:    make(chan outboundMessage, cfg.SendBufCap),
		retransmit:  make(chan []raknet.Frame, 64),
		wake:        make(chan struct{}, 1),
		closed:      make(chan struct{}),
	}
}

// Inbound returns the channel of delivered user message bodies. It is
// closed once the peer disconnects, gracefully or not.
func (p *Pipeline) Inbound() <-chan []byte { return p.inbound }

// Send enqueues body for reliable-ordered delivery on channel 0, the
// default reliability.
func (p *Pipeline) Send(body []byte) error {
	return p.SendReliable(raknet.ReliableOrdered, 0, body)
}

// SendReliable enqueues body for delivery under the given reliability and
// ordering channel.
func (p *Pipeline) SendReliable(r raknet.Reliability, channel uint8, body []byte) error {
	select {
	case <-p.closed:
		return raknet.ErrPeerClosed
	default:
	}
	select {
	case p.outbound <- outboundMessage{reliability: r, channel: channel, body: body}:
		return nil
	case <-p.closed:
		return raknet.ErrPeerClosed
	}
}

// LastTraceID returns the peer id used to correlate logs and metrics for
// this pipeline.
func (p *Pipeline) LastTraceID() string { return string(p.peer.ID) }

// Close marks the pipeline closed: later Send calls fail with
// ErrPeerClosed and Run cancels all of its tasks. Queued sends are not
// flushed, in-flight resend map entries are not waited for, and Close does
// not wait for Run to return; it reports the error recorded so far.
func (p *Pipeline) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	<-p.closed
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeErr
}

func (p *Pipeline) setCloseErr(err error) {
	p.mu.Lock()
	p.closeErr = multierr.Append(p.closeErr, err)
	p.mu.Unlock()
}

// Run drives the pipeline's goroutine group until ctx is canceled or a
// fatal sub-task error tears the group down (an ungraceful close). It
// returns the first sub-task error errgroup reports, if any, appended via
// multierr to any error already recorded for this pipeline; errors from
// other tasks that fail concurrently are not collected.
func (p *Pipeline) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.readLoop(ctx) })
	g.Go(func() error { return p.writeLoop(ctx) })
	g.Go(func() error { return p.resendLoop(ctx) })
	g.Go(func() error { return p.ackLoop(ctx) })
	g.Go(func() error { return p.pingLoop(ctx) })

	go func() {
		select {
		case <-p.closed:
		case <-ctx.Done():
		}
		cancel()
	}()

	err := g.Wait()
	close(p.inbound)
	if err != nil {
		p.setCloseErr(err)
		p.log.Warnw("pipeline terminated with error", "error", err)
	}
	p.closeOnce.Do(func() { close(p.closed) })
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeErr
}

func (p *Pipeline) readLoop(ctx context.Context) error {
	for {
		buf, addr, err := p.transport.ReadFrom(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		p.peer.Addr = addr
		pkt, err := raknet.Decode(buf)
		if err != nil {
			p.log.Debugw("dropping malformed datagram", "error", err)
			continue
		}
		switch v := pkt.(type) {
		case raknet.AckPacket:
			p.inAck.HandleAck(v.AckOrNack)
		case raknet.NackPacket:
			var retry []raknet.Frame
			p.inAck.HandleNack(v.AckOrNack, &retry)
			if len(retry) > 0 {
				p.metrics.AddRetransmits(p.peer.ID, uint64(len(retry)))
				select {
				case p.retransmit <- retry:
				case <-ctx.Done():
					return nil
				}
			}
		case *raknet.FrameSet:
			duplicate := p.outAck.Observe(v.SeqNum)
			p.metrics.AddFramesReceived(p.peer.ID, uint64(len(v.Frames)), uint64(len(buf)))
			if duplicate {
				// Already delivered on first arrival; still acked by
				// outAck, but frames must not reach the user twice.
				p.metrics.AddDuplicatesDropped(p.peer.ID, uint64(len(v.Frames)))
				p.log.Debugw("dropping duplicate frame set", "seq_num", v.SeqNum)
				continue
			}
			for _, f := range v.Frames {
				p.handleFrame(ctx, f)
			}
		case *raknet.DisconnectNotification:
			p.closeOnce.Do(func() { close(p.closed) })
			return nil
		default:
			p.log.Debugw("ignoring unexpected connected packet type")
		}
	}
}

func (p *Pipeline) handleFrame(ctx context.Context, f raknet.Frame) {
	if f.Flags.Fragmented() {
		whole, ok := p.reassembler.Add(f)
		if !ok {
			return
		}
		f = whole
	}
	if f.Reliability().HasOrderedIndex() {
		for _, released := range p.ordered.Receive(f) {
			p.deliver(ctx, released.Body)
		}
		return
	}
	p.deliver(ctx, f.Body)
}

func (p *Pipeline) deliver(ctx context.Context, body []byte) {
	select {
	case p.inbound <- body:
	case <-ctx.Done():
	}
}

func (p *Pipeline) writeLoop(ctx context.Context) error {
	mtu := int(p.peer.MTU)
	if mtu <= 0 {
		mtu = 1024
	}
	var pending []raknet.Frame
	for {
		select {
		case retry := <-p.retransmit:
			pending = append(retry, pending...)
		default:
		}

		if len(pending) == 0 {
			select {
			case msg := <-p.outbound:
				pending = append(pending, p.framesFor(msg, mtu)...)
			case retry := <-p.retransmit:
				pending = append(pending, retry...)
			case <-ctx.Done():
				return nil
			}
		}

		set, rest := packFrameSet(pending, mtu)
		pending = rest
		if len(set.Frames) == 0 {
			continue
		}
		set.SeqNum = p.outSeqNum
		p.outSeqNum = p.outSeqNum.Next()
		p.resendMap.Record(set.SeqNum, set.Frames)

		buf, err := raknet.Encode(set)
		if err != nil {
			p.log.Warnw("failed to encode frame set", "error", err)
			continue
		}
		if err := p.transport.WriteTo(ctx, buf, p.peer.Addr); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		p.metrics.AddFramesSent(p.peer.ID, uint64(len(set.Frames)), uint64(len(buf)))
		p.metrics.SetResendQueueLen(p.peer.ID, p.resendMap.Len())
	}
}

func (p *Pipeline) framesFor(msg outboundMessage, mtu int) []raknet.Frame {
	maxBody := mtu - frameOverhead
	if maxBody <= 0 {
		maxBody = 1
	}
	if len(msg.body) <= maxBody {
		return []raknet.Frame{p.singleFrame(msg, msg.body, raknet.Fragment{})}
	}

	partedID := uint16(p.reliableCounter)
	total := (len(msg.body) + maxBody - 1) / maxBody
	frames := make([]raknet.Frame, 0, total)
	seqIdx, ordIdx := p.seqCounters[msg.channel], p.orderedCounters[msg.channel]
	for i := 0; i < total; i++ {
		start := i * maxBody
		end := start + maxBody
		if end > len(msg.body) {
			end = len(msg.body)
		}
		// Every fragment of one message shares its sequenced/ordered index.
		p.seqCounters[msg.channel], p.orderedCounters[msg.channel] = seqIdx, ordIdx
		frames = append(frames, p.singleFrame(msg, msg.body[start:end], raknet.Fragment{
			PartedSize:  uint32(total),
			PartedID:    partedID,
			PartedIndex: uint32(i),
		}))
	}
	return frames
}

func (p *Pipeline) singleFrame(msg outboundMessage, body []byte, frag raknet.Fragment) raknet.Frame {
	f := raknet.Frame{
		Flags:        raknet.NewFlags(msg.reliability, frag.PartedSize > 0),
		FragmentInfo: frag,
		Body:         body,
	}
	if msg.reliability.IsReliable() {
		f.ReliableFrameIndex = p.reliableCounter
		p.reliableCounter = p.reliableCounter.Next()
	}
	if msg.reliability.HasSequencedIndex() {
		f.SeqFrameIndex = p.seqCounters[msg.channel]
		p.seqCounters[msg.channel] = p.seqCounters[msg.channel].Next()
	}
	if msg.reliability.HasOrderedIndex() {
		f.Ordered = raknet.Ordered{OrderedFrameIndex: p.orderedCounters[msg.channel], Channel: msg.channel}
		p.orderedCounters[msg.channel] = p.orderedCounters[msg.channel].Next()
	}
	return f
}

// packFrameSet greedily packs frames into one FrameSet up to mtu bytes,
// returning the set and the frames left over for the next round.
func packFrameSet(frames []raknet.Frame, mtu int) (raknet.FrameSet, []raknet.Frame) {
	var set raknet.FrameSet
	size := 1 + 3 // packet id + seq_num
	i := 0
	for ; i < len(frames); i++ {
		fsize := frames[i].Size()
		if i > 0 && size+fsize > mtu {
			break
		}
		set.Frames = append(set.Frames, frames[i])
		size += fsize
	}
	return set, frames[i:]
}

func (p *Pipeline) resendLoop(ctx context.Context) error {
	for {
		ready := p.resendMap.PollWait(func() {
			select {
			case p.wake <- struct{}{}:
			default:
			}
		})
		if !ready {
			select {
			case <-p.wake:
			case <-ctx.Done():
				return nil
			}
		}
		var stale []raknet.Frame
		p.resendMap.ProcessStales(&stale)
		if len(stale) > 0 {
			p.metrics.AddRetransmits(p.peer.ID, uint64(len(stale)))
			select {
			case p.retransmit <- stale:
			case <-ctx.Done():
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return nil
		default:
		}
	}
}

func (p *Pipeline) ackLoop(ctx context.Context) error {
	mtu := int(p.peer.MTU)
	if mtu <= 0 {
		mtu = 1024
	}
	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if ack, ok := p.outAck.FlushAck(); ok {
				for _, recs := range raknet.ChunkForMTU(ack.Records, mtu) {
					buf, err := raknet.Encode(raknet.AckPacket{AckOrNack: raknet.AckOrNack{Records: recs}})
					if err == nil {
						if err := p.transport.WriteTo(ctx, buf, p.peer.Addr); err != nil && ctx.Err() == nil {
							return err
						}
					}
				}
			}
			if nack, ok := p.outAck.FlushNack(); ok {
				for _, recs := range raknet.ChunkForMTU(nack.Records, mtu) {
					buf, err := raknet.Encode(raknet.NackPacket{AckOrNack: raknet.AckOrNack{Records: recs}})
					if err == nil {
						if err := p.transport.WriteTo(ctx, buf, p.peer.Addr); err != nil && ctx.Err() == nil {
							return err
						}
					}
				}
			}
		}
	}
}

func (p *Pipeline) pingLoop(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			buf, err := raknet.Encode(raknet.ConnectedPing{SendTimestamp: uint64(time.Now().UnixMilli())})
			if err != nil {
				continue
			}
			if err := p.transport.WriteTo(ctx, buf, p.peer.Addr); err != nil && ctx.Err() == nil {
				return err
			}
		}
	}
}
