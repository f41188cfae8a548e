package pipeline

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/rn-go/raknet/pkg/raknet"
	"github.com/rn-go/raknet/pkg/reactor"
)

// memTransport wires two Pipelines together over Go channels instead of a
// live UDP socket, so the engine's framing, ack bookkeeping and ordering can
// be exercised without touching the network.
type memTransport struct {
	local, remote *net.UDPAddr
	recv          chan []byte
	send          chan []byte
}

func newLinkedTransports(a, b *net.UDPAddr) (*memTransport, *memTransport) {
	ab := make(chan []byte, 64)
	ba := make(chan []byte, 64)
	return &memTransport{local: a, remote: b, recv: ba, send: ab},
		&memTransport{local: b, remote: a, recv: ab, send: ba}
}

func (m *memTransport) ReadFrom(ctx context.Context) ([]byte, *net.UDPAddr, error) {
	select {
	case b := <-m.recv:
		return b, m.remote, nil
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

func (m *memTransport) WriteTo(ctx context.Context, b []byte, _ *net.UDPAddr) error {
	cp := append([]byte(nil), b...)
	select {
	case m.send <- cp:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestPipelineRoundTripsReliableOrderedMessages(t *testing.T) {
	t.Cleanup(reactor.Shutdown)
	rct := reactor.Install()

	addrA := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1000}
	addrB := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 2000}
	tA, tB := newLinkedTransports(addrA, addrB)

	peerA := raknet.Peer{ID: "peer-a", Addr: addrB, MTU: 1200}
	peerB := raknet.Peer{ID: "peer-b", Addr: addrA, MTU: 1200}

	cfg := Config{FlushInterval: 5 * time.Millisecond, PingInterval: time.Hour}
	pA := New(peerA, tA, cfg, rct, nil)
	pB := New(peerB, tB, cfg, rct, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pA.Run(ctx)
	go pB.Run(ctx)

	if err := pA.Send([]byte("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := pA.Send([]byte("world")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	var got [][]byte
	timeout := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case body := <-pB.Inbound():
			got = append(got, body)
		case <-timeout:
			t.Fatalf("timed out waiting for delivery, got %d of 2 messages", len(got))
		}
	}
	if !bytes.Equal(got[0], []byte("hello")) || !bytes.Equal(got[1], []byte("world")) {
		t.Fatalf("got %q, want [hello world] in order", got)
	}
}

// injectTransport lets a test push raw datagrams directly into a Pipeline's
// readLoop and silently sink whatever it writes back (acks, pings), without
// a live peer on the other end.
type injectTransport struct {
	in chan []byte
}

func newInjectTransport() *injectTransport {
	return &injectTransport{in: make(chan []byte, 16)}
}

func (t *injectTransport) ReadFrom(ctx context.Context) ([]byte, *net.UDPAddr, error) {
	select {
	case b := <-t.in:
		return b, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9000}, nil
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

func (t *injectTransport) WriteTo(ctx context.Context, b []byte, addr *net.UDPAddr) error {
	return nil
}

func TestPipelineDropsDuplicateFrameSetDelivery(t *testing.T) {
	t.Cleanup(reactor.Shutdown)
	rct := reactor.Install()

	tr := newInjectTransport()
	peer := raknet.Peer{ID: "peer-dup", Addr: &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9000}, MTU: 1200}
	cfg := Config{FlushInterval: 5 * time.Millisecond, PingInterval: time.Hour}
	p := New(peer, tr, cfg, rct, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	// A single plain Reliable (non-ordered, non-sequenced) frame: neither
	// OrderedChannels nor the Reassembler dedupe this family, only the
	// FrameSet-level ack bookkeeping does.
	frame := raknet.Frame{
		Flags:              raknet.NewFlags(raknet.Reliable, false),
		ReliableFrameIndex: raknet.NewU24(0),
		Body:               []byte("only-once"),
	}
	set := raknet.EncodeFrameSet(&raknet.FrameSet{SeqNum: raknet.NewU24(0), Frames: []raknet.Frame{frame}})

	tr.in <- append([]byte(nil), set...)
	tr.in <- append([]byte(nil), set...) // same seq_num, retransmitted datagram

	select {
	case body := <-p.Inbound():
		if string(body) != "only-once" {
			t.Fatalf("got %q, want %q", body, "only-once")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the one expected delivery")
	}

	select {
	case body := <-p.Inbound():
		t.Fatalf("got a second delivery %q, want the duplicate dropped", body)
	case <-time.After(100 * time.Millisecond):
		// expected: no second delivery
	}
}

func TestPipelineCloseStopsDelivery(t *testing.T) {
	t.Cleanup(reactor.Shutdown)
	rct := reactor.Install()

	addrA := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1001}
	addrB := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 2001}
	tA, tB := newLinkedTransports(addrA, addrB)

	peerA := raknet.Peer{ID: "peer-a2", Addr: addrB, MTU: 1200}
	peerB := raknet.Peer{ID: "peer-b2", Addr: addrA, MTU: 1200}

	cfg := Config{FlushInterval: 5 * time.Millisecond, PingInterval: time.Hour}
	pA := New(peerA, tA, cfg, rct, nil)
	pB := New(peerB, tB, cfg, rct, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pA.Run(ctx)
	go pB.Run(ctx)

	if err := pA.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := pA.Send([]byte("too late")); err != raknet.ErrPeerClosed {
		t.Fatalf("got err %v, want ErrPeerClosed", err)
	}
}
