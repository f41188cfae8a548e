package offline

import (
	"net"
	"testing"

	"github.com/rn-go/raknet/pkg/raknet"
)

func testAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(0, 0, 0, 0), Port: 0}
}

func newTestHandler() *Handler {
	return New(Config{
		ServerGUID:        1919810,
		Advertisement:     []byte("hello"),
		MinMTU:            800,
		MaxMTU:            1400,
		SupportedVersions: []uint8{8, 11, 12},
		MaxPending:        10,
	}, nil)
}

func TestOfflineHandshakeWorks(t *testing.T) {
	h := newTestHandler()
	addr := testAddr()

	resp, peer := h.Handle(&raknet.UnconnectedPing{SendTimestamp: 0, ClientGUID: 114514}, addr)
	pong, ok := resp.(*raknet.UnconnectedPong)
	if !ok {
		t.Fatalf("got %T, want *UnconnectedPong", resp)
	}
	if pong.ServerGUID != 1919810 || string(pong.Data) != "hello" {
		t.Fatalf("unexpected pong: %+v", pong)
	}
	if peer != nil {
		t.Fatal("ping must not produce a peer")
	}

	resp, peer = h.Handle(&raknet.OpenConnectionRequest1{ProtocolVersion: 11, MTU: 1000}, addr)
	reply1, ok := resp.(*raknet.OpenConnectionReply1)
	if !ok {
		t.Fatalf("got %T, want *OpenConnectionReply1", resp)
	}
	if reply1.MTU != 1000 {
		t.Fatalf("got mtu %d, want 1000", reply1.MTU)
	}
	if peer != nil {
		t.Fatal("request1 must not produce a peer")
	}

	resp, peer = h.Handle(&raknet.OpenConnectionRequest2{
		ServerAddress: &net.UDPAddr{IP: net.IPv4(0, 0, 0, 1), Port: 1},
		MTU:           1000,
		ClientGUID:    114514,
	}, addr)
	reply2, ok := resp.(*raknet.OpenConnectionReply2)
	if !ok {
		t.Fatalf("got %T, want *OpenConnectionReply2", resp)
	}
	if reply2.MTU != 1000 {
		t.Fatalf("got mtu %d, want 1000", reply2.MTU)
	}
	if peer == nil {
		t.Fatal("request2 must produce a connected peer")
	}
	if peer.MTU != 1000 {
		t.Fatalf("peer mtu = %d, want 1000", peer.MTU)
	}

	if _, ok := h.Connected(addr); !ok {
		t.Fatal("expected addr to be tracked as connected")
	}
}

func TestIncompatibleProtocolVersion(t *testing.T) {
	h := newTestHandler()
	resp, _ := h.Handle(&raknet.OpenConnectionRequest1{ProtocolVersion: 7, MTU: 1000}, testAddr())
	incompat, ok := resp.(*raknet.IncompatibleProtocol)
	if !ok {
		t.Fatalf("got %T, want *IncompatibleProtocol", resp)
	}
	if incompat.ServerProtocol != 12 {
		t.Fatalf("got server_protocol %d, want 12 (max of supported)", incompat.ServerProtocol)
	}
}

func TestRequest2WithoutRequest1IsRejected(t *testing.T) {
	h := newTestHandler()
	addr := testAddr()
	resp, peer := h.Handle(&raknet.OpenConnectionRequest2{ServerAddress: addr, MTU: 1000}, addr)
	if _, ok := resp.(*raknet.IncompatibleProtocol); !ok {
		t.Fatalf("got %T, want *IncompatibleProtocol", resp)
	}
	if peer != nil {
		t.Fatal("rejected request2 must not produce a peer")
	}
}

func TestMTUIsClampedToServerBounds(t *testing.T) {
	h := newTestHandler()
	addr := testAddr()
	resp, _ := h.Handle(&raknet.OpenConnectionRequest1{ProtocolVersion: 11, MTU: 200}, addr)
	reply1 := resp.(*raknet.OpenConnectionReply1)
	if reply1.MTU != 800 {
		t.Fatalf("got mtu %d, want clamped to min 800", reply1.MTU)
	}
}

func TestDisconnectForgetsPeer(t *testing.T) {
	h := newTestHandler()
	addr := testAddr()
	h.Handle(&raknet.OpenConnectionRequest1{ProtocolVersion: 11, MTU: 1000}, addr)
	h.Handle(&raknet.OpenConnectionRequest2{ServerAddress: addr, MTU: 1000}, addr)
	h.Disconnect(addr)
	if _, ok := h.Connected(addr); ok {
		t.Fatal("expected peer forgotten after Disconnect")
	}
}
