package raknet

import (
	"bytes"
	"net"
	"testing"
)

func TestFrameSetRoundTrip(t *testing.T) {
	fs := &FrameSet{
		SeqNum: NewU24(7),
		Frames: []Frame{
			{
				Flags: NewFlags(Reliable, false),
				ReliableFrameIndex: NewU24(42),
				Body: []byte("hello"),
			},
			{
				Flags:   NewFlags(ReliableOrdered, false),
				ReliableFrameIndex: NewU24(43),
				Ordered: Ordered{OrderedFrameIndex: NewU24(1), Channel: 3},
				Body:    []byte("world"),
			},
		},
	}
	buf := EncodeFrameSet(fs)
	got, err := DecodeFrameSet(buf)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if got.SeqNum != fs.SeqNum {
		t.Fatalf("seq num mismatch: got %d want %d", got.SeqNum, fs.SeqNum)
	}
	if len(got.Frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(got.Frames))
	}
	for i, f := range fs.Frames {
		if !bytes.Equal(got.Frames[i].Body, f.Body) {
			t.Errorf("frame %d body mismatch: got %q want %q", i, got.Frames[i].Body, f.Body)
		}
		if got.Frames[i].Flags != f.Flags {
			t.Errorf("frame %d flags mismatch", i)
		}
	}
	if got.Frames[1].Ordered != fs.Frames[1].Ordered {
		t.Errorf("ordered fields mismatch: got %+v want %+v", got.Frames[1].Ordered, fs.Frames[1].Ordered)
	}
}

func TestAckOrNackRoundTrip(t *testing.T) {
	a := CoalesceSeqNums([]U24{1, 2, 3, 9})
	buf, err := Encode(AckPacket{AckOrNack: a})
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	decoded, err := Decode(buf)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	got, ok := decoded.(AckPacket)
	if !ok {
		t.Fatalf("decoded to %T, want AckPacket", decoded)
	}
	if len(got.Records) != len(a.Records) {
		t.Fatalf("got %d records, want %d", len(got.Records), len(a.Records))
	}
}

func TestUnconnectedPingPongRoundTrip(t *testing.T) {
	ping := &UnconnectedPing{SendTimestamp: 12345, ClientGUID: 114514}
	buf, err := Encode(ping)
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	decoded, err := Decode(buf)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	got, ok := decoded.(*UnconnectedPing)
	if !ok {
		t.Fatalf("decoded to %T, want *UnconnectedPing", decoded)
	}
	if got.SendTimestamp != ping.SendTimestamp || got.ClientGUID != ping.ClientGUID {
		t.Fatalf("got %+v, want %+v", got, ping)
	}
}

func TestOpenConnectionRequest2RoundTrip(t *testing.T) {
	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 7777}
	req := &OpenConnectionRequest2{ServerAddress: addr, MTU: 1000, ClientGUID: 999}
	buf, err := Encode(req)
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	decoded, err := Decode(buf)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	got, ok := decoded.(*OpenConnectionRequest2)
	if !ok {
		t.Fatalf("decoded to %T, want *OpenConnectionRequest2", decoded)
	}
	if got.MTU != req.MTU || got.ClientGUID != req.ClientGUID {
		t.Fatalf("got %+v, want %+v", got, req)
	}
	if !got.ServerAddress.IP.Equal(addr.IP) || got.ServerAddress.Port != addr.Port {
		t.Fatalf("address mismatch: got %v, want %v", got.ServerAddress, addr)
	}
}

func TestDecodeEmptyDatagramFails(t *testing.T) {
	if _, err := Decode(nil); err == nil {
		t.Fatal("expected error decoding empty datagram")
	}
}
