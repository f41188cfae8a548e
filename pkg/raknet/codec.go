package raknet

import (
	"encoding/binary"
	"reflect"
)

// AckPacket wraps an AckOrNack decoded from an ID_ACK datagram.
type AckPacket struct{ AckOrNack }

// NackPacket wraps an AckOrNack decoded from an ID_NACK datagram.
type NackPacket struct{ AckOrNack }

// Decode parses one datagram's worth of bytes into a concrete packet value:
// *FrameSet, AckPacket, NackPacket, or a pointer to one of the unconnected
// packet structs in unconnected.go. It never mutates buf.
func Decode(buf []byte) (any, error) {
	if len(buf) == 0 {
		return nil, errInvalidPacketLength("empty datagram")
	}
	id := buf[0]
	class := classifyPackID(id)
	switch {
	case class.IsFrameSet():
		return DecodeFrameSet(buf)
	case class.IsAck():
		a, err := decodeAckOrNack(buf[1:])
		if err != nil {
			return nil, err
		}
		return AckPacket{a}, nil
	case class.IsNack():
		a, err := decodeAckOrNack(buf[1:])
		if err != nil {
			return nil, err
		}
		return NackPacket{a}, nil
	}
	return decodeUnconnected(PackID(id), buf[1:])
}

// Encode serializes pkt (the same types Decode can produce, plus bare
// values of the unconnected structs) into a new byte slice.
func Encode(pkt any) ([]byte, error) {
	switch p := pkt.(type) {
	case *FrameSet:
		return EncodeFrameSet(p), nil
	case FrameSet:
		return EncodeFrameSet(&p), nil
	case AckPacket:
		return EncodeAckOrNack(byte(ackFlag), p.AckOrNack), nil
	case NackPacket:
		return EncodeAckOrNack(byte(nackFlag), p.AckOrNack), nil
	default:
		if v := reflect.ValueOf(pkt); v.IsValid() && v.Kind() == reflect.Struct {
			ptr := reflect.New(v.Type())
			ptr.Elem().Set(v)
			pkt = ptr.Interface()
		}
		return encodeUnconnected(pkt)
	}
}

// ---- FrameSet ----

// EncodeFrameSet serializes fs, including the leading 0x80 packet id.
func EncodeFrameSet(fs *FrameSet) []byte {
	buf := make([]byte, 0, fs.Size())
	buf = append(buf, byte(validFlag))
	u24buf := [3]byte{}
	PutU24LE(u24buf[:], fs.SeqNum)
	buf = append(buf, u24buf[:]...)
	for i := range fs.Frames {
		buf = encodeFrame(buf, &fs.Frames[i])
	}
	return buf
}

func encodeFrame(dst []byte, f *Frame) []byte {
	dst = append(dst, byte(f.Flags))
	lengthBits := uint16(len(f.Body)) * 8
	dst = appendU16BE(dst, lengthBits)
	r := f.Reliability()
	var u24buf [3]byte
	if r.HasReliableIndex() {
		PutU24LE(u24buf[:], f.ReliableFrameIndex)
		dst = append(dst, u24buf[:]...)
	}
	if r.HasSequencedIndex() {
		PutU24LE(u24buf[:], f.SeqFrameIndex)
		dst = append(dst, u24buf[:]...)
	}
	if r.HasOrderedIndex() {
		PutU24LE(u24buf[:], f.Ordered.OrderedFrameIndex)
		dst = append(dst, u24buf[:]...)
		dst = append(dst, f.Ordered.Channel)
	}
	if f.Flags.Fragmented() {
		var b4 [4]byte
		binary.BigEndian.PutUint32(b4[:], f.FragmentInfo.PartedSize)
		dst = append(dst, b4[:]...)
		var b2 [2]byte
		binary.BigEndian.PutUint16(b2[:], f.FragmentInfo.PartedID)
		dst = append(dst, b2[:]...)
		binary.BigEndian.PutUint32(b4[:], f.FragmentInfo.PartedIndex)
		dst = append(dst, b4[:]...)
	}
	dst = append(dst, f.Body...)
	return dst
}

// DecodeFrameSet parses buf (including the leading packet-id byte) into a
// FrameSet.
func DecodeFrameSet(buf []byte) (*FrameSet, error) {
	if len(buf) < 4 {
		return nil, errInvalidPacketLength("frame set header")
	}
	fs := &FrameSet{SeqNum: GetU24LE(buf[1:4])}
	off := 4
	for off < len(buf) {
		f, n, err := decodeFrame(buf[off:])
		if err != nil {
			return nil, err
		}
		fs.Frames = append(fs.Frames, f)
		off += n
	}
	return fs, nil
}

func decodeFrame(src []byte) (Frame, int, error) {
	if len(src) < 3 {
		return Frame{}, 0, errInvalidPacketLength("frame header")
	}
	f := Frame{Flags: Flags(src[0])}
	lengthBits := binary.BigEndian.Uint16(src[1:3])
	off := 3
	r := f.Reliability()
	if r.HasReliableIndex() {
		if len(src) < off+3 {
			return Frame{}, 0, errInvalidPacketLength("reliable index")
		}
		f.ReliableFrameIndex = GetU24LE(src[off:])
		off += 3
	}
	if r.HasSequencedIndex() {
		if len(src) < off+3 {
			return Frame{}, 0, errInvalidPacketLength("sequenced index")
		}
		f.SeqFrameIndex = GetU24LE(src[off:])
		off += 3
	}
	if r.HasOrderedIndex() {
		if len(src) < off+4 {
			return Frame{}, 0, errInvalidPacketLength("ordered index")
		}
		f.Ordered.OrderedFrameIndex = GetU24LE(src[off:])
		f.Ordered.Channel = src[off+3]
		off += 4
	}
	if f.Flags.Fragmented() {
		if len(src) < off+10 {
			return Frame{}, 0, errInvalidPacketLength("fragment header")
		}
		f.FragmentInfo.PartedSize = binary.BigEndian.Uint32(src[off:])
		f.FragmentInfo.PartedID = binary.BigEndian.Uint16(src[off+4:])
		f.FragmentInfo.PartedIndex = binary.BigEndian.Uint32(src[off+6:])
		off += 10
	}
	bodyLen := int((lengthBits + 7) / 8)
	if len(src) < off+bodyLen {
		return Frame{}, 0, errInvalidPacketLength("frame body")
	}
	f.Body = make([]byte, bodyLen)
	copy(f.Body, src[off:off+bodyLen])
	off += bodyLen
	return f, off, nil
}

// ---- ACK / NACK ----

// EncodeAckOrNack serializes an ACK or NACK record list with the given
// leading packet id (0xC0 for ACK, 0xA0 for NACK).
func EncodeAckOrNack(id byte, a AckOrNack) []byte {
	buf := make([]byte, 0, 3+a.Len()*7)
	buf = append(buf, id)
	buf = appendU16BE(buf, uint16(len(a.Records)))
	var u24buf [3]byte
	for _, rec := range a.Records {
		if rec.Kind == RecordSingle {
			buf = append(buf, 1)
			PutU24LE(u24buf[:], rec.Start)
			buf = append(buf, u24buf[:]...)
		} else {
			buf = append(buf, 0)
			PutU24LE(u24buf[:], rec.Start)
			buf = append(buf, u24buf[:]...)
			PutU24LE(u24buf[:], rec.End)
			buf = append(buf, u24buf[:]...)
		}
	}
	return buf
}

func decodeAckOrNack(body []byte) (AckOrNack, error) {
	if len(body) < 2 {
		return AckOrNack{}, errInvalidPacketLength("ack record count")
	}
	count := binary.BigEndian.Uint16(body[0:2])
	off := 2
	var records []Record
	for i := 0; i < int(count); i++ {
		if len(body) < off+1 {
			return AckOrNack{}, errInvalidPacketLength("ack record flag")
		}
		single := body[off] != 0
		off++
		if single {
			if len(body) < off+3 {
				return AckOrNack{}, errInvalidPacketLength("ack single record")
			}
			records = append(records, Record{Kind: RecordSingle, Start: GetU24LE(body[off:])})
			off += 3
		} else {
			if len(body) < off+6 {
				return AckOrNack{}, errInvalidPacketLength("ack range record")
			}
			records = append(records, Record{
				Kind:  RecordRange,
				Start: GetU24LE(body[off:]),
				End:   GetU24LE(body[off+3:]),
			})
			off += 6
		}
	}
	return AckOrNack{Records: records}, nil
}
