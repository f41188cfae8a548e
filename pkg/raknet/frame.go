package raknet

// Fragment carries split-packet metadata for a fragmented frame.
type Fragment struct {
	PartedSize  uint32
	PartedID    uint16
	PartedIndex uint32
}

// Ordered carries the per-channel ordering index of an ordered frame.
type Ordered struct {
	OrderedFrameIndex U24
	Channel           uint8
}

// Frame is one reliable-protocol unit inside a FrameSet. Which of
// ReliableFrameIndex, SeqFrameIndex, and Ordered are populated is dictated
// exactly by Flags.Reliability(); FragmentInfo is populated iff
// Flags.Fragmented().
type Frame struct {
	Flags             Flags
	ReliableFrameIndex U24
	SeqFrameIndex      U24
	Ordered            Ordered
	FragmentInfo       Fragment
	Body               []byte
}

// Reliability is a convenience accessor over Flags.
func (f *Frame) Reliability() Reliability {
	return f.Flags.Reliability()
}

// Size returns the encoded size in bytes of this frame, matching the
// layout produced by encodeFrame.
func (f *Frame) Size() int {
	size := 1 + 2 // flags byte + body-bit-length
	r := f.Reliability()
	if r.HasReliableIndex() {
		size += 3
	}
	if r.HasSequencedIndex() {
		size += 3
	}
	if r.HasOrderedIndex() {
		size += 4
	}
	if f.Flags.Fragmented() {
		size += 10
	}
	size += len(f.Body)
	return size
}

// FrameSet is a batch of frames sharing one outer sequence number; it is
// the unit of ACK/NACK.
type FrameSet struct {
	SeqNum U24
	Frames []Frame
}

// Size returns the encoded size in bytes of the frame set.
func (fs *FrameSet) Size() int {
	total := 1 + 3 // packet id + seq num
	for i := range fs.Frames {
		total += fs.Frames[i].Size()
	}
	return total
}
