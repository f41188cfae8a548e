// Package ordered implements the per-channel reorder buffers from
// SPEC_FULL.md §4.7: 32 independent channels, each releasing ordered
// frames gap-free and in order, and deduping sequenced frames against a
// monotone high-water mark.
package ordered

import (
	"go.uber.org/zap"

	"github.com/rn-go/raknet/pkg/raknet"
)

// DefaultWindow bounds each channel's reorder buffer; insertion beyond the
// bound drops the furthest-ahead buffered frame, since it cannot be
// released without its still-missing predecessors.
const DefaultWindow = 1024

type channelState struct {
	expected         raknet.U24
	buffer           map[raknet.U24]raknet.Frame
	highestSequenced raknet.U24
	haveSequenced    bool
}

// Channels holds the 32 independent per-channel reorder buffers for one
// peer.
type Channels struct {
	window   int
	channels [raknet.MaxChannels]*channelState
	log      *zap.SugaredLogger
}

// New creates a Channels set with the given per-channel reorder window (0
// selects DefaultWindow).
func New(window int, log *zap.SugaredLogger) *Channels {
	if window <= 0 {
		window = DefaultWindow
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Channels{window: window, log: log}
}

func (c *Channels) channel(ch uint8) *channelState {
	if c.channels[ch] == nil {
		c.channels[ch] = &channelState{buffer: make(map[raknet.U24]raknet.Frame)}
	}
	return c.channels[ch]
}

// Receive ingests one ordered or sequenced frame (Reliability().HasOrderedIndex()
// must be true) and returns the frames it releases, in delivery order.
// A nil/empty result means the frame was discarded (duplicate, dedup) or
// buffered pending its predecessors.
func (c *Channels) Receive(f raknet.Frame) []raknet.Frame {
	ch := f.Ordered.Channel
	if int(ch) >= raknet.MaxChannels {
		c.log.Debugw("discarding frame on out-of-range channel", "channel", ch)
		return nil
	}
	cs := c.channel(ch)
	r := f.Reliability()

	if r.HasSequencedIndex() {
		if cs.haveSequenced && !cs.highestSequenced.LessThanSequence(f.SeqFrameIndex) {
			c.log.Debugw("dropping stale sequenced frame", "channel", ch, "seq_frame_index", f.SeqFrameIndex)
			return nil
		}
		cs.highestSequenced = f.SeqFrameIndex
		cs.haveSequenced = true
		return []raknet.Frame{f}
	}

	if f.Ordered.OrderedFrameIndex != cs.expected && f.Ordered.OrderedFrameIndex.LessThanSequence(cs.expected) {
		c.log.Debugw("discarding duplicate ordered frame", "channel", ch, "ordered_frame_index", f.Ordered.OrderedFrameIndex)
		return nil
	}

	if f.Ordered.OrderedFrameIndex != cs.expected {
		c.bufferFrame(cs, ch, f)
		return nil
	}

	released := []raknet.Frame{f}
	cs.expected = cs.expected.Next()
	for {
		next, ok := cs.buffer[cs.expected]
		if !ok {
			break
		}
		delete(cs.buffer, cs.expected)
		released = append(released, next)
		cs.expected = cs.expected.Next()
	}
	return released
}

func (c *Channels) bufferFrame(cs *channelState, ch uint8, f raknet.Frame) {
	cs.buffer[f.Ordered.OrderedFrameIndex] = f
	if len(cs.buffer) <= c.window {
		return
	}
	var furthest raknet.U24
	dist := uint32(0)
	first := true
	for idx := range cs.buffer {
		d := cs.expected.Distance(idx)
		if first || d > dist {
			dist = d
			furthest = idx
			first = false
		}
	}
	delete(cs.buffer, furthest)
	c.log.Warnw("reorder buffer full, dropping furthest-ahead frame", "channel", ch, "dropped_index", furthest)
}
