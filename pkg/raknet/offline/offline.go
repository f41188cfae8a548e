// Package offline implements the offline handshake state machine from
// SPEC_FULL.md §4.2: UnconnectedPing/Pong, the two OpenConnectionRequest/
// Reply exchanges, and the pending/connected bookkeeping that guards them.
//
// Grounded on original_source/src/server/offline.rs (see the retrieval
// pack), with the self-referencing future the Rust version needed for its
// Stream/Sink split (see Config/OfflineHandler and the `sending` field
// there) replaced by a direct call/response shape: SPEC_FULL.md §9 notes
// Go has no equivalent borrow-checker constraint, so Handle simply returns
// the packet to send, if any.
package offline

import (
	"container/list"
	"net"
	"sort"
	"time"

	"github.com/rs/xid"
	"go.uber.org/zap"

	"github.com/rn-go/raknet/pkg/raknet"
)

// Config bounds one Handler's behavior; it is immutable after New.
type Config struct {
	ServerGUID        uint64
	Advertisement     []byte
	MinMTU            uint16
	MaxMTU            uint16
	SupportedVersions []uint8 // must be sorted ascending
	MaxPending        int
	PendingTTL        time.Duration
}

type pendingEntry struct {
	addr     string
	protocol uint8
	expires  time.Time
}

// lruPending is a tiny fixed-capacity LRU keyed by address string; no
// suitable third-party LRU cache was found anywhere in the retrieval pack,
// so this is a direct container/list + map implementation.
type lruPending struct {
	cap   int
	ttl   time.Duration
	order *list.List
	index map[string]*list.Element
	now   func() time.Time
}

func newLRUPending(capacity int, ttl time.Duration) *lruPending {
	return &lruPending{
		cap:   capacity,
		ttl:   ttl,
		order: list.New(),
		index: make(map[string]*list.Element),
		now:   time.Now,
	}
}

func (l *lruPending) put(addr string, protocol uint8) (existed bool) {
	if el, ok := l.index[addr]; ok {
		l.order.MoveToFront(el)
		el.Value.(*pendingEntry).protocol = protocol
		el.Value.(*pendingEntry).expires = l.now().Add(l.ttl)
		return true
	}
	el := l.order.PushFront(&pendingEntry{addr: addr, protocol: protocol, expires: l.now().Add(l.ttl)})
	l.index[addr] = el
	for l.order.Len() > l.cap {
		oldest := l.order.Back()
		l.order.Remove(oldest)
		delete(l.index, oldest.Value.(*pendingEntry).addr)
	}
	return false
}

func (l *lruPending) pop(addr string) (uint8, bool) {
	el, ok := l.index[addr]
	if !ok {
		return 0, false
	}
	e := el.Value.(*pendingEntry)
	l.order.Remove(el)
	delete(l.index, addr)
	if l.now().After(e.expires) {
		return 0, false
	}
	return e.protocol, true
}

// Handler runs the server-side offline handshake: Fresh peers exchange
// UnconnectedPing/Pong and OpenConnectionRequest1/Reply1 freely; a peer
// moves to Pending once Reply1 is sent, and to Connected once Reply2 is
// sent. Handler is not safe for concurrent use; callers serialize access
// per listening socket.
type Handler struct {
	cfg       Config
	pending   *lruPending
	connected map[string]raknet.Peer
	log       *zap.SugaredLogger
}

// New creates a Handler from cfg. SupportedVersions must already be sorted
// ascending.
func New(cfg Config, log *zap.SugaredLogger) *Handler {
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = 4096
	}
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Handler{
		cfg:       cfg,
		pending:   newLRUPending(cfg.MaxPending, cfg.PendingTTL),
		connected: make(map[string]raknet.Peer),
		log:       log,
	}
}

// Disconnect forgets addr, whether it was pending or connected.
func (h *Handler) Disconnect(addr *net.UDPAddr) {
	key := addr.String()
	h.pending.pop(key)
	delete(h.connected, key)
}

// Connected reports the Peer for addr if its handshake has completed.
func (h *Handler) Connected(addr *net.UDPAddr) (raknet.Peer, bool) {
	p, ok := h.connected[addr.String()]
	return p, ok
}

// Handle processes one unconnected packet from addr and returns the
// unconnected packet to send back, if any. For OpenConnectionRequest2 it
// also returns the newly connected Peer.
func (h *Handler) Handle(pkt any, addr *net.UDPAddr) (resp any, peer *raknet.Peer) {
	switch p := pkt.(type) {
	case *raknet.UnconnectedPing:
		return &raknet.UnconnectedPong{
			SendTimestamp: p.SendTimestamp,
			ServerGUID:    h.cfg.ServerGUID,
			Data:          h.cfg.Advertisement,
		}, nil

	case *raknet.OpenConnectionRequest1:
		if !h.supportsVersion(p.ProtocolVersion) {
			return h.incompatibleProtocol(), nil
		}
		if existed := h.pending.put(addr.String(), p.ProtocolVersion); existed {
			h.log.Debugw("duplicate open connection request 1", "addr", addr)
		}
		finalMTU := clampMTU(p.MTU, h.cfg.MinMTU, h.cfg.MaxMTU)
		return &raknet.OpenConnectionReply1{
			ServerGUID:    h.cfg.ServerGUID,
			UseEncryption: false,
			MTU:           finalMTU,
		}, nil

	case *raknet.OpenConnectionRequest2:
		if _, ok := h.pending.pop(addr.String()); !ok {
			h.log.Debugw("open connection request 2 without a pending request 1", "addr", addr)
			return h.incompatibleProtocol(), nil
		}
		if p.MTU < h.cfg.MinMTU || p.MTU > h.cfg.MaxMTU {
			return h.alreadyConnected(), nil
		}
		if _, ok := h.connected[addr.String()]; ok {
			return h.alreadyConnected(), nil
		}
		newPeer := raknet.Peer{ID: raknet.PeerID(xid.New().String()), Addr: addr, MTU: p.MTU}
		h.connected[addr.String()] = newPeer
		return &raknet.OpenConnectionReply2{
			ServerGUID:        h.cfg.ServerGUID,
			ClientAddress:     addr,
			MTU:               p.MTU,
			EncryptionEnabled: false,
		}, &newPeer

	default:
		h.log.Warnw("unexpected packet during offline handshake", "addr", addr)
		return nil, nil
	}
}

// HandleConnectedFromUnknownPeer builds the rejection sent when a Connected
// (framed) packet arrives from an address with no completed handshake.
func (h *Handler) HandleConnectedFromUnknownPeer(addr *net.UDPAddr) any {
	h.log.Debugw("ignoring connected packet from unconnected client", "addr", addr)
	return &raknet.ConnectionRequestFailed{ServerGUID: h.cfg.ServerGUID}
}

func (h *Handler) supportsVersion(v uint8) bool {
	i := sort.Search(len(h.cfg.SupportedVersions), func(i int) bool { return h.cfg.SupportedVersions[i] >= v })
	return i < len(h.cfg.SupportedVersions) && h.cfg.SupportedVersions[i] == v
}

func (h *Handler) incompatibleProtocol() *raknet.IncompatibleProtocol {
	var latest uint8
	if n := len(h.cfg.SupportedVersions); n > 0 {
		latest = h.cfg.SupportedVersions[n-1]
	}
	return &raknet.IncompatibleProtocol{ServerProtocol: latest, ServerGUID: h.cfg.ServerGUID}
}

func (h *Handler) alreadyConnected() *raknet.AlreadyConnected {
	return &raknet.AlreadyConnected{ServerGUID: h.cfg.ServerGUID}
}

func clampMTU(requested, min, max uint16) uint16 {
	if requested < min {
		return min
	}
	if requested > max {
		return max
	}
	return requested
}
