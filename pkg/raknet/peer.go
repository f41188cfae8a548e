package raknet

import "net"

// PeerID is an opaque, process-unique identifier assigned to a Peer once
// the offline handshake completes. It is the timer reactor's key, a
// metrics/log correlation id, and the value returned by LastTraceID.
type PeerID string

// Peer is the remote counterpart of a connected session: an address paired
// with the MTU negotiated during the handshake. It is created at the end
// of the offline handshake and destroyed on disconnect.
type Peer struct {
	ID   PeerID
	Addr *net.UDPAddr
	MTU  uint16
}
