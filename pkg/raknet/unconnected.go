package raknet

import "net"

// UnconnectedPing is sent by a client probing for servers, or as a
// keepalive before a session exists.
type UnconnectedPing struct {
	SendTimestamp uint64
	ClientGUID    uint64
}

// UnconnectedPong answers UnconnectedPing, echoing the timestamp and
// carrying the server's advertisement payload.
type UnconnectedPong struct {
	SendTimestamp uint64
	ServerGUID    uint64
	Data          []byte
}

// OpenConnectionRequest1 begins the handshake, proposing a protocol version
// and an MTU to probe path MTU.
type OpenConnectionRequest1 struct {
	ProtocolVersion byte
	MTU             uint16
}

// OpenConnectionReply1 answers Request1 with the server's clamped MTU.
type OpenConnectionReply1 struct {
	ServerGUID    uint64
	UseEncryption bool
	MTU           uint16
}

// OpenConnectionRequest2 confirms the negotiated MTU and asks the server to
// commit to a session.
type OpenConnectionRequest2 struct {
	ServerAddress *net.UDPAddr
	MTU           uint16
	ClientGUID    uint64
}

// OpenConnectionReply2 confirms the session is open.
type OpenConnectionReply2 struct {
	ServerGUID        uint64
	ClientAddress     *net.UDPAddr
	MTU               uint16
	EncryptionEnabled bool
}

// IncompatibleProtocol rejects a handshake whose protocol version the
// server does not support, offering the highest version it does.
type IncompatibleProtocol struct {
	ServerProtocol byte
	ServerGUID     uint64
}

// AlreadyConnected rejects a Request2 for an address that is already
// connected, or whose MTU falls outside the server's bounds.
type AlreadyConnected struct {
	ServerGUID uint64
}

// ConnectionRequestFailed is sent for connected-family packets received
// from an address with no established session.
type ConnectionRequestFailed struct {
	ServerGUID uint64
}

// NewIncomingConnection is sent by the client immediately after the
// session is established, confirming the server's observed address.
type NewIncomingConnection struct {
	ServerAddress *net.UDPAddr
}

// DisconnectNotification requests or acknowledges a graceful close.
type DisconnectNotification struct{}

// ConnectedPing is the in-session keepalive probe.
type ConnectedPing struct {
	SendTimestamp uint64
}

// ConnectedPong answers ConnectedPing, echoing the probe timestamp and
// adding the responder's own, letting either side estimate RTT.
type ConnectedPong struct {
	SendTimestamp uint64
	SendTimestampEcho uint64
}
