package raknet

import "encoding/binary"

func encodeUnconnected(pkt any) ([]byte, error) {
	switch p := pkt.(type) {
	case *UnconnectedPing:
		buf := []byte{byte(PackUnconnectedPing1)}
		buf = appendU64BE(buf, p.SendTimestamp)
		buf = putMagic(buf)
		buf = appendU64BE(buf, p.ClientGUID)
		return buf, nil
	case *UnconnectedPong:
		buf := []byte{byte(PackUnconnectedPong)}
		buf = appendU64BE(buf, p.SendTimestamp)
		buf = appendU64BE(buf, p.ServerGUID)
		buf = putMagic(buf)
		buf = append(buf, p.Data...)
		return buf, nil
	case *OpenConnectionRequest1:
		buf := []byte{byte(PackOpenConnectionRequest1)}
		buf = putMagic(buf)
		buf = append(buf, p.ProtocolVersion)
		if pad := int(p.MTU) - len(buf); pad > 0 {
			buf = append(buf, make([]byte, pad)...)
		}
		return buf, nil
	case *OpenConnectionReply1:
		buf := []byte{byte(PackOpenConnectionReply1)}
		buf = putMagic(buf)
		buf = appendU64BE(buf, p.ServerGUID)
		buf = append(buf, boolByte(p.UseEncryption))
		buf = appendU16BE(buf, p.MTU)
		return buf, nil
	case *OpenConnectionRequest2:
		buf := []byte{byte(PackOpenConnectionRequest2)}
		buf = putMagic(buf)
		buf = putSocketAddr(buf, p.ServerAddress)
		buf = appendU16BE(buf, p.MTU)
		buf = appendU64BE(buf, p.ClientGUID)
		return buf, nil
	case *OpenConnectionReply2:
		buf := []byte{byte(PackOpenConnectionReply2)}
		buf = putMagic(buf)
		buf = appendU64BE(buf, p.ServerGUID)
		buf = putSocketAddr(buf, p.ClientAddress)
		buf = appendU16BE(buf, p.MTU)
		buf = append(buf, boolByte(p.EncryptionEnabled))
		return buf, nil
	case *IncompatibleProtocol:
		buf := []byte{byte(PackIncompatibleProtocolVersion), p.ServerProtocol}
		buf = putMagic(buf)
		buf = appendU64BE(buf, p.ServerGUID)
		return buf, nil
	case *AlreadyConnected:
		buf := []byte{byte(PackAlreadyConnected)}
		buf = putMagic(buf)
		buf = appendU64BE(buf, p.ServerGUID)
		return buf, nil
	case *ConnectionRequestFailed:
		buf := []byte{byte(PackConnectionRequestFailed)}
		buf = putMagic(buf)
		buf = appendU64BE(buf, p.ServerGUID)
		return buf, nil
	case *NewIncomingConnection:
		buf := []byte{byte(PackNewIncomingConnection)}
		buf = putSocketAddr(buf, p.ServerAddress)
		return buf, nil
	case *DisconnectNotification:
		return []byte{byte(PackDisconnectNotification)}, nil
	case *ConnectedPing:
		buf := []byte{byte(PackConnectedPing)}
		buf = appendU64BE(buf, p.SendTimestamp)
		return buf, nil
	case *ConnectedPong:
		buf := []byte{byte(PackConnectedPong)}
		buf = appendU64BE(buf, p.SendTimestamp)
		buf = appendU64BE(buf, p.SendTimestampEcho)
		return buf, nil
	default:
		return nil, errInvalidPacketID(0)
	}
}

func decodeUnconnected(id PackID, body []byte) (any, error) {
	switch id {
	case PackUnconnectedPing1, PackUnconnectedPing2:
		if len(body) < 8+16+8 {
			return nil, errInvalidPacketLength("unconnected ping")
		}
		ts := binary.BigEndian.Uint64(body[0:8])
		if err := checkMagic(body[8:]); err != nil {
			return nil, err
		}
		guid := binary.BigEndian.Uint64(body[24:32])
		return &UnconnectedPing{SendTimestamp: ts, ClientGUID: guid}, nil
	case PackUnconnectedPong:
		if len(body) < 8+8+16 {
			return nil, errInvalidPacketLength("unconnected pong")
		}
		ts := binary.BigEndian.Uint64(body[0:8])
		guid := binary.BigEndian.Uint64(body[8:16])
		if err := checkMagic(body[16:]); err != nil {
			return nil, err
		}
		data := append([]byte(nil), body[32:]...)
		return &UnconnectedPong{SendTimestamp: ts, ServerGUID: guid, Data: data}, nil
	case PackOpenConnectionRequest1:
		if len(body) < 16+1 {
			return nil, errInvalidPacketLength("open connection request 1")
		}
		if err := checkMagic(body); err != nil {
			return nil, err
		}
		version := body[16]
		mtu := uint16(len(body) + 1) // +1 for the packet id byte stripped by the caller
		return &OpenConnectionRequest1{ProtocolVersion: version, MTU: mtu}, nil
	case PackOpenConnectionReply1:
		if len(body) < 16+8+1+2 {
			return nil, errInvalidPacketLength("open connection reply 1")
		}
		if err := checkMagic(body); err != nil {
			return nil, err
		}
		off := 16
		guid := binary.BigEndian.Uint64(body[off:])
		off += 8
		useEnc := body[off] != 0
		off++
		mtu := binary.BigEndian.Uint16(body[off:])
		return &OpenConnectionReply1{ServerGUID: guid, UseEncryption: useEnc, MTU: mtu}, nil
	case PackOpenConnectionRequest2:
		if len(body) < 16 {
			return nil, errInvalidPacketLength("open connection request 2")
		}
		if err := checkMagic(body); err != nil {
			return nil, err
		}
		off := 16
		addr, n, err := getSocketAddr(body[off:])
		if err != nil {
			return nil, err
		}
		off += n
		if len(body) < off+2+8 {
			return nil, errInvalidPacketLength("open connection request 2 tail")
		}
		mtu := binary.BigEndian.Uint16(body[off:])
		off += 2
		guid := binary.BigEndian.Uint64(body[off:])
		return &OpenConnectionRequest2{ServerAddress: addr, MTU: mtu, ClientGUID: guid}, nil
	case PackOpenConnectionReply2:
		if len(body) < 16+8 {
			return nil, errInvalidPacketLength("open connection reply 2")
		}
		if err := checkMagic(body); err != nil {
			return nil, err
		}
		off := 16
		guid := binary.BigEndian.Uint64(body[off:])
		off += 8
		addr, n, err := getSocketAddr(body[off:])
		if err != nil {
			return nil, err
		}
		off += n
		if len(body) < off+2+1 {
			return nil, errInvalidPacketLength("open connection reply 2 tail")
		}
		mtu := binary.BigEndian.Uint16(body[off:])
		off += 2
		encEnabled := body[off] != 0
		return &OpenConnectionReply2{ServerGUID: guid, ClientAddress: addr, MTU: mtu, EncryptionEnabled: encEnabled}, nil
	case PackIncompatibleProtocolVersion:
		if len(body) < 1+16+8 {
			return nil, errInvalidPacketLength("incompatible protocol")
		}
		version := body[0]
		if err := checkMagic(body[1:]); err != nil {
			return nil, err
		}
		guid := binary.BigEndian.Uint64(body[17:25])
		return &IncompatibleProtocol{ServerProtocol: version, ServerGUID: guid}, nil
	case PackAlreadyConnected:
		if len(body) < 16+8 {
			return nil, errInvalidPacketLength("already connected")
		}
		if err := checkMagic(body); err != nil {
			return nil, err
		}
		guid := binary.BigEndian.Uint64(body[16:24])
		return &AlreadyConnected{ServerGUID: guid}, nil
	case PackConnectionRequestFailed:
		if len(body) < 16+8 {
			return nil, errInvalidPacketLength("connection request failed")
		}
		if err := checkMagic(body); err != nil {
			return nil, err
		}
		guid := binary.BigEndian.Uint64(body[16:24])
		return &ConnectionRequestFailed{ServerGUID: guid}, nil
	case PackNewIncomingConnection:
		addr, _, err := getSocketAddr(body)
		if err != nil {
			return nil, err
		}
		return &NewIncomingConnection{ServerAddress: addr}, nil
	case PackDisconnectNotification:
		return &DisconnectNotification{}, nil
	case PackConnectedPing:
		if len(body) < 8 {
			return nil, errInvalidPacketLength("connected ping")
		}
		return &ConnectedPing{SendTimestamp: binary.BigEndian.Uint64(body)}, nil
	case PackConnectedPong:
		if len(body) < 16 {
			return nil, errInvalidPacketLength("connected pong")
		}
		return &ConnectedPong{
			SendTimestamp:     binary.BigEndian.Uint64(body[0:8]),
			SendTimestampEcho: binary.BigEndian.Uint64(body[8:16]),
		}, nil
	default:
		return nil, errInvalidPacketID(byte(id))
	}
}

func appendU64BE(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
