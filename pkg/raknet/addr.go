package raknet

import (
	"encoding/binary"
	"net"
)

// putSocketAddr encodes addr per the RakNet wire format: a one-byte IP
// version tag followed by the version-specific fields. IPv4 is
// `04 | be32(ip) | be16(port)`; IPv6 is
// `06 | be16(0x17) | be16(port) | be32(flow) | 16 bytes ip | be32(scope)`.
func putSocketAddr(dst []byte, addr *net.UDPAddr) []byte {
	if v4 := addr.IP.To4(); v4 != nil {
		dst = append(dst, 4)
		dst = append(dst, v4...)
		dst = appendU16BE(dst, uint16(addr.Port))
		return dst
	}
	v6 := addr.IP.To16()
	dst = append(dst, 6)
	dst = appendU16BE(dst, 0x17)
	dst = appendU16BE(dst, uint16(addr.Port))
	dst = appendU32BE(dst, 0) // flow info: the core never originates one
	dst = append(dst, v6...)
	dst = appendU32BE(dst, 0) // scope id: ditto
	return dst
}

func getSocketAddr(src []byte) (*net.UDPAddr, int, error) {
	if len(src) < 1 {
		return nil, 0, errInvalidPacketLength("socket address: empty")
	}
	ver := src[0]
	switch ver {
	case 4:
		if len(src) < 1+4+2 {
			return nil, 0, errInvalidPacketLength("socket address: ipv4 too short")
		}
		ip := net.IPv4(src[1], src[2], src[3], src[4])
		port := binary.BigEndian.Uint16(src[5:7])
		return &net.UDPAddr{IP: ip, Port: int(port)}, 7, nil
	case 6:
		if len(src) < 1+2+2+4+16+4 {
			return nil, 0, errInvalidPacketLength("socket address: ipv6 too short")
		}
		off := 1
		family := binary.BigEndian.Uint16(src[off:])
		off += 2
		if family != 0x17 {
			return nil, 0, errInvalidIPV6Family(family)
		}
		port := binary.BigEndian.Uint16(src[off:])
		off += 2
		off += 4 // flow info, ignored
		ip := make(net.IP, 16)
		copy(ip, src[off:off+16])
		off += 16
		off += 4 // scope id, ignored
		return &net.UDPAddr{IP: ip, Port: int(port)}, off, nil
	default:
		return nil, 0, errInvalidIPVer(ver)
	}
}

func appendU16BE(dst []byte, v uint16) []byte {
	return append(dst, byte(v>>8), byte(v))
}

func appendU32BE(dst []byte, v uint32) []byte {
	return append(dst, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}
