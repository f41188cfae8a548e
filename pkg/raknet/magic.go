package raknet

import "bytes"

// Magic is the 16-byte fixed sequence present in every unconnected RakNet
// message.
var Magic = [16]byte{
	0x00, 0xFF, 0xFF, 0x00, 0xFE, 0xFE, 0xFE, 0xFE,
	0xFD, 0xFD, 0xFD, 0xFD, 0x12, 0x34, 0x56, 0x78,
}

func checkMagic(src []byte) error {
	if len(src) < len(Magic) {
		return errInvalidPacketLength("magic: truncated")
	}
	if bytes.Equal(src[:len(Magic)], Magic[:]) {
		return nil
	}
	for i, b := range Magic {
		if src[i] != b {
			return errMagicNotMatched(i, src[i])
		}
	}
	return nil
}

func putMagic(dst []byte) []byte {
	return append(dst, Magic[:]...)
}
