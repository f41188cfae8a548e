package raknet

// U24 is a 24-bit little-endian unsigned integer, the wire representation
// used by RakNet for sequence numbers and reliable/ordered indices.
// Arithmetic wraps modulo 2^24. It is declared over uint32; NewU24 masks a
// value to 24 bits, a plain conversion does not.
type U24 uint32

const u24Mask = 0x00FFFFFF
const u24HalfRange = 0x00800000

// NewU24 truncates v to 24 bits.
func NewU24(v uint32) U24 {
	return U24(v & u24Mask)
}

// Add returns u + delta, wrapped modulo 2^24.
func (u U24) Add(delta uint32) U24 {
	return NewU24(uint32(u) + delta)
}

// Next returns u+1, wrapped modulo 2^24.
func (u U24) Next() U24 {
	return u.Add(1)
}

// Distance returns (b-u) mod 2^24, the forward distance from u to b.
func (u U24) Distance(b U24) uint32 {
	return (uint32(b) - uint32(u)) & u24Mask
}

// LessThanSequence reports whether u is "before" b in sequence-distance
// terms: (b-u) mod 2^24 < 2^23.
func (u U24) LessThanSequence(b U24) bool {
	return u.Distance(b) < u24HalfRange && u != b
}

func (u U24) String() string {
	return uintToString(uint32(u))
}

func uintToString(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// PutU24LE writes u little-endian into dst[0:3]. dst must have len >= 3.
func PutU24LE(dst []byte, u U24) {
	dst[0] = byte(u)
	dst[1] = byte(u >> 8)
	dst[2] = byte(u >> 16)
}

// GetU24LE reads a little-endian 24-bit value from src[0:3].
func GetU24LE(src []byte) U24 {
	return U24(uint32(src[0]) | uint32(src[1])<<8 | uint32(src[2])<<16)
}
