package raknet

import "testing"

func TestU24WrapsModulo2_24(t *testing.T) {
	u := NewU24(u24Mask)
	if got := u.Next(); got != 0 {
		t.Fatalf("Next() after max = %d, want 0", got)
	}
}

func TestU24Distance(t *testing.T) {
	cases := []struct {
		a, b U24
		want uint32
	}{
		{0, 5, 5},
		{5, 0, u24Mask + 1 - 5},
		{10, 10, 0},
	}
	for _, c := range cases {
		if got := c.a.Distance(c.b); got != c.want {
			t.Errorf("Distance(%d, %d) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestU24LessThanSequence(t *testing.T) {
	if !U24(5).LessThanSequence(U24(10)) {
		t.Errorf("5 should be before 10")
	}
	if U24(10).LessThanSequence(U24(5)) {
		t.Errorf("10 should not be before 5")
	}
	wrapped := NewU24(u24Mask)
	if !wrapped.LessThanSequence(wrapped.Next()) {
		t.Errorf("wraparound should still order correctly")
	}
}

func TestPutGetU24LERoundTrip(t *testing.T) {
	var buf [3]byte
	PutU24LE(buf[:], NewU24(0x123456))
	got := GetU24LE(buf[:])
	if got != NewU24(0x123456) {
		t.Fatalf("round trip = %d, want %d", got, NewU24(0x123456))
	}
}
