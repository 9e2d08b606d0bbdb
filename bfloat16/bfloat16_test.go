package bfloat16

import (
	"math"
	"testing"
)

func TestFromFloat32RoundsToNearestEven(t *testing.T) {
	tests := []struct {
		in   float32
		want float32
	}{
		{0, 0},
		{1, 1},
		{-1, -1},
		{1.1, 1.1015625},
		{0.5, 0.5},
		{3.140625, 3.140625},
		{100.5, 100.5},
		{-2.75, -2.75},
	}

	for _, tt := range tests {
		got := FromFloat32(tt.in).Float32()
		if got != tt.want {
			t.Errorf("FromFloat32(%v): got %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRoundTripIsIdentityForExactValues(t *testing.T) {
	// Values already representable in bfloat16 must survive unchanged.
	exact := []float32{0, 1, -1, 0.5, 2, 1024, -0.25, 1.1015625}
	for _, v := range exact {
		n := FromFloat32(v)
		if got := FromFloat32(n.Float32()); got.Bits() != n.Bits() {
			t.Errorf("round trip changed %v: bits %04x -> %04x", v, n.Bits(), got.Bits())
		}
	}
}

func TestSpecialValues(t *testing.T) {
	nan := FromFloat32(float32(math.NaN()))
	if !nan.IsNaN() {
		t.Error("NaN should convert to a bfloat16 NaN")
	}

	posInf := FromFloat32(float32(math.Inf(1)))
	if !posInf.IsInf(1) || posInf.IsInf(-1) {
		t.Errorf("expected +Inf, got bits %04x", posInf.Bits())
	}

	negInf := FromFloat32(float32(math.Inf(-1)))
	if !negInf.IsInf(-1) || negInf.IsInf(1) {
		t.Errorf("expected -Inf, got bits %04x", negInf.Bits())
	}

	negZero := FromFloat32(float32(math.Copysign(0, -1)))
	if !negZero.Signbit() {
		t.Error("negative zero should keep its sign bit")
	}
}

func TestLessOrdersNaNLast(t *testing.T) {
	nan := FromFloat32(float32(math.NaN()))
	one := FromFloat32(1)
	two := FromFloat32(2)

	if !one.Less(two) {
		t.Error("1 should order before 2")
	}
	if two.Less(one) {
		t.Error("2 should not order before 1")
	}
	if nan.Less(one) {
		t.Error("NaN should not order before 1")
	}
	if !one.Less(nan) {
		t.Error("1 should order before NaN")
	}
}

func TestBytesRoundTrip(t *testing.T) {
	n := FromFloat32(1.1)
	buf := make([]byte, 2)
	n.PutBytes(buf)

	if got := FromBytes(buf); got.Bits() != n.Bits() {
		t.Errorf("byte round trip: bits %04x -> %04x", n.Bits(), got.Bits())
	}
}

func TestEncodeDecodeFloat32s(t *testing.T) {
	in := []float32{0, 1, -1, 0.5, 1.1}
	buf := EncodeFloat32s(in)
	if len(buf) != 2*len(in) {
		t.Fatalf("expected %d bytes, got %d", 2*len(in), len(buf))
	}

	out := DecodeFloat32s(buf)
	if len(out) != len(in) {
		t.Fatalf("expected %d values, got %d", len(in), len(out))
	}
	for i := range in {
		want := FromFloat32(in[i]).Float32()
		if out[i] != want {
			t.Errorf("element %d: got %v, want %v", i, out[i], want)
		}
	}
}

func TestFloat16Interop(t *testing.T) {
	n := FromFloat32(0.5)
	h := n.Float16()
	if h.Float32() != 0.5 {
		t.Errorf("half conversion: got %v, want 0.5", h.Float32())
	}

	back := FromFloat16(h)
	if back.Bits() != n.Bits() {
		t.Errorf("half round trip: bits %04x -> %04x", n.Bits(), back.Bits())
	}
}
