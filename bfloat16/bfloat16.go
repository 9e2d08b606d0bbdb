// Package bfloat16 implements the 16-bit brain floating point format.
// This package implements:
// - Scalar conversion between bfloat16 and float32/float16
// - Bulk slice encoding for Arrow storage buffers
// - Round-to-nearest-even conversion from float32
package bfloat16

import (
	"encoding/binary"
	"math"
	"strconv"

	bf16 "github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
)

// Num is a bfloat16 value stored as its raw bit pattern. The format keeps
// the float32 sign bit and 8-bit exponent but truncates the mantissa to
// 7 bits, so the dynamic range matches float32 at reduced precision.
type Num struct {
	bits uint16
}

// FromFloat32 converts a float32 to bfloat16 using round-to-nearest-even.
// For example 1.1 converts to approximately 1.1015625.
func FromFloat32(f float32) Num {
	b := math.Float32bits(f)
	if f != f {
		// Quiet NaN, keeping the sign and payload MSB so the
		// result stays a NaN after truncation.
		return Num{bits: uint16(b>>16) | 0x0040}
	}
	// Round to nearest even on the low 16 bits.
	rounded := b + 0x7FFF + ((b >> 16) & 1)
	return Num{bits: uint16(rounded >> 16)}
}

// FromBits returns the bfloat16 value with the given bit pattern.
func FromBits(bits uint16) Num {
	return Num{bits: bits}
}

// FromFloat16 converts an IEEE 754 half-precision value to bfloat16.
func FromFloat16(h float16.Float16) Num {
	return FromFloat32(h.Float32())
}

// Float32 returns the exact float32 representation of n. Every bfloat16
// value is exactly representable as float32.
func (n Num) Float32() float32 {
	return math.Float32frombits(uint32(n.bits) << 16)
}

// Float16 converts n to IEEE 754 half precision. The conversion may lose
// range (half has a smaller exponent) and rounds the mantissa.
func (n Num) Float16() float16.Float16 {
	return float16.Fromfloat32(n.Float32())
}

// Bits returns the raw bit pattern.
func (n Num) Bits() uint16 { return n.bits }

// IsNaN reports whether n is a NaN.
func (n Num) IsNaN() bool {
	return n.bits&0x7FFF > 0x7F80
}

// IsInf reports whether n is an infinity matching the given sign:
// positive if sign > 0, negative if sign < 0, either if sign == 0.
func (n Num) IsInf(sign int) bool {
	return (n.bits == 0x7F80 && sign >= 0) || (n.bits == 0xFF80 && sign <= 0)
}

// Signbit reports whether n is negative or negative zero.
func (n Num) Signbit() bool {
	return n.bits&0x8000 != 0
}

// Less reports whether n orders before other. NaN orders after every
// other value, matching the total order used by sort helpers.
func (n Num) Less(other Num) bool {
	switch {
	case n.IsNaN():
		return false
	case other.IsNaN():
		return true
	default:
		return n.Float32() < other.Float32()
	}
}

func (n Num) String() string {
	return strconv.FormatFloat(float64(n.Float32()), 'g', -1, 32)
}

// PutBytes writes the 2-byte little-endian layout of n into buf.
// This matches the FixedSizeBinary(2) Arrow storage of the extension type.
func (n Num) PutBytes(buf []byte) {
	binary.LittleEndian.PutUint16(buf, n.bits)
}

// FromBytes reads a bfloat16 from the 2-byte little-endian layout.
func FromBytes(buf []byte) Num {
	return Num{bits: binary.LittleEndian.Uint16(buf)}
}

// EncodeFloat32s converts a float32 slice to the packed 2-byte layout,
// rounding each element to nearest even.
func EncodeFloat32s(f []float32) []byte {
	out := make([]byte, 2*len(f))
	for i, v := range f {
		FromFloat32(v).PutBytes(out[2*i:])
	}
	return out
}

// DecodeFloat32s expands a packed bfloat16 buffer back to float32 values.
// The buffer length must be a multiple of 2.
func DecodeFloat32s(buf []byte) []float32 {
	return bf16.DecodeFloat32(buf)
}
