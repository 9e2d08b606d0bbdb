package types

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/mvanberg/mlarrays/bfloat16"
)

// BFloat16ExtensionName is the registered name of the bfloat16 extension type.
const BFloat16ExtensionName = "mlarrays.bfloat16"

// BFloat16Type is the Arrow extension type for bfloat16 values.
// Storage is FixedSizeBinary(2) holding the little-endian bit pattern.
type BFloat16Type struct {
	arrow.ExtensionBase
}

// NewBFloat16Type creates a new BFloat16Type.
func NewBFloat16Type() *BFloat16Type {
	return &BFloat16Type{
		ExtensionBase: arrow.ExtensionBase{
			Storage: &arrow.FixedSizeBinaryType{ByteWidth: 2},
		},
	}
}

func (*BFloat16Type) ArrayType() reflect.Type { return reflect.TypeOf(BFloat16Array{}) }

func (*BFloat16Type) ExtensionName() string { return BFloat16ExtensionName }

func (t *BFloat16Type) String() string {
	return fmt.Sprintf("extension<%s>", t.ExtensionName())
}

func (t *BFloat16Type) ExtensionEquals(other arrow.ExtensionType) bool {
	return t.ExtensionName() == other.ExtensionName()
}

func (*BFloat16Type) Serialize() string { return "" }

func (*BFloat16Type) Deserialize(storageType arrow.DataType, data string) (arrow.ExtensionType, error) {
	if data != "" {
		return nil, fmt.Errorf("bfloat16: unexpected serialized metadata: %q", data)
	}
	if !arrow.TypeEqual(storageType, &arrow.FixedSizeBinaryType{ByteWidth: 2}) {
		return nil, fmt.Errorf("bfloat16: invalid storage type %s, expected fixed_size_binary[2]", storageType)
	}
	return NewBFloat16Type(), nil
}

// BFloat16Array is an extension array of bfloat16 values.
type BFloat16Array struct {
	array.ExtensionArrayBase
}

func (a *BFloat16Array) storage() *array.FixedSizeBinary {
	return a.Storage().(*array.FixedSizeBinary)
}

// Value returns the bfloat16 value at index i. The result for a null
// element is unspecified; check IsNull first.
func (a *BFloat16Array) Value(i int) bfloat16.Num {
	return bfloat16.FromBytes(a.storage().Value(i))
}

// Float32Values expands the array to float32. Null elements come back
// as zero; use IsNull to distinguish.
func (a *BFloat16Array) Float32Values() []float32 {
	out := make([]float32, a.Len())
	for i := range out {
		if a.IsValid(i) {
			out[i] = a.Value(i).Float32()
		}
	}
	return out
}

func (a *BFloat16Array) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i := 0; i < a.Len(); i++ {
		if i > 0 {
			b.WriteByte(' ')
		}
		if a.IsNull(i) {
			b.WriteString(array.NullValueStr)
			continue
		}
		b.WriteString(a.Value(i).String())
	}
	b.WriteByte(']')
	return b.String()
}

// BFloat16Builder builds BFloat16Array values on top of the storage builder.
type BFloat16Builder struct {
	*array.ExtensionBuilder
}

// NewBFloat16Builder creates a builder for bfloat16 extension arrays.
func NewBFloat16Builder(mem memory.Allocator) *BFloat16Builder {
	return &BFloat16Builder{
		ExtensionBuilder: array.NewExtensionBuilder(mem, NewBFloat16Type()),
	}
}

func (b *BFloat16Builder) storage() *array.FixedSizeBinaryBuilder {
	return b.StorageBuilder().(*array.FixedSizeBinaryBuilder)
}

// Append appends a bfloat16 value.
func (b *BFloat16Builder) Append(v bfloat16.Num) {
	buf := make([]byte, 2)
	v.PutBytes(buf)
	b.storage().Append(buf)
}

// AppendFloat32 rounds a float32 to bfloat16 and appends it.
func (b *BFloat16Builder) AppendFloat32(v float32) {
	b.Append(bfloat16.FromFloat32(v))
}

// NewBFloat16Array finishes the builder and returns the typed array.
func (b *BFloat16Builder) NewBFloat16Array() *BFloat16Array {
	return b.NewArray().(*BFloat16Array)
}

// BFloat16FromFloat32s builds a BFloat16Array from float32 values,
// rounding each to nearest even.
func BFloat16FromFloat32s(mem memory.Allocator, values []float32) *BFloat16Array {
	b := NewBFloat16Builder(mem)
	defer b.Release()
	for _, v := range values {
		b.AppendFloat32(v)
	}
	return b.NewBFloat16Array()
}
