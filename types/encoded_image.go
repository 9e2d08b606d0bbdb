package types

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// EncodedImageExtensionName is the registered name of the encoded image
// extension type.
const EncodedImageExtensionName = "mlarrays.encoded_image"

// EncodedImageType is the Arrow extension type for compressed image bytes
// in their on-disk format (PNG, JPEG, WebP). Storage is Binary.
type EncodedImageType struct {
	arrow.ExtensionBase
}

// NewEncodedImageType creates a new EncodedImageType.
func NewEncodedImageType() *EncodedImageType {
	return &EncodedImageType{
		ExtensionBase: arrow.ExtensionBase{Storage: arrow.BinaryTypes.Binary},
	}
}

func (*EncodedImageType) ArrayType() reflect.Type { return reflect.TypeOf(EncodedImageArray{}) }

func (*EncodedImageType) ExtensionName() string { return EncodedImageExtensionName }

func (t *EncodedImageType) String() string {
	return fmt.Sprintf("extension<%s>", t.ExtensionName())
}

func (t *EncodedImageType) ExtensionEquals(other arrow.ExtensionType) bool {
	return t.ExtensionName() == other.ExtensionName()
}

func (*EncodedImageType) Serialize() string { return "" }

func (*EncodedImageType) Deserialize(storageType arrow.DataType, data string) (arrow.ExtensionType, error) {
	if data != "" {
		return nil, fmt.Errorf("encoded_image: unexpected serialized metadata: %q", data)
	}
	if !arrow.TypeEqual(storageType, arrow.BinaryTypes.Binary) {
		return nil, fmt.Errorf("encoded_image: invalid storage type %s, expected binary", storageType)
	}
	return NewEncodedImageType(), nil
}

// EncodedImageArray is an extension array of compressed image bytes.
type EncodedImageArray struct {
	array.ExtensionArrayBase
}

func (a *EncodedImageArray) storage() *array.Binary {
	return a.Storage().(*array.Binary)
}

// Value returns the encoded bytes at index i. The slice aliases the
// underlying Arrow buffer and must not be modified.
func (a *EncodedImageArray) Value(i int) []byte {
	return a.storage().Value(i)
}

func (a *EncodedImageArray) String() string {
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
		fmt.Fprintf(&b, "<%d bytes>", len(a.Value(i)))
	}
	b.WriteByte(']')
	return b.String()
}

// EncodedImageFromBytes builds an EncodedImageArray from per-element byte
// buffers. Nil entries become nulls.
func EncodedImageFromBytes(mem memory.Allocator, images [][]byte) *EncodedImageArray {
	bb := array.NewBinaryBuilder(mem, arrow.BinaryTypes.Binary)
	defer bb.Release()
	for _, img := range images {
		if img == nil {
			bb.AppendNull()
			continue
		}
		bb.Append(img)
	}
	storage := bb.NewBinaryArray()
	defer storage.Release()

	return array.NewExtensionArrayWithStorage(NewEncodedImageType(), storage).(*EncodedImageArray)
}
