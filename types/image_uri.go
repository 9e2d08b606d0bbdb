package types

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// ImageURIExtensionName is the registered name of the image URI extension type.
const ImageURIExtensionName = "mlarrays.image_uri"

// ImageURIType is the Arrow extension type for external image references.
// Storage is Utf8. URIs may point at local paths, http(s) locations or a
// blob store; they are not validated at construction time.
type ImageURIType struct {
	arrow.ExtensionBase
}

// NewImageURIType creates a new ImageURIType.
func NewImageURIType() *ImageURIType {
	return &ImageURIType{
		ExtensionBase: arrow.ExtensionBase{Storage: arrow.BinaryTypes.String},
	}
}

func (*ImageURIType) ArrayType() reflect.Type { return reflect.TypeOf(ImageURIArray{}) }

func (*ImageURIType) ExtensionName() string { return ImageURIExtensionName }

func (t *ImageURIType) String() string {
	return fmt.Sprintf("extension<%s>", t.ExtensionName())
}

func (t *ImageURIType) ExtensionEquals(other arrow.ExtensionType) bool {
	return t.ExtensionName() == other.ExtensionName()
}

func (*ImageURIType) Serialize() string { return "" }

func (*ImageURIType) Deserialize(storageType arrow.DataType, data string) (arrow.ExtensionType, error) {
	if data != "" {
		return nil, fmt.Errorf("image_uri: unexpected serialized metadata: %q", data)
	}
	if !arrow.TypeEqual(storageType, arrow.BinaryTypes.String) {
		return nil, fmt.Errorf("image_uri: invalid storage type %s, expected utf8", storageType)
	}
	return NewImageURIType(), nil
}

// ImageURIArray is an extension array of image URIs.
type ImageURIArray struct {
	array.ExtensionArrayBase
}

func (a *ImageURIArray) storage() *array.String {
	return a.Storage().(*array.String)
}

// Value returns the URI at index i.
func (a *ImageURIArray) Value(i int) string {
	return a.storage().Value(i)
}

func (a *ImageURIArray) String() string {
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
		fmt.Fprintf(&b, "%q", a.Value(i))
	}
	b.WriteByte(']')
	return b.String()
}

// ImageURIFromStrings builds an ImageURIArray from URI strings. Empty
// strings are stored as-is; use ImageURIFromPtrs for nulls.
func ImageURIFromStrings(mem memory.Allocator, uris []string) *ImageURIArray {
	sb := array.NewStringBuilder(mem)
	defer sb.Release()
	for _, u := range uris {
		sb.Append(u)
	}
	storage := sb.NewStringArray()
	defer storage.Release()

	return array.NewExtensionArrayWithStorage(NewImageURIType(), storage).(*ImageURIArray)
}

// ImageURIFromPtrs builds an ImageURIArray where nil entries become nulls.
func ImageURIFromPtrs(mem memory.Allocator, uris []*string) *ImageURIArray {
	sb := array.NewStringBuilder(mem)
	defer sb.Release()
	for _, u := range uris {
		if u == nil {
			sb.AppendNull()
			continue
		}
		sb.Append(*u)
	}
	storage := sb.NewStringArray()
	defer storage.Release()

	return array.NewExtensionArrayWithStorage(NewImageURIType(), storage).(*ImageURIArray)
}
