package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"reflect"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// FixedShapeImageTensorExtensionName is the registered name of the fixed
// shape image tensor extension type.
const FixedShapeImageTensorExtensionName = "mlarrays.fixed_shape_image_tensor"

// Tensor construction errors
var (
	ErrInvalidShape  = errors.New("invalid tensor shape")
	ErrShapeMismatch = errors.New("tensor shape mismatch")
)

// ImageShape is the fixed (height, width, channels) shape shared by every
// element of a FixedShapeImageTensorArray.
type ImageShape struct {
	Height   int `json:"height"`
	Width    int `json:"width"`
	Channels int `json:"channels"`
}

// Validate checks that all dimensions are positive and the channel count
// is one of the supported layouts (1 grayscale, 3 RGB, 4 RGBA).
func (s ImageShape) Validate() error {
	if s.Height <= 0 || s.Width <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidShape, s.Height, s.Width)
	}
	switch s.Channels {
	case 1, 3, 4:
		return nil
	default:
		return fmt.Errorf("%w: unsupported channel count %d", ErrInvalidShape, s.Channels)
	}
}

// ElemLen returns the number of uint8 values per tensor element.
func (s ImageShape) ElemLen() int {
	return s.Height * s.Width * s.Channels
}

func (s ImageShape) String() string {
	return fmt.Sprintf("%dx%dx%d", s.Height, s.Width, s.Channels)
}

// FixedShapeImageTensorType is the Arrow extension type for decoded images
// as fixed-shape HWC uint8 tensors. Storage is FixedSizeList<uint8> of
// length Height*Width*Channels; the shape is carried in the serialized
// extension metadata as JSON.
type FixedShapeImageTensorType struct {
	arrow.ExtensionBase
	shape ImageShape
}

// NewFixedShapeImageTensorType creates a tensor type for the given shape.
func NewFixedShapeImageTensorType(shape ImageShape) (*FixedShapeImageTensorType, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	return &FixedShapeImageTensorType{
		ExtensionBase: arrow.ExtensionBase{
			Storage: arrow.FixedSizeListOf(int32(shape.ElemLen()), arrow.PrimitiveTypes.Uint8),
		},
		shape: shape,
	}, nil
}

// MustFixedShapeImageTensorType is like NewFixedShapeImageTensorType but
// panics on an invalid shape. Intended for static shapes.
func MustFixedShapeImageTensorType(shape ImageShape) *FixedShapeImageTensorType {
	t, err := NewFixedShapeImageTensorType(shape)
	if err != nil {
		panic(err)
	}
	return t
}

// Shape returns the per-element shape.
func (t *FixedShapeImageTensorType) Shape() ImageShape { return t.shape }

func (*FixedShapeImageTensorType) ArrayType() reflect.Type {
	return reflect.TypeOf(FixedShapeImageTensorArray{})
}

func (*FixedShapeImageTensorType) ExtensionName() string {
	return FixedShapeImageTensorExtensionName
}

func (t *FixedShapeImageTensorType) String() string {
	return fmt.Sprintf("extension<%s[%s]>", t.ExtensionName(), t.shape)
}

// ExtensionEquals requires matching shapes, not just matching names.
func (t *FixedShapeImageTensorType) ExtensionEquals(other arrow.ExtensionType) bool {
	o, ok := other.(*FixedShapeImageTensorType)
	return ok && t.shape == o.shape
}

func (t *FixedShapeImageTensorType) Serialize() string {
	meta, _ := json.Marshal(struct {
		Shape [3]int `json:"shape"`
	}{Shape: [3]int{t.shape.Height, t.shape.Width, t.shape.Channels}})
	return string(meta)
}

func (*FixedShapeImageTensorType) Deserialize(storageType arrow.DataType, data string) (arrow.ExtensionType, error) {
	var meta struct {
		Shape [3]int `json:"shape"`
	}
	if err := json.Unmarshal([]byte(data), &meta); err != nil {
		return nil, fmt.Errorf("fixed_shape_image_tensor: invalid metadata %q: %w", data, err)
	}

	shape := ImageShape{Height: meta.Shape[0], Width: meta.Shape[1], Channels: meta.Shape[2]}
	t, err := NewFixedShapeImageTensorType(shape)
	if err != nil {
		return nil, err
	}
	if !arrow.TypeEqual(storageType, t.Storage) {
		return nil, fmt.Errorf("fixed_shape_image_tensor: storage type %s does not match shape %s", storageType, shape)
	}
	return t, nil
}

// FixedShapeImageTensorArray is an extension array of fixed-shape HWC
// uint8 image tensors.
type FixedShapeImageTensorArray struct {
	array.ExtensionArrayBase
}

// TensorType returns the extension type with its shape.
func (a *FixedShapeImageTensorArray) TensorType() *FixedShapeImageTensorType {
	return a.DataType().(*FixedShapeImageTensorType)
}

// Shape returns the per-element shape.
func (a *FixedShapeImageTensorArray) Shape() ImageShape {
	return a.TensorType().Shape()
}

func (a *FixedShapeImageTensorArray) storage() *array.FixedSizeList {
	return a.Storage().(*array.FixedSizeList)
}

// Value returns the raw HWC bytes of element i. The slice aliases the
// underlying Arrow buffer and must not be modified.
func (a *FixedShapeImageTensorArray) Value(i int) []byte {
	elem := a.Shape().ElemLen()
	values := a.storage().ListValues().(*array.Uint8)
	off := (a.storage().Offset() + i) * elem
	return values.Uint8Values()[off : off+elem]
}

// Image materializes element i as an image.Image. Grayscale tensors come
// back as *image.Gray, everything else as *image.RGBA with alpha forced
// opaque for 3-channel data.
func (a *FixedShapeImageTensorArray) Image(i int) (image.Image, error) {
	if a.IsNull(i) {
		return nil, fmt.Errorf("element %d is null", i)
	}

	shape := a.Shape()
	data := a.Value(i)
	rect := image.Rect(0, 0, shape.Width, shape.Height)

	switch shape.Channels {
	case 1:
		img := image.NewGray(rect)
		copy(img.Pix, data)
		return img, nil
	case 3:
		img := image.NewRGBA(rect)
		for p := 0; p < shape.Height*shape.Width; p++ {
			img.Pix[4*p+0] = data[3*p+0]
			img.Pix[4*p+1] = data[3*p+1]
			img.Pix[4*p+2] = data[3*p+2]
			img.Pix[4*p+3] = 0xFF
		}
		return img, nil
	case 4:
		img := image.NewRGBA(rect)
		copy(img.Pix, data)
		return img, nil
	default:
		return nil, fmt.Errorf("%w: channels %d", ErrInvalidShape, shape.Channels)
	}
}

// Stack concatenates all non-null elements into one contiguous NHWC
// buffer and returns it with the batch size. Null elements are skipped.
func (a *FixedShapeImageTensorArray) Stack() ([]byte, int) {
	elem := a.Shape().ElemLen()
	out := make([]byte, 0, a.Len()*elem)
	n := 0
	for i := 0; i < a.Len(); i++ {
		if a.IsNull(i) {
			continue
		}
		out = append(out, a.Value(i)...)
		n++
	}
	return out, n
}

func (a *FixedShapeImageTensorArray) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "tensor[%s][", a.Shape())
	for i := 0; i < a.Len(); i++ {
		if i > 0 {
			b.WriteByte(' ')
		}
		if a.IsNull(i) {
			b.WriteString(array.NullValueStr)
			continue
		}
		b.WriteString("elem")
	}
	b.WriteByte(']')
	return b.String()
}

// TensorBuilder builds FixedShapeImageTensorArray values.
type TensorBuilder struct {
	*array.ExtensionBuilder
	shape ImageShape
}

// NewTensorBuilder creates a builder for tensors of the given shape.
func NewTensorBuilder(mem memory.Allocator, typ *FixedShapeImageTensorType) *TensorBuilder {
	return &TensorBuilder{
		ExtensionBuilder: array.NewExtensionBuilder(mem, typ),
		shape:            typ.Shape(),
	}
}

func (b *TensorBuilder) storage() *array.FixedSizeListBuilder {
	return b.StorageBuilder().(*array.FixedSizeListBuilder)
}

// Append appends one HWC element. The data length must equal ElemLen.
func (b *TensorBuilder) Append(data []byte) error {
	if len(data) != b.shape.ElemLen() {
		return fmt.Errorf("%w: element has %d bytes, shape %s needs %d",
			ErrShapeMismatch, len(data), b.shape, b.shape.ElemLen())
	}
	lb := b.storage()
	lb.Append(true)
	lb.ValueBuilder().(*array.Uint8Builder).AppendValues(data, nil)
	return nil
}

// AppendImage converts an image to the builder shape and appends it.
// The image bounds must match the shape; use the convert package for
// resizing.
func (b *TensorBuilder) AppendImage(img image.Image) error {
	bounds := img.Bounds()
	if bounds.Dx() != b.shape.Width || bounds.Dy() != b.shape.Height {
		return fmt.Errorf("%w: image %dx%d, shape %s",
			ErrShapeMismatch, bounds.Dx(), bounds.Dy(), b.shape)
	}
	return b.Append(flattenImage(img, b.shape))
}

// AppendNull appends a null element.
func (b *TensorBuilder) AppendNull() {
	b.storage().AppendNull()
}

// NewTensorArray finishes the builder and returns the typed array.
func (b *TensorBuilder) NewTensorArray() *FixedShapeImageTensorArray {
	return b.NewArray().(*FixedShapeImageTensorArray)
}

// flattenImage converts an image to the HWC uint8 layout of shape.
func flattenImage(img image.Image, shape ImageShape) []byte {
	out := make([]byte, 0, shape.ElemLen())
	bounds := img.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			switch shape.Channels {
			case 1:
				g := color.GrayModel.Convert(img.At(x, y)).(color.Gray)
				out = append(out, g.Y)
			case 3:
				r, g, bl, _ := img.At(x, y).RGBA()
				out = append(out, uint8(r>>8), uint8(g>>8), uint8(bl>>8))
			case 4:
				r, g, bl, al := img.At(x, y).RGBA()
				out = append(out, uint8(r>>8), uint8(g>>8), uint8(bl>>8), uint8(al>>8))
			}
		}
	}
	return out
}
