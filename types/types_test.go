package types

import (
	"image"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

func TestExtensionNamesAndStorage(t *testing.T) {
	tests := []struct {
		typ     arrow.ExtensionType
		name    string
		storage arrow.DataType
	}{
		{NewBFloat16Type(), "mlarrays.bfloat16", &arrow.FixedSizeBinaryType{ByteWidth: 2}},
		{NewImageURIType(), "mlarrays.image_uri", arrow.BinaryTypes.String},
		{NewEncodedImageType(), "mlarrays.encoded_image", arrow.BinaryTypes.Binary},
		{
			MustFixedShapeImageTensorType(ImageShape{Height: 2, Width: 3, Channels: 3}),
			"mlarrays.fixed_shape_image_tensor",
			arrow.FixedSizeListOf(18, arrow.PrimitiveTypes.Uint8),
		},
	}

	for _, tt := range tests {
		if got := tt.typ.ExtensionName(); got != tt.name {
			t.Errorf("expected extension name %s, got %s", tt.name, got)
		}
		if !arrow.TypeEqual(tt.typ.StorageType(), tt.storage) {
			t.Errorf("%s: expected storage %s, got %s", tt.name, tt.storage, tt.typ.StorageType())
		}
	}
}

func TestRegisterAll(t *testing.T) {
	if err := RegisterAll(); err != nil {
		t.Fatalf("RegisterAll failed: %v", err)
	}
	defer UnregisterAll()

	for _, name := range []string{
		"mlarrays.bfloat16",
		"mlarrays.image_uri",
		"mlarrays.encoded_image",
		"mlarrays.fixed_shape_image_tensor",
	} {
		if arrow.GetExtensionType(name) == nil {
			t.Errorf("type %s not found in registry", name)
		}
	}

	// Double registration must fail and leave the registry intact.
	if err := RegisterAll(); err == nil {
		t.Error("expected error on double registration")
	}
	if arrow.GetExtensionType("mlarrays.bfloat16") == nil {
		t.Error("registry lost mlarrays.bfloat16 after failed re-registration")
	}
}

func TestBFloat16Array(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer mem.AssertSize(t, 0)

	arr := BFloat16FromFloat32s(mem, []float32{0, 1.1, -2.5})
	defer arr.Release()

	if arr.Len() != 3 {
		t.Fatalf("expected 3 elements, got %d", arr.Len())
	}

	want := []float32{0, 1.1015625, -2.5}
	got := arr.Float32Values()
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("element %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestBFloat16BuilderNulls(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer mem.AssertSize(t, 0)

	b := NewBFloat16Builder(mem)
	defer b.Release()

	b.AppendFloat32(1)
	b.ExtensionBuilder.AppendNull()
	b.AppendFloat32(2)

	arr := b.NewBFloat16Array()
	defer arr.Release()

	if arr.Len() != 3 {
		t.Fatalf("expected 3 elements, got %d", arr.Len())
	}
	if !arr.IsNull(1) {
		t.Error("element 1 should be null")
	}
	if arr.IsNull(0) || arr.IsNull(2) {
		t.Error("elements 0 and 2 should be valid")
	}
}

func TestImageURIArrayDoesNotValidate(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer mem.AssertSize(t, 0)

	// Malformed URIs are accepted at construction time.
	uris := []string{"s3://bucket/img.png", "not a uri at all", ""}
	arr := ImageURIFromStrings(mem, uris)
	defer arr.Release()

	for i, want := range uris {
		if got := arr.Value(i); got != want {
			t.Errorf("element %d: got %q, want %q", i, got, want)
		}
	}
}

func TestEncodedImageArray(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer mem.AssertSize(t, 0)

	arr := EncodedImageFromBytes(mem, [][]byte{
		{0xFF, 0xD8, 0xFF, 0x01},
		nil,
		{0x89, 0x50, 0x4E, 0x47},
	})
	defer arr.Release()

	if arr.Len() != 3 {
		t.Fatalf("expected 3 elements, got %d", arr.Len())
	}
	if !arr.IsNull(1) {
		t.Error("element 1 should be null")
	}
	if got := arr.Value(0); len(got) != 4 || got[0] != 0xFF {
		t.Errorf("unexpected bytes for element 0: %v", got)
	}
}

func TestImageShapeValidate(t *testing.T) {
	tests := []struct {
		shape ImageShape
		ok    bool
	}{
		{ImageShape{Height: 2, Width: 2, Channels: 3}, true},
		{ImageShape{Height: 1, Width: 1, Channels: 1}, true},
		{ImageShape{Height: 2, Width: 2, Channels: 4}, true},
		{ImageShape{Height: 0, Width: 2, Channels: 3}, false},
		{ImageShape{Height: 2, Width: -1, Channels: 3}, false},
		{ImageShape{Height: 2, Width: 2, Channels: 2}, false},
		{ImageShape{Height: 2, Width: 2, Channels: 5}, false},
	}

	for _, tt := range tests {
		err := tt.shape.Validate()
		if tt.ok && err != nil {
			t.Errorf("shape %s: unexpected error %v", tt.shape, err)
		}
		if !tt.ok && err == nil {
			t.Errorf("shape %s: expected validation error", tt.shape)
		}
	}
}

func TestTensorBuilderAndValues(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer mem.AssertSize(t, 0)

	typ := MustFixedShapeImageTensorType(ImageShape{Height: 2, Width: 2, Channels: 1})
	b := NewTensorBuilder(mem, typ)
	defer b.Release()

	if err := b.Append([]byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	b.AppendNull()
	if err := b.Append([]byte{5, 6, 7, 8}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	// Wrong element size is rejected.
	if err := b.Append([]byte{1, 2}); err == nil {
		t.Error("expected shape mismatch error")
	}

	arr := b.NewTensorArray()
	defer arr.Release()

	if arr.Len() != 3 {
		t.Fatalf("expected 3 elements, got %d", arr.Len())
	}
	if got := arr.Value(0); got[0] != 1 || got[3] != 4 {
		t.Errorf("unexpected element 0: %v", got)
	}
	if !arr.IsNull(1) {
		t.Error("element 1 should be null")
	}

	stacked, n := arr.Stack()
	if n != 2 {
		t.Errorf("expected 2 stacked elements, got %d", n)
	}
	if len(stacked) != 8 {
		t.Errorf("expected 8 stacked bytes, got %d", len(stacked))
	}
}

func TestTensorImage(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer mem.AssertSize(t, 0)

	typ := MustFixedShapeImageTensorType(ImageShape{Height: 1, Width: 2, Channels: 3})
	b := NewTensorBuilder(mem, typ)
	defer b.Release()

	if err := b.Append([]byte{255, 0, 0, 0, 255, 0}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	arr := b.NewTensorArray()
	defer arr.Release()

	img, err := arr.Image(0)
	if err != nil {
		t.Fatalf("Image failed: %v", err)
	}

	rgba, ok := img.(*image.RGBA)
	if !ok {
		t.Fatalf("expected *image.RGBA, got %T", img)
	}
	r, g, _, a := rgba.At(0, 0).RGBA()
	if r>>8 != 255 || g>>8 != 0 || a>>8 != 255 {
		t.Errorf("pixel (0,0): got r=%d g=%d a=%d", r>>8, g>>8, a>>8)
	}
	r, g, _, _ = rgba.At(1, 0).RGBA()
	if r>>8 != 0 || g>>8 != 255 {
		t.Errorf("pixel (1,0): got r=%d g=%d", r>>8, g>>8)
	}
}

func TestTensorAppendImageRoundTrip(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer mem.AssertSize(t, 0)

	src := image.NewRGBA(image.Rect(0, 0, 2, 2))
	src.Pix = []byte{
		10, 20, 30, 255, 40, 50, 60, 255,
		70, 80, 90, 255, 100, 110, 120, 255,
	}

	typ := MustFixedShapeImageTensorType(ImageShape{Height: 2, Width: 2, Channels: 3})
	b := NewTensorBuilder(mem, typ)
	defer b.Release()

	if err := b.AppendImage(src); err != nil {
		t.Fatalf("AppendImage failed: %v", err)
	}
	arr := b.NewTensorArray()
	defer arr.Release()

	want := []byte{10, 20, 30, 40, 50, 60, 70, 80, 90, 100, 110, 120}
	got := arr.Value(0)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestTensorTypeSerializeDeserialize(t *testing.T) {
	typ := MustFixedShapeImageTensorType(ImageShape{Height: 4, Width: 5, Channels: 3})

	meta := typ.Serialize()
	got, err := typ.Deserialize(arrow.FixedSizeListOf(60, arrow.PrimitiveTypes.Uint8), meta)
	if err != nil {
		t.Fatalf("Deserialize failed: %v", err)
	}
	if !typ.ExtensionEquals(got.(arrow.ExtensionType)) {
		t.Errorf("deserialized type %s does not equal original %s", got, typ)
	}

	// Storage that disagrees with the shape is rejected.
	if _, err := typ.Deserialize(arrow.FixedSizeListOf(12, arrow.PrimitiveTypes.Uint8), meta); err == nil {
		t.Error("expected error for mismatched storage length")
	}

	// Different shapes are not equal even though the name matches.
	other := MustFixedShapeImageTensorType(ImageShape{Height: 5, Width: 4, Channels: 3})
	if typ.ExtensionEquals(other) {
		t.Error("types with different shapes should not be equal")
	}
}
