package convert

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/mvanberg/mlarrays/codec"
	"github.com/mvanberg/mlarrays/fetch"
	"github.com/mvanberg/mlarrays/types"
)

// encodedFixture returns an EncodedImageArray with n PNG images of the
// given size, plus a null at index 1 when withNull is set.
func encodedFixture(t *testing.T, mem memory.Allocator, n, w, h int, withNull bool) *types.EncodedImageArray {
	t.Helper()

	var buffers [][]byte
	for i := 0; i < n; i++ {
		if withNull && i == 1 {
			buffers = append(buffers, nil)
			continue
		}
		img := image.NewRGBA(image.Rect(0, 0, w, h))
		for p := range img.Pix {
			img.Pix[p] = uint8((p + i) % 256)
		}
		data, err := codec.EncodePNG(img)
		if err != nil {
			t.Fatalf("EncodePNG failed: %v", err)
		}
		buffers = append(buffers, data)
	}
	return types.EncodedImageFromBytes(mem, buffers)
}

func TestDecodeImagesInfersShape(t *testing.T) {
	mem := memory.DefaultAllocator
	encoded := encodedFixture(t, mem, 3, 4, 2, false)
	defer encoded.Release()

	tensors, err := DecodeImages(context.Background(), encoded)
	if err != nil {
		t.Fatalf("DecodeImages failed: %v", err)
	}
	defer tensors.Release()

	want := types.ImageShape{Height: 2, Width: 4, Channels: 3}
	if tensors.Shape() != want {
		t.Errorf("shape %s, want %s", tensors.Shape(), want)
	}
	if tensors.Len() != 3 {
		t.Errorf("len %d, want 3", tensors.Len())
	}
}

func TestDecodeImagesPropagatesNulls(t *testing.T) {
	mem := memory.DefaultAllocator
	encoded := encodedFixture(t, mem, 3, 2, 2, true)
	defer encoded.Release()

	tensors, err := DecodeImages(context.Background(), encoded)
	if err != nil {
		t.Fatalf("DecodeImages failed: %v", err)
	}
	defer tensors.Release()

	if !tensors.IsNull(1) {
		t.Error("null input element should produce null tensor")
	}
	if tensors.IsNull(0) || tensors.IsNull(2) {
		t.Error("valid elements should stay valid")
	}
}

func TestDecodeImagesWithShapeResizes(t *testing.T) {
	mem := memory.DefaultAllocator
	encoded := encodedFixture(t, mem, 2, 8, 8, false)
	defer encoded.Release()

	shape := types.ImageShape{Height: 4, Width: 4, Channels: 3}
	tensors, err := DecodeImages(context.Background(), encoded, WithShape(shape))
	if err != nil {
		t.Fatalf("DecodeImages failed: %v", err)
	}
	defer tensors.Release()

	if tensors.Shape() != shape {
		t.Errorf("shape %s, want %s", tensors.Shape(), shape)
	}
	if len(tensors.Value(0)) != shape.ElemLen() {
		t.Errorf("element length %d, want %d", len(tensors.Value(0)), shape.ElemLen())
	}
}

func TestDecodeImagesMixedSizesWithoutShapeFails(t *testing.T) {
	mem := memory.DefaultAllocator

	small, err := codec.EncodePNG(image.NewRGBA(image.Rect(0, 0, 2, 2)))
	if err != nil {
		t.Fatal(err)
	}
	big, err := codec.EncodePNG(image.NewRGBA(image.Rect(0, 0, 4, 4)))
	if err != nil {
		t.Fatal(err)
	}

	encoded := types.EncodedImageFromBytes(mem, [][]byte{small, big})
	defer encoded.Release()

	if _, err := DecodeImages(context.Background(), encoded); !errors.Is(err, types.ErrShapeMismatch) {
		t.Errorf("expected ErrShapeMismatch, got %v", err)
	}
}

func TestDecodeImagesUserDecoder(t *testing.T) {
	mem := memory.DefaultAllocator
	encoded := types.EncodedImageFromBytes(mem, [][]byte{{0xAA}, {0xBB}})
	defer encoded.Release()

	// The user decoder handles a format no registered codec knows.
	user := func(data []byte) (image.Image, error) {
		img := image.NewGray(image.Rect(0, 0, 1, 1))
		img.Pix[0] = data[0]
		return img, nil
	}

	tensors, err := DecodeImages(context.Background(), encoded, WithDecoder(user))
	if err != nil {
		t.Fatalf("DecodeImages failed: %v", err)
	}
	defer tensors.Release()

	want := types.ImageShape{Height: 1, Width: 1, Channels: 1}
	if tensors.Shape() != want {
		t.Errorf("shape %s, want %s", tensors.Shape(), want)
	}
	if got := tensors.Value(0)[0]; got != 0xAA {
		t.Errorf("element 0: got %#x, want 0xAA", got)
	}
	if got := tensors.Value(1)[0]; got != 0xBB {
		t.Errorf("element 1: got %#x, want 0xBB", got)
	}
}

func TestDecodeImagesNoCodec(t *testing.T) {
	mem := memory.DefaultAllocator
	encoded := types.EncodedImageFromBytes(mem, [][]byte{{0xDE, 0xAD, 0xBE, 0xEF}})
	defer encoded.Release()

	// Empty registry and no user decoder: the documented failure mode.
	if _, err := DecodeImages(context.Background(), encoded, WithRegistry(&codec.Registry{})); !errors.Is(err, codec.ErrNoCodec) {
		t.Errorf("expected ErrNoCodec, got %v", err)
	}
}

func TestEncodeTensorsRoundTrip(t *testing.T) {
	mem := memory.DefaultAllocator
	encoded := encodedFixture(t, mem, 2, 3, 3, false)
	defer encoded.Release()

	tensors, err := DecodeImages(context.Background(), encoded)
	if err != nil {
		t.Fatalf("DecodeImages failed: %v", err)
	}
	defer tensors.Release()

	reencoded, err := EncodeTensors(context.Background(), tensors)
	if err != nil {
		t.Fatalf("EncodeTensors failed: %v", err)
	}
	defer reencoded.Release()

	if reencoded.Len() != 2 {
		t.Fatalf("len %d, want 2", reencoded.Len())
	}
	if codec.DetectFormat(reencoded.Value(0)) != codec.FormatPNG {
		t.Error("default encoding should be PNG")
	}

	// PNG is lossless, so decoding again must reproduce the tensors.
	again, err := DecodeImages(context.Background(), reencoded)
	if err != nil {
		t.Fatalf("second DecodeImages failed: %v", err)
	}
	defer again.Release()

	for i := 0; i < tensors.Len(); i++ {
		a, b := tensors.Value(i), again.Value(i)
		for j := range a {
			if a[j] != b[j] {
				t.Fatalf("element %d byte %d: %d != %d", i, j, a[j], b[j])
			}
		}
	}
}

func TestReadURIs(t *testing.T) {
	mem := memory.DefaultAllocator
	dir := t.TempDir()

	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	data, err := codec.EncodePNG(img)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "a.png")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	uris := types.ImageURIFromPtrs(mem, []*string{&path, nil})
	defer uris.Release()

	encoded, err := ReadURIs(context.Background(), uris, WithFetcher(fetch.New(fetch.Options{})))
	if err != nil {
		t.Fatalf("ReadURIs failed: %v", err)
	}
	defer encoded.Release()

	if encoded.Len() != 2 {
		t.Fatalf("len %d, want 2", encoded.Len())
	}
	if len(encoded.Value(0)) != len(data) {
		t.Errorf("element 0 has %d bytes, want %d", len(encoded.Value(0)), len(data))
	}
	if !encoded.IsNull(1) {
		t.Error("null URI should produce null encoded image")
	}
}

func TestReadURIsRequiresFetcher(t *testing.T) {
	mem := memory.DefaultAllocator
	uris := types.ImageURIFromStrings(mem, []string{"/tmp/x.png"})
	defer uris.Release()

	if _, err := ReadURIs(context.Background(), uris); !errors.Is(err, ErrNoFetcher) {
		t.Errorf("expected ErrNoFetcher, got %v", err)
	}
}

func TestReadURIsFailureSurfacesElement(t *testing.T) {
	mem := memory.DefaultAllocator
	uris := types.ImageURIFromStrings(mem, []string{"/no/such/file.png"})
	defer uris.Release()

	if _, err := ReadURIs(context.Background(), uris, WithFetcher(fetch.New(fetch.Options{}))); err == nil {
		t.Error("expected error for missing file")
	}
}
