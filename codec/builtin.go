package codec

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/webp"
)

// Built-in codec priorities. PNG first so lossless formats win ties.
const (
	priorityPNG  = 10
	priorityJPEG = 20
	priorityWebP = 30
)

// JPEGQuality is the quality used by the built-in JPEG encoder.
const JPEGQuality = 90

func init() {
	r := Default()
	// Registration into a fresh registry cannot collide.
	_ = r.RegisterDecoder("png", priorityPNG, decodePNG)
	_ = r.RegisterDecoder("jpeg", priorityJPEG, decodeJPEG)
	_ = r.RegisterDecoder("webp", priorityWebP, decodeWebP)
	_ = r.RegisterEncoder("png", priorityPNG, EncodePNG)
	_ = r.RegisterEncoder("jpeg", priorityJPEG, EncodeJPEG)
}

func decodePNG(data []byte) (image.Image, error) {
	if DetectFormat(data) != FormatPNG {
		return nil, fmt.Errorf("%w: not PNG data", ErrUnknownFormat)
	}
	return png.Decode(bytes.NewReader(data))
}

func decodeJPEG(data []byte) (image.Image, error) {
	if DetectFormat(data) != FormatJPEG {
		return nil, fmt.Errorf("%w: not JPEG data", ErrUnknownFormat)
	}
	return jpeg.Decode(bytes.NewReader(data))
}

func decodeWebP(data []byte) (image.Image, error) {
	if DetectFormat(data) != FormatWebP {
		return nil, fmt.Errorf("%w: not WebP data", ErrUnknownFormat)
	}
	return webp.Decode(bytes.NewReader(data))
}

// EncodePNG encodes an image as PNG.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("png encode: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeJPEG encodes an image as JPEG at JPEGQuality.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("jpeg encode: %w", err)
	}
	return buf.Bytes(), nil
}
