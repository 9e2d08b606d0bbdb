// Package convert implements the array conversion chain:
// URI array -> encoded image array -> fixed shape tensor array -> encoded
// image array. Conversions run on a bounded worker pool, preserve element
// order and propagate nulls.
package convert

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog"
	"golang.org/x/image/draw"

	"github.com/mvanberg/mlarrays/codec"
	"github.com/mvanberg/mlarrays/fetch"
	"github.com/mvanberg/mlarrays/types"
)

// Conversion errors
var (
	ErrNoFetcher  = errors.New("no fetcher configured")
	ErrEmptyArray = errors.New("array has no valid elements")
)

// Options configures a conversion. Use the With* functions.
type Options struct {
	mem         memory.Allocator
	parallelism int
	registry    *codec.Registry
	decoder     codec.Decoder
	encoder     codec.Encoder
	fetcher     *fetch.Fetcher
	shape       *types.ImageShape
	log         zerolog.Logger
}

// Option adjusts conversion options.
type Option func(*Options)

// WithAllocator sets the Arrow allocator for result arrays.
func WithAllocator(mem memory.Allocator) Option {
	return func(o *Options) { o.mem = mem }
}

// WithParallelism bounds the number of concurrent element conversions.
func WithParallelism(n int) Option {
	return func(o *Options) { o.parallelism = n }
}

// WithRegistry replaces the default codec registry.
func WithRegistry(r *codec.Registry) Option {
	return func(o *Options) { o.registry = r }
}

// WithDecoder supplies a user decoder, bypassing the fallback chain.
func WithDecoder(d codec.Decoder) Option {
	return func(o *Options) { o.decoder = d }
}

// WithEncoder supplies a user encoder, bypassing the fallback chain.
func WithEncoder(e codec.Encoder) Option {
	return func(o *Options) { o.encoder = e }
}

// WithFetcher sets the URI fetcher for ReadURIs.
func WithFetcher(f *fetch.Fetcher) Option {
	return func(o *Options) { o.fetcher = f }
}

// WithShape forces every decoded image to the given shape, resizing with
// bilinear interpolation when the source size differs.
func WithShape(shape types.ImageShape) Option {
	return func(o *Options) { o.shape = &shape }
}

// WithLogger sets the conversion logger.
func WithLogger(log zerolog.Logger) Option {
	return func(o *Options) { o.log = log }
}

func buildOptions(opts []Option) Options {
	o := Options{
		mem:      memory.DefaultAllocator,
		registry: codec.Default(),
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ReadURIs fetches every URI in the array and returns the encoded image
// bytes. Null URIs become null encoded images.
func ReadURIs(ctx context.Context, uris *types.ImageURIArray, opts ...Option) (*types.EncodedImageArray, error) {
	o := buildOptions(opts)
	if o.fetcher == nil {
		return nil, ErrNoFetcher
	}

	n := uris.Len()
	results := make([][]byte, n)

	p := newPool(o.parallelism)
	err := p.run(ctx, n, func(ctx context.Context, i int) error {
		if uris.IsNull(i) {
			return nil
		}
		data, err := o.fetcher.Fetch(ctx, uris.Value(i))
		if err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
		results[i] = data
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.log.Debug().Int("elements", n).Interface("stats", p.stats()).Msg("read uris")
	return buildEncoded(o.mem, uris, results), nil
}

// DecodeImages decodes every encoded image into a fixed-shape tensor.
// A user decoder (WithDecoder) takes precedence over the registry chain.
// Without WithShape the shape is inferred from the first valid element
// and every other element must match it.
func DecodeImages(ctx context.Context, images *types.EncodedImageArray, opts ...Option) (*types.FixedShapeImageTensorArray, error) {
	o := buildOptions(opts)

	n := images.Len()
	decoded := make([]image.Image, n)

	p := newPool(o.parallelism)
	err := p.run(ctx, n, func(ctx context.Context, i int) error {
		if images.IsNull(i) {
			return nil
		}
		img, err := o.registry.Decode(images.Value(i), o.decoder)
		if err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
		decoded[i] = img
		return nil
	})
	if err != nil {
		return nil, err
	}

	shape, err := resolveShape(o.shape, decoded)
	if err != nil {
		return nil, err
	}

	typ, err := types.NewFixedShapeImageTensorType(shape)
	if err != nil {
		return nil, err
	}

	b := types.NewTensorBuilder(o.mem, typ)
	defer b.Release()

	for i, img := range decoded {
		if img == nil {
			b.AppendNull()
			continue
		}
		img = conformImage(img, shape)
		if err := b.AppendImage(img); err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
	}

	o.log.Debug().Int("elements", n).Stringer("shape", shape).Msg("decoded images")
	return b.NewTensorArray(), nil
}

// EncodeTensors encodes every tensor element back into compressed image
// bytes. A user encoder (WithEncoder) takes precedence; the default chain
// produces PNG.
func EncodeTensors(ctx context.Context, tensors *types.FixedShapeImageTensorArray, opts ...Option) (*types.EncodedImageArray, error) {
	o := buildOptions(opts)

	n := tensors.Len()
	results := make([][]byte, n)

	p := newPool(o.parallelism)
	err := p.run(ctx, n, func(ctx context.Context, i int) error {
		if tensors.IsNull(i) {
			return nil
		}
		img, err := tensors.Image(i)
		if err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
		data, err := o.registry.Encode(img, o.encoder)
		if err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
		results[i] = data
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.log.Debug().Int("elements", n).Msg("encoded tensors")
	return buildEncodedFromValues(o.mem, results, validityOf(tensors)), nil
}

// resolveShape picks the target shape: the forced shape if set, otherwise
// the shape of the first decoded element.
func resolveShape(forced *types.ImageShape, decoded []image.Image) (types.ImageShape, error) {
	if forced != nil {
		return *forced, forced.Validate()
	}

	for _, img := range decoded {
		if img == nil {
			continue
		}
		shape := shapeOf(img)
		// Every remaining element must agree.
		for j, other := range decoded {
			if other == nil {
				continue
			}
			if got := shapeOf(other); got != shape {
				return types.ImageShape{}, fmt.Errorf("%w: element %d is %s, expected %s (use WithShape to resize)",
					types.ErrShapeMismatch, j, got, shape)
			}
		}
		return shape, nil
	}
	return types.ImageShape{}, ErrEmptyArray
}

// shapeOf derives the tensor shape of a decoded image. Grayscale images
// map to one channel, everything else to three.
func shapeOf(img image.Image) types.ImageShape {
	bounds := img.Bounds()
	channels := 3
	if _, ok := img.(*image.Gray); ok {
		channels = 1
	}
	return types.ImageShape{Height: bounds.Dy(), Width: bounds.Dx(), Channels: channels}
}

// conformImage resizes img to the target shape if needed.
func conformImage(img image.Image, shape types.ImageShape) image.Image {
	bounds := img.Bounds()
	if bounds.Dx() == shape.Width && bounds.Dy() == shape.Height {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, shape.Width, shape.Height))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}

func buildEncoded(mem memory.Allocator, src arrow.Array, values [][]byte) *types.EncodedImageArray {
	valid := make([]bool, src.Len())
	for i := range valid {
		valid[i] = src.IsValid(i)
	}
	return buildEncodedFromValues(mem, values, valid)
}

func validityOf(src arrow.Array) []bool {
	valid := make([]bool, src.Len())
	for i := range valid {
		valid[i] = src.IsValid(i)
	}
	return valid
}

func buildEncodedFromValues(mem memory.Allocator, values [][]byte, valid []bool) *types.EncodedImageArray {
	bb := array.NewBinaryBuilder(mem, arrow.BinaryTypes.Binary)
	defer bb.Release()
	for i, v := range values {
		if !valid[i] || v == nil {
			bb.AppendNull()
			continue
		}
		bb.Append(v)
	}
	storage := bb.NewBinaryArray()
	defer storage.Release()

	return array.NewExtensionArrayWithStorage(types.NewEncodedImageType(), storage).(*types.EncodedImageArray)
}
