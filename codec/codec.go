// Package codec provides pluggable image decoding and encoding.
// This package implements:
// - Decoder/Encoder function types with a named, priority-ordered registry
// - Fallback-chain resolution: user codec first, then registered codecs
// - Built-in PNG, JPEG and WebP codecs
package codec

import (
	"errors"
	"fmt"
	"image"
	"sort"
	"sync"
)

// Codec errors
var (
	ErrNoCodec       = errors.New("no decoder or encoder available")
	ErrCodecExists   = errors.New("codec already registered")
	ErrCodecNotFound = errors.New("codec not found")
)

// Decoder decodes compressed image bytes into an image.
type Decoder func(data []byte) (image.Image, error)

// Encoder encodes an image into compressed bytes.
type Encoder func(img image.Image) ([]byte, error)

type registeredDecoder struct {
	name     string
	priority int
	decode   Decoder
}

type registeredEncoder struct {
	name     string
	priority int
	encode   Encoder
}

// Registry holds named codecs ordered by priority. Lower priority values
// are tried first. A zero Registry is ready to use.
type Registry struct {
	mu       sync.RWMutex
	decoders []registeredDecoder
	encoders []registeredEncoder
}

// defaultRegistry serves the package-level functions. Built-in codecs are
// registered into it at init.
var defaultRegistry = &Registry{}

// Default returns the process-wide registry.
func Default() *Registry { return defaultRegistry }

// RegisterDecoder adds a named decoder at the given priority.
func (r *Registry) RegisterDecoder(name string, priority int, d Decoder) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rd := range r.decoders {
		if rd.name == name {
			return fmt.Errorf("%w: decoder %s", ErrCodecExists, name)
		}
	}
	r.decoders = append(r.decoders, registeredDecoder{name: name, priority: priority, decode: d})
	sort.SliceStable(r.decoders, func(i, j int) bool {
		return r.decoders[i].priority < r.decoders[j].priority
	})
	return nil
}

// RegisterEncoder adds a named encoder at the given priority.
func (r *Registry) RegisterEncoder(name string, priority int, e Encoder) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, re := range r.encoders {
		if re.name == name {
			return fmt.Errorf("%w: encoder %s", ErrCodecExists, name)
		}
	}
	r.encoders = append(r.encoders, registeredEncoder{name: name, priority: priority, encode: e})
	sort.SliceStable(r.encoders, func(i, j int) bool {
		return r.encoders[i].priority < r.encoders[j].priority
	})
	return nil
}

// UnregisterDecoder removes a named decoder.
func (r *Registry) UnregisterDecoder(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, rd := range r.decoders {
		if rd.name == name {
			r.decoders = append(r.decoders[:i], r.decoders[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: decoder %s", ErrCodecNotFound, name)
}

// UnregisterEncoder removes a named encoder.
func (r *Registry) UnregisterEncoder(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, re := range r.encoders {
		if re.name == name {
			r.encoders = append(r.encoders[:i], r.encoders[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: encoder %s", ErrCodecNotFound, name)
}

// DecoderNames returns the registered decoder names in priority order.
func (r *Registry) DecoderNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.decoders))
	for i, rd := range r.decoders {
		names[i] = rd.name
	}
	return names
}

// Decode decodes data with the user decoder if provided, otherwise tries
// every registered decoder in priority order. It returns ErrNoCodec when
// no decoder is available or every decoder failed.
func (r *Registry) Decode(data []byte, user Decoder) (image.Image, error) {
	if user != nil {
		return user(data)
	}

	r.mu.RLock()
	decoders := make([]registeredDecoder, len(r.decoders))
	copy(decoders, r.decoders)
	r.mu.RUnlock()

	var lastErr error
	for _, rd := range decoders {
		img, err := rd.decode(data)
		if err == nil {
			return img, nil
		}
		lastErr = fmt.Errorf("decoder %s: %w", rd.name, err)
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoCodec, lastErr)
	}
	return nil, ErrNoCodec
}

// Encode encodes img with the user encoder if provided, otherwise tries
// every registered encoder in priority order. It returns ErrNoCodec when
// no encoder is available or every encoder failed.
func (r *Registry) Encode(img image.Image, user Encoder) ([]byte, error) {
	if user != nil {
		return user(img)
	}

	r.mu.RLock()
	encoders := make([]registeredEncoder, len(r.encoders))
	copy(encoders, r.encoders)
	r.mu.RUnlock()

	var lastErr error
	for _, re := range encoders {
		data, err := re.encode(img)
		if err == nil {
			return data, nil
		}
		lastErr = fmt.Errorf("encoder %s: %w", re.name, err)
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoCodec, lastErr)
	}
	return nil, ErrNoCodec
}

// Decode resolves against the default registry.
func Decode(data []byte, user Decoder) (image.Image, error) {
	return defaultRegistry.Decode(data, user)
}

// Encode resolves against the default registry.
func Encode(img image.Image, user Encoder) ([]byte, error) {
	return defaultRegistry.Encode(img, user)
}
