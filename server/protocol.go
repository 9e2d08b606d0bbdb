// Package server provides a TCP server for exchanging Arrow IPC batches
// of the mlarrays extension types.
// This package implements:
// - Length-prefixed framing with a hard size cap
// - A JSON request envelope with op codes and token auth
// - Prometheus metrics for requests and conversions
package server

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// MaxMessageSize is the maximum allowed frame size (50MB). This prevents
// a client from making the server allocate unbounded buffers.
const MaxMessageSize = 50 * 1024 * 1024

// ErrMessageTooLarge is returned when a frame exceeds MaxMessageSize.
var ErrMessageTooLarge = errors.New("message size exceeds maximum allowed size")

// ReadFrame reads a length-prefixed frame from the reader.
// Format: [4 bytes length (BigEndian)] [N bytes payload]
func ReadFrame(r io.Reader) ([]byte, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, err
	}

	if length > MaxMessageSize {
		return nil, fmt.Errorf("%w: %d bytes (max: %d)", ErrMessageTooLarge, length, MaxMessageSize)
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("failed to read frame body: %w", err)
	}
	return buf, nil
}

// WriteFrame writes a length-prefixed frame to the writer.
// Format: [4 bytes length (BigEndian)] [N bytes payload]
func WriteFrame(w io.Writer, data []byte) error {
	if len(data) > math.MaxUint32 {
		return fmt.Errorf("%w: data length %d exceeds uint32 max", ErrMessageTooLarge, len(data))
	}
	if len(data) > MaxMessageSize {
		return fmt.Errorf("%w: %d bytes (max: %d)", ErrMessageTooLarge, len(data), MaxMessageSize)
	}

	length := uint32(len(data))
	if err := binary.Write(w, binary.BigEndian, length); err != nil {
		return fmt.Errorf("failed to write frame length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write frame body: %w", err)
	}
	return nil
}
