// Package ipc provides Arrow IPC serialization for record batches that
// carry the mlarrays extension types. Extension metadata survives the
// round trip as long as the types are registered (types.RegisterAll).
package ipc

import (
	"bytes"
	"fmt"
	"os"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Codec reads and writes Arrow IPC streams.
type Codec struct {
	mem memory.Allocator
}

// NewCodec creates a Codec with the default allocator.
func NewCodec() *Codec {
	return &Codec{mem: memory.DefaultAllocator}
}

// NewCodecWithAllocator creates a Codec with a custom allocator.
func NewCodecWithAllocator(mem memory.Allocator) *Codec {
	return &Codec{mem: mem}
}

// Serialize serializes a single record to IPC stream bytes.
func (c *Codec) Serialize(record arrow.Record) ([]byte, error) {
	var buf bytes.Buffer

	writer := ipc.NewWriter(&buf, ipc.WithSchema(record.Schema()), ipc.WithAllocator(c.mem))
	defer writer.Close()

	if err := writer.Write(record); err != nil {
		return nil, fmt.Errorf("failed to write record: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close writer: %w", err)
	}
	return buf.Bytes(), nil
}

// Deserialize reads the first record from IPC stream bytes. The record
// is retained; the caller must Release it.
func (c *Codec) Deserialize(data []byte) (arrow.Record, error) {
	reader, err := ipc.NewReader(bytes.NewReader(data), ipc.WithAllocator(c.mem))
	if err != nil {
		return nil, fmt.Errorf("failed to create reader: %w", err)
	}
	defer reader.Release()

	if !reader.Next() {
		if reader.Err() != nil {
			return nil, reader.Err()
		}
		return nil, fmt.Errorf("no records in IPC data")
	}

	record := reader.Record()
	record.Retain()
	return record, nil
}

// SerializeAll serializes multiple records sharing one schema.
func (c *Codec) SerializeAll(records []arrow.Record) ([]byte, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("no records to serialize")
	}

	var buf bytes.Buffer
	writer := ipc.NewWriter(&buf, ipc.WithSchema(records[0].Schema()), ipc.WithAllocator(c.mem))
	defer writer.Close()

	for i, record := range records {
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close writer: %w", err)
	}
	return buf.Bytes(), nil
}

// DeserializeAll reads every record from IPC stream bytes. All records
// are retained; the caller must Release them.
func (c *Codec) DeserializeAll(data []byte) ([]arrow.Record, error) {
	reader, err := ipc.NewReader(bytes.NewReader(data), ipc.WithAllocator(c.mem))
	if err != nil {
		return nil, fmt.Errorf("failed to create reader: %w", err)
	}
	defer reader.Release()

	var records []arrow.Record
	for reader.Next() {
		record := reader.Record()
		record.Retain()
		records = append(records, record)
	}

	if reader.Err() != nil {
		for _, r := range records {
			r.Release()
		}
		return nil, reader.Err()
	}
	return records, nil
}

// WriteFile writes records to an IPC stream file.
func (c *Codec) WriteFile(path string, records []arrow.Record) error {
	data, err := c.SerializeAll(records)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %q: %w", path, err)
	}
	return nil
}

// ReadFile reads every record from an IPC stream file.
func (c *Codec) ReadFile(path string) ([]arrow.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", path, err)
	}
	return c.DeserializeAll(data)
}
