// Package store provides a Badger-backed blob store for encoded images.
// This package implements:
// - Put/Get/Delete/List of image blobs keyed by name
// - A JSON manifest with reader/writer feature flags
// - Optional CRC32 blob trailers gated by a feature flag
package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
)

// Store errors
var (
	ErrBlobNotFound     = errors.New("blob not found")
	ErrUnsupportedStore = errors.New("store uses unsupported features")
	ErrChecksumMismatch = errors.New("blob checksum mismatch")
	ErrReadOnly         = errors.New("store is opened read-only")
	ErrReservedKey      = errors.New("blob name is reserved")
)

// manifestKey is reserved; blob names must not start with '!'.
const manifestKey = "!manifest"

const manifestVersion = 1

// Options configures a blob store.
type Options struct {
	// Path is the Badger directory. Empty means in-memory.
	Path string
	// ReadOnly refuses Put and Delete.
	ReadOnly bool
	// Checksums appends a CRC32 trailer to every blob and verifies it
	// on read. Sets FlagChecksums in the manifest.
	Checksums bool
}

// BlobStore stores encoded image bytes in Badger.
type BlobStore struct {
	db       *badger.DB
	manifest Manifest
	opts     Options
}

// Open opens or creates a blob store. Opening fails if the existing
// manifest carries feature flags this build does not understand.
func Open(opts Options) (*BlobStore, error) {
	bopts := badger.DefaultOptions(opts.Path).WithLogger(nil)
	if opts.Path == "" {
		bopts = bopts.WithInMemory(true)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %q: %w", opts.Path, err)
	}

	s := &BlobStore{db: db, opts: opts}
	if err := s.loadOrInitManifest(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *BlobStore) loadOrInitManifest() error {
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(manifestKey))
		if err != nil {
			return err
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, &s.manifest)
	})

	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		// Fresh store: write a manifest reflecting our options.
		s.manifest = Manifest{Version: manifestVersion}
		s.manifest.applyFeatureFlags(s.opts.Checksums, false)
		if s.opts.ReadOnly {
			return nil
		}
		return s.writeManifest()
	case err != nil:
		return fmt.Errorf("failed to load manifest: %w", err)
	}

	if err := s.manifest.checkCompatible(!s.opts.ReadOnly); err != nil {
		return err
	}
	// Honor the existing store's checksum setting over our own.
	s.opts.Checksums = s.manifest.ReaderFeatureFlags&FlagChecksums != 0
	return nil
}

func (s *BlobStore) writeManifest() error {
	raw, err := json.Marshal(&s.manifest)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(manifestKey), raw)
	})
}

// Manifest returns a copy of the store manifest.
func (s *BlobStore) Manifest() Manifest { return s.manifest }

// Put stores a blob under name.
func (s *BlobStore) Put(name string, data []byte) error {
	if s.opts.ReadOnly {
		return ErrReadOnly
	}
	if strings.HasPrefix(name, "!") {
		return fmt.Errorf("%w: %q", ErrReservedKey, name)
	}

	value := data
	if s.opts.Checksums {
		value = make([]byte, len(data)+4)
		copy(value, data)
		binary.BigEndian.PutUint32(value[len(data):], crc32.ChecksumIEEE(data))
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(name), value)
	})
}

// Get returns the blob stored under name.
func (s *BlobStore) Get(name string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(name))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %q", ErrBlobNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %q: %w", name, err)
	}

	if s.opts.Checksums {
		if len(value) < 4 {
			return nil, fmt.Errorf("%w: %q too short for trailer", ErrChecksumMismatch, name)
		}
		data, trailer := value[:len(value)-4], value[len(value)-4:]
		if crc32.ChecksumIEEE(data) != binary.BigEndian.Uint32(trailer) {
			return nil, fmt.Errorf("%w: %q", ErrChecksumMismatch, name)
		}
		return data, nil
	}
	return value, nil
}

// Delete removes the blob stored under name. Deleting an absent blob is
// not an error.
func (s *BlobStore) Delete(name string) error {
	if s.opts.ReadOnly {
		return ErrReadOnly
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(name))
	})
}

// List returns the blob names with the given prefix, in key order.
func (s *BlobStore) List(prefix string) ([]string, error) {
	var names []string
	err := s.db.View(func(txn *badger.Txn) error {
		iopts := badger.DefaultIteratorOptions
		iopts.PrefetchValues = false
		it := txn.NewIterator(iopts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			if key == manifestKey {
				continue
			}
			if !strings.HasPrefix(key, prefix) {
				continue
			}
			names = append(names, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list blobs: %w", err)
	}
	return names, nil
}

// Close closes the underlying Badger database.
func (s *BlobStore) Close() error {
	return s.db.Close()
}
