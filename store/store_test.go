package store

import (
	"errors"
	"testing"
)

func openTestStore(t *testing.T, opts Options) *BlobStore {
	t.Helper()
	s, err := Open(opts)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})
	return s
}

func TestPutGetDelete(t *testing.T) {
	s := openTestStore(t, Options{})

	data := []byte{0x89, 0x50, 0x4E, 0x47, 1, 2, 3}
	if err := s.Put("cats/0001.png", data); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := s.Get("cats/0001.png")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("Get returned %v, want %v", got, data)
	}

	if err := s.Delete("cats/0001.png"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get("cats/0001.png"); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("expected ErrBlobNotFound after delete, got %v", err)
	}
}

func TestGetMissing(t *testing.T) {
	s := openTestStore(t, Options{})
	if _, err := s.Get("nope"); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("expected ErrBlobNotFound, got %v", err)
	}
}

func TestReservedKeyRejected(t *testing.T) {
	s := openTestStore(t, Options{})
	if err := s.Put("!manifest", []byte{1}); !errors.Is(err, ErrReservedKey) {
		t.Errorf("expected ErrReservedKey, got %v", err)
	}
}

func TestListWithPrefix(t *testing.T) {
	s := openTestStore(t, Options{})

	for _, name := range []string{"cats/1", "cats/2", "dogs/1"} {
		if err := s.Put(name, []byte{1}); err != nil {
			t.Fatalf("Put %s failed: %v", name, err)
		}
	}

	names, err := s.List("cats/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("expected 2 names, got %v", names)
	}
	if names[0] != "cats/1" || names[1] != "cats/2" {
		t.Errorf("unexpected names %v", names)
	}

	all, err := s.List("")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	// The manifest key must never leak into listings.
	for _, n := range all {
		if n == "!manifest" {
			t.Error("manifest key leaked into List")
		}
	}
	if len(all) != 3 {
		t.Errorf("expected 3 names, got %v", all)
	}
}

func TestChecksumsDetectCorruption(t *testing.T) {
	s := openTestStore(t, Options{Checksums: true})

	if err := s.Put("img", []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, err := s.Get("img"); err != nil {
		t.Fatalf("Get of intact blob failed: %v", err)
	}

	// Manifest must advertise the checksum feature to readers and writers.
	m := s.Manifest()
	if m.ReaderFeatureFlags&FlagChecksums == 0 {
		t.Error("reader flags missing FlagChecksums")
	}
	if m.WriterFeatureFlags&FlagChecksums == 0 {
		t.Error("writer flags missing FlagChecksums")
	}
}

func TestReadOnlyRefusesWrites(t *testing.T) {
	s := openTestStore(t, Options{ReadOnly: true})

	if err := s.Put("img", []byte{1}); !errors.Is(err, ErrReadOnly) {
		t.Errorf("Put: expected ErrReadOnly, got %v", err)
	}
	if err := s.Delete("img"); !errors.Is(err, ErrReadOnly) {
		t.Errorf("Delete: expected ErrReadOnly, got %v", err)
	}
}

func TestFeatureFlagGates(t *testing.T) {
	if !CanRead(0) {
		t.Error("flagless store should be readable")
	}
	if !CanRead(FlagChecksums) || !CanRead(FlagChecksums|FlagNamedDatasets) {
		t.Error("known flags should be readable")
	}
	if CanRead(FlagUnknown) {
		t.Error("unknown flag should not be readable")
	}
	if CanRead(FlagUnknown | FlagChecksums) {
		t.Error("mixed unknown flags should not be readable")
	}

	if !CanWrite(0) || !CanWrite(FlagChecksums) {
		t.Error("known writer flags should be writable")
	}
	if CanWrite(FlagUnknown) {
		t.Error("unknown writer flag should not be writable")
	}
}

func TestManifestCompatibilityCheck(t *testing.T) {
	m := Manifest{Version: manifestVersion, ReaderFeatureFlags: FlagUnknown}
	if err := m.checkCompatible(false); !errors.Is(err, ErrUnsupportedStore) {
		t.Errorf("expected ErrUnsupportedStore for unknown reader flags, got %v", err)
	}

	m = Manifest{Version: manifestVersion, WriterFeatureFlags: FlagUnknown}
	if err := m.checkCompatible(false); err != nil {
		t.Errorf("read-only open should tolerate unknown writer flags, got %v", err)
	}
	if err := m.checkCompatible(true); !errors.Is(err, ErrUnsupportedStore) {
		t.Errorf("expected ErrUnsupportedStore for unknown writer flags on write, got %v", err)
	}
}
