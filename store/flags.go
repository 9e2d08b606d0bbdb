package store

import "fmt"

// Feature flags recorded in the store manifest. A reader must refuse a
// store whose reader flags contain bits it does not know; same for
// writers. New flags must be added before FlagUnknown.
const (
	// FlagChecksums marks stores whose blobs carry a CRC32 trailer that
	// readers must verify.
	FlagChecksums uint64 = 1
	// FlagNamedDatasets marks stores whose keys are namespaced by
	// dataset prefix.
	FlagNamedDatasets uint64 = 2
	// FlagUnknown is the first bit not assigned to any feature.
	FlagUnknown uint64 = 4
)

// CanRead reports whether a reader knowing the current flags can safely
// read a store with the given reader feature flags.
func CanRead(readerFlags uint64) bool {
	return readerFlags < FlagUnknown
}

// CanWrite reports whether a writer knowing the current flags can safely
// modify a store with the given writer feature flags.
func CanWrite(writerFlags uint64) bool {
	return writerFlags < FlagUnknown
}

// Manifest describes a blob store. It is persisted as JSON under a
// reserved key inside the store itself.
type Manifest struct {
	Version            int    `json:"version"`
	ReaderFeatureFlags uint64 `json:"reader_feature_flags"`
	WriterFeatureFlags uint64 `json:"writer_feature_flags"`
}

// applyFeatureFlags recomputes the manifest flags from the store
// configuration. Flags are reset first so disabled features drop out.
func (m *Manifest) applyFeatureFlags(checksums bool, namespaced bool) {
	m.ReaderFeatureFlags = 0
	m.WriterFeatureFlags = 0

	if checksums {
		// Both readers and writers must understand the trailer.
		m.ReaderFeatureFlags |= FlagChecksums
		m.WriterFeatureFlags |= FlagChecksums
	}
	if namespaced {
		m.WriterFeatureFlags |= FlagNamedDatasets
	}
}

// checkCompatible validates the manifest against what this build knows.
func (m *Manifest) checkCompatible(forWrite bool) error {
	if !CanRead(m.ReaderFeatureFlags) {
		return fmt.Errorf("%w: reader flags %b", ErrUnsupportedStore, m.ReaderFeatureFlags)
	}
	if forWrite && !CanWrite(m.WriterFeatureFlags) {
		return fmt.Errorf("%w: writer flags %b", ErrUnsupportedStore, m.WriterFeatureFlags)
	}
	return nil
}
