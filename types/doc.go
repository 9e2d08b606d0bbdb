// Package types provides Arrow extension types for machine-learning data.
// This package implements:
// - BFloat16Type: 16-bit brain floating point over FixedSizeBinary(2)
// - ImageURIType: external image references over Utf8
// - EncodedImageType: compressed image bytes over Binary
// - FixedShapeImageTensorType: decoded images over FixedSizeList<uint8>
package types
