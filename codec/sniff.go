package codec

import "errors"

// Format identifies a supported compressed image format.
type Format string

const (
	FormatJPEG    Format = "jpeg"
	FormatPNG     Format = "png"
	FormatWebP    Format = "webp"
	FormatUnknown Format = "unknown"
)

// Magic byte signatures for format sniffing
var (
	magicJPEG = []byte{0xFF, 0xD8, 0xFF}
	magicPNG  = []byte{0x89, 0x50, 0x4E, 0x47}
	magicRIFF = []byte{0x52, 0x49, 0x46, 0x46}
)

// ErrUnknownFormat is returned when the format cannot be determined.
var ErrUnknownFormat = errors.New("unknown image format")

// DetectFormat sniffs the compressed format from the leading magic bytes.
func DetectFormat(data []byte) Format {
	if len(data) < 4 {
		return FormatUnknown
	}

	switch {
	case matchesMagic(data, magicJPEG):
		return FormatJPEG
	case matchesMagic(data, magicPNG):
		return FormatPNG
	case matchesMagic(data, magicRIFF) && isWebP(data):
		return FormatWebP
	default:
		return FormatUnknown
	}
}

func matchesMagic(data, magic []byte) bool {
	if len(data) < len(magic) {
		return false
	}
	for i, b := range magic {
		if data[i] != b {
			return false
		}
	}
	return true
}

// isWebP checks for the WEBP marker after the RIFF chunk header.
func isWebP(data []byte) bool {
	if len(data) < 12 {
		return false
	}
	return data[8] == 'W' && data[9] == 'E' && data[10] == 'B' && data[11] == 'P'
}

// MIMEType returns the MIME type for a format, or empty for unknown.
func (f Format) MIMEType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatPNG:
		return "image/png"
	case FormatWebP:
		return "image/webp"
	default:
		return ""
	}
}
