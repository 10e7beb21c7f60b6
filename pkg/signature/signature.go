// Package signature implements content sniffing for DICOM-shaped files.
//
// The check is a heuristic, not a validator: false positives are tolerated and
// rejected later at decode time, and a miss only reduces recall. The detector
// never fails on malformed input; any content it does not recognize simply
// classifies as not-DICOM.
package signature

import (
	"bytes"
	"path/filepath"
	"strings"
)

// PrefixLength is the number of leading bytes the detector needs to see the
// preamble-bearing form: a 128-byte preamble followed by the 4-byte magic.
const PrefixLength = 132

// magicOffset is where the "DICM" marker sits in a preamble-bearing file.
const magicOffset = 128

var magic = []byte("DICM")

// bareGroupPrefixes are the little-endian group tags a preamble-less DICOM
// element stream can open with. Real-world producers emit such files, so the
// detector accepts them even though the magic is absent.
var bareGroupPrefixes = [][]byte{
	{0x01, 0x00},
	{0x02, 0x00},
	{0x08, 0x00},
}

// DefaultExtensions are the filename suffixes treated as an advisory DICOM
// hint by discovery. The extension check supplements sniffing; it never
// replaces it for files that have readable content.
var DefaultExtensions = []string{".dcm", ".dicom", ".ima"}

// Classify reports whether the given file prefix looks like a DICOM stream.
// Fewer than PrefixLength bytes is a valid input: it classifies as not-DICOM
// unless one of the bare group prefixes matches.
func Classify(prefix []byte) bool {
	if len(prefix) >= PrefixLength && bytes.Equal(prefix[magicOffset:magicOffset+4], magic) {
		return true
	}
	for _, p := range bareGroupPrefixes {
		if bytes.HasPrefix(prefix, p) {
			return true
		}
	}
	return false
}

// HasPreamble reports whether the buffer carries the preamble-bearing form,
// with the magic at offset 128.
func HasPreamble(prefix []byte) bool {
	return len(prefix) >= PrefixLength && bytes.Equal(prefix[magicOffset:magicOffset+4], magic)
}

// MatchesExtension reports whether the filename carries one of the given DICOM
// suffixes, case-insensitively. A nil list falls back to DefaultExtensions.
func MatchesExtension(name string, extensions []string) bool {
	if extensions == nil {
		extensions = DefaultExtensions
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range extensions {
		if ext == e {
			return true
		}
	}
	return false
}
