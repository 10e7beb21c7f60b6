package decode

import (
	"encoding/binary"
	"fmt"
	"os"
	"strings"

	"dicomextract/internal/models"
	"dicomextract/pkg/signature"
)

// Forced parse: a minimal little-endian element-stream reader used when the
// strict parser rejects a file. It tolerates a missing preamble and a missing
// explicit value-representation declaration, extracts only the attributes the
// pipeline needs, and stops quietly at the first structural break instead of
// failing the whole file.

// Element tags the forced parse cares about.
const (
	tagSOPInstanceUID      = 0x0008_0018
	tagStudyDate           = 0x0008_0020
	tagSamplesPerPixel     = 0x0028_0002
	tagPhotometric         = 0x0028_0004
	tagRows                = 0x0028_0010
	tagColumns             = 0x0028_0011
	tagBitsAllocated       = 0x0028_0100
	tagPixelRepresentation = 0x0028_0103
	tagPixelData           = 0x7FE0_0010
)

const undefinedLength = 0xFFFFFFFF

// longVRs are the explicit value representations encoded with a 32-bit length
// after two reserved bytes.
var longVRs = map[string]bool{
	"OB": true, "OW": true, "OF": true, "SQ": true, "UT": true, "UN": true,
}

// decodeForced re-reads the file through the lenient parser after a strict
// parse failure and converts the recovered attributes into a Dataset.
func decodeForced(path string, strictErr error) (*models.Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}
	ds, err := parseForced(data)
	if err != nil {
		return nil, &DecodeError{Path: path, Err: fmt.Errorf("%v (strict parse: %v)", err, strictErr)}
	}
	if ds.Pixels == nil {
		return nil, ErrNoPixelData
	}
	if err := ds.Pixels.Validate(); err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}
	return ds, nil
}

// forcedState accumulates recognized attributes while walking the stream.
type forcedState struct {
	sopInstanceUID string
	studyDate      string
	photometric    string

	rows, cols      int
	samplesPerPixel int
	bitsAllocated   int
	signed          bool

	pixelData []byte
	parsed    int
}

// parseForced walks the element stream and assembles a Dataset from whatever
// it recognizes. It fails only when nothing in the buffer parses as a data
// element, or when the pixel element itself cannot be materialized.
func parseForced(data []byte) (*models.Dataset, error) {
	off := 0
	if signature.HasPreamble(data) {
		off = signature.PrefixLength
	}
	if off >= len(data) {
		return nil, fmt.Errorf("no data elements")
	}

	explicit := sniffExplicitVR(data[off:])
	st := &forcedState{samplesPerPixel: 1, bitsAllocated: 8}

	for off+8 <= len(data) {
		next, err := readElement(data, off, explicit, st)
		if err != nil {
			// Lenient mode: keep whatever parsed cleanly up to here.
			break
		}
		off = next
	}

	if st.parsed == 0 {
		return nil, fmt.Errorf("no recognizable data elements")
	}

	ds := &models.Dataset{
		Photometric: st.photometric,
		StudyDate:   st.studyDate,
		InstanceUID: st.sopInstanceUID,
	}
	if ds.StudyDate == "" {
		ds.StudyDate = StudyDateUnknown
	}

	if st.pixelData != nil {
		buf, err := st.pixelBuffer()
		if err != nil {
			return nil, err
		}
		ds.Pixels = buf
	}
	return ds, nil
}

// sniffExplicitVR inspects the first element header: two uppercase ASCII
// letters where the VR field would sit mean an explicit-VR stream.
func sniffExplicitVR(data []byte) bool {
	if len(data) < 6 {
		return false
	}
	a, b := data[4], data[5]
	return a >= 'A' && a <= 'Z' && b >= 'A' && b <= 'Z'
}

// readElement consumes one data element starting at off and records it in st.
// It returns the offset of the next element.
func readElement(data []byte, off int, explicit bool, st *forcedState) (int, error) {
	group := binary.LittleEndian.Uint16(data[off:])
	element := binary.LittleEndian.Uint16(data[off+2:])
	key := uint32(group)<<16 | uint32(element)

	var vr string
	var length uint32
	valueOff := off

	if explicit && group != 0xFFFE {
		vr = string(data[off+4 : off+6])
		if longVRs[vr] {
			if off+12 > len(data) {
				return 0, fmt.Errorf("truncated element header")
			}
			length = binary.LittleEndian.Uint32(data[off+8:])
			valueOff = off + 12
		} else {
			length = uint32(binary.LittleEndian.Uint16(data[off+6:]))
			valueOff = off + 8
		}
	} else {
		if off+8 > len(data) {
			return 0, fmt.Errorf("truncated element header")
		}
		length = binary.LittleEndian.Uint32(data[off+4:])
		valueOff = off + 8
	}

	if length == undefinedLength {
		if key == tagPixelData {
			return 0, fmt.Errorf("encapsulated pixel data in forced parse")
		}
		// Undefined-length sequence: scan for its delimitation item.
		end, err := skipUndefined(data, valueOff)
		if err != nil {
			return 0, err
		}
		st.parsed++
		return end, nil
	}

	end := valueOff + int(length)
	if end < valueOff || end > len(data) {
		return 0, fmt.Errorf("element value exceeds buffer")
	}
	value := data[valueOff:end]
	st.record(key, value)
	return end, nil
}

// skipUndefined advances past an undefined-length value by scanning for the
// sequence delimitation item (FFFE,E0DD).
func skipUndefined(data []byte, off int) (int, error) {
	for off+8 <= len(data) {
		group := binary.LittleEndian.Uint16(data[off:])
		element := binary.LittleEndian.Uint16(data[off+2:])
		if group == 0xFFFE && element == 0xE0DD {
			return off + 8, nil
		}
		off++
	}
	return 0, fmt.Errorf("unterminated undefined-length value")
}

// record stores a recognized element value.
func (st *forcedState) record(key uint32, value []byte) {
	st.parsed++
	switch key {
	case tagSOPInstanceUID:
		st.sopInstanceUID = trimText(value)
	case tagStudyDate:
		st.studyDate = trimText(value)
	case tagPhotometric:
		st.photometric = trimText(value)
	case tagRows:
		st.rows = ushort(value)
	case tagColumns:
		st.cols = ushort(value)
	case tagSamplesPerPixel:
		if v := ushort(value); v > 0 {
			st.samplesPerPixel = v
		}
	case tagBitsAllocated:
		if v := ushort(value); v > 0 {
			st.bitsAllocated = v
		}
	case tagPixelRepresentation:
		st.signed = ushort(value) == 1
	case tagPixelData:
		st.pixelData = value
	default:
		// Unrecognized elements are still counted as parsed structure.
	}
}

// pixelBuffer materializes the raw pixel bytes into samples using the declared
// geometry and depth.
func (st *forcedState) pixelBuffer() (*models.PixelBuffer, error) {
	if st.rows <= 0 || st.cols <= 0 {
		return nil, fmt.Errorf("pixel data without raster geometry")
	}

	n := st.rows * st.cols * st.samplesPerPixel
	samples := make([]int, 0, n)

	switch st.bitsAllocated {
	case 8:
		if len(st.pixelData) < n {
			return nil, fmt.Errorf("pixel data truncated: need %d bytes, have %d", n, len(st.pixelData))
		}
		for i := 0; i < n; i++ {
			samples = append(samples, int(st.pixelData[i]))
		}
	case 16:
		if len(st.pixelData) < 2*n {
			return nil, fmt.Errorf("pixel data truncated: need %d bytes, have %d", 2*n, len(st.pixelData))
		}
		for i := 0; i < n; i++ {
			v := binary.LittleEndian.Uint16(st.pixelData[2*i:])
			if st.signed {
				samples = append(samples, int(int16(v)))
			} else {
				samples = append(samples, int(v))
			}
		}
	case 32:
		if len(st.pixelData) < 4*n {
			return nil, fmt.Errorf("pixel data truncated: need %d bytes, have %d", 4*n, len(st.pixelData))
		}
		for i := 0; i < n; i++ {
			v := binary.LittleEndian.Uint32(st.pixelData[4*i:])
			if st.signed {
				samples = append(samples, int(int32(v)))
			} else {
				samples = append(samples, int(v))
			}
		}
	default:
		return nil, fmt.Errorf("unsupported sample depth %d", st.bitsAllocated)
	}

	return &models.PixelBuffer{
		Width:         st.cols,
		Height:        st.rows,
		BitsPerSample: st.bitsAllocated,
		Channels:      st.samplesPerPixel,
		Signed:        st.signed,
		Samples:       samples,
	}, nil
}

// trimText strips DICOM string padding.
func trimText(value []byte) string {
	return strings.TrimRight(string(value), "\x00 ")
}

// ushort reads a little-endian 16-bit value, or 0 on a malformed length.
func ushort(value []byte) int {
	if len(value) < 2 {
		return 0
	}
	return int(binary.LittleEndian.Uint16(value))
}
