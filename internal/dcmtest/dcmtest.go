// Package dcmtest builds minimal DICOM byte streams for tests: explicit-VR
// little-endian part-10 files, headerless implicit-VR streams, and
// directory-index files with a directory record sequence.
package dcmtest

import (
	"bytes"
	"encoding/binary"
	"strings"
)

// TransferSyntaxExplicitLE is the explicit-VR little-endian transfer syntax.
const TransferSyntaxExplicitLE = "1.2.840.10008.1.2.1"

// longVRs use the 32-bit length form with two reserved bytes.
var longVRs = map[string]bool{
	"OB": true, "OW": true, "OF": true, "SQ": true, "UT": true, "UN": true,
}

// Element encodes one explicit-VR little-endian data element.
func Element(group, elem uint16, vr string, value []byte) []byte {
	if len(value)%2 != 0 {
		panic("dcmtest: element values must have even length")
	}
	var b bytes.Buffer
	binary.Write(&b, binary.LittleEndian, group)
	binary.Write(&b, binary.LittleEndian, elem)
	b.WriteString(vr)
	if longVRs[vr] {
		b.Write([]byte{0, 0})
		binary.Write(&b, binary.LittleEndian, uint32(len(value)))
	} else {
		binary.Write(&b, binary.LittleEndian, uint16(len(value)))
	}
	b.Write(value)
	return b.Bytes()
}

// StringElement encodes a text element, padding odd-length values to even: UI
// values with NUL, everything else with space.
func StringElement(group, elem uint16, vr, s string) []byte {
	if len(s)%2 != 0 {
		if vr == "UI" {
			s += "\x00"
		} else {
			s += " "
		}
	}
	return Element(group, elem, vr, []byte(s))
}

// UShortElement encodes a US element.
func UShortElement(group, elem uint16, v uint16) []byte {
	value := make([]byte, 2)
	binary.LittleEndian.PutUint16(value, v)
	return Element(group, elem, "US", value)
}

// File wraps dataset elements in a part-10 file: 128-byte preamble, DICM
// magic, and a minimal file meta group declaring explicit-VR little endian.
func File(datasetElems ...[]byte) []byte {
	transferSyntax := StringElement(0x0002, 0x0010, "UI", TransferSyntaxExplicitLE)

	groupLen := make([]byte, 4)
	binary.LittleEndian.PutUint32(groupLen, uint32(len(transferSyntax)))

	var b bytes.Buffer
	b.Write(make([]byte, 128))
	b.WriteString("DICM")
	b.Write(Element(0x0002, 0x0000, "UL", groupLen))
	b.Write(transferSyntax)
	for _, el := range datasetElems {
		b.Write(el)
	}
	return b.Bytes()
}

// Image builds a complete single-frame 8-bit grayscale part-10 file with the
// given identifying attributes and pixel bytes (len(pixels) == rows*cols).
func Image(rows, cols int, studyDate, sopUID, photometric string, pixels []byte) []byte {
	if len(pixels) != rows*cols {
		panic("dcmtest: pixel length must equal rows*cols")
	}
	px := pixels
	if len(px)%2 != 0 {
		px = append(append([]byte{}, px...), 0)
	}
	return File(
		StringElement(0x0008, 0x0018, "UI", sopUID),
		StringElement(0x0008, 0x0020, "DA", studyDate),
		UShortElement(0x0028, 0x0002, 1),
		StringElement(0x0028, 0x0004, "CS", photometric),
		UShortElement(0x0028, 0x0010, uint16(rows)),
		UShortElement(0x0028, 0x0011, uint16(cols)),
		UShortElement(0x0028, 0x0100, 8),
		UShortElement(0x0028, 0x0101, 8),
		UShortElement(0x0028, 0x0102, 7),
		UShortElement(0x0028, 0x0103, 0),
		Element(0x7FE0, 0x0010, "OW", px),
	)
}

// implicitElement encodes one implicit-VR little-endian data element.
func implicitElement(group, elem uint16, value []byte) []byte {
	if len(value)%2 != 0 {
		value = append(append([]byte{}, value...), ' ')
	}
	var b bytes.Buffer
	binary.Write(&b, binary.LittleEndian, group)
	binary.Write(&b, binary.LittleEndian, elem)
	binary.Write(&b, binary.LittleEndian, uint32(len(value)))
	b.Write(value)
	return b.Bytes()
}

// implicitUShort encodes a US value in implicit VR.
func implicitUShort(group, elem uint16, v uint16) []byte {
	value := make([]byte, 2)
	binary.LittleEndian.PutUint16(value, v)
	return implicitElement(group, elem, value)
}

// HeaderlessImage builds an implicit-VR little-endian stream with no preamble
// and no file meta group, the kind of nonconforming file that only a forced
// parse recovers. The stream opens with the patient-name element, whose group
// does not match any sniffing prefix.
func HeaderlessImage(rows, cols int, studyDate, sopUID, photometric string, pixels []byte) []byte {
	if len(pixels) != rows*cols {
		panic("dcmtest: pixel length must equal rows*cols")
	}
	var b bytes.Buffer
	b.Write(implicitElement(0x0010, 0x0010, []byte("TEST^PATIENT")))
	b.Write(implicitElement(0x0008, 0x0018, []byte(sopUID)))
	b.Write(implicitElement(0x0008, 0x0020, []byte(studyDate)))
	b.Write(implicitUShort(0x0028, 0x0002, 1))
	b.Write(implicitElement(0x0028, 0x0004, []byte(photometric)))
	b.Write(implicitUShort(0x0028, 0x0010, uint16(rows)))
	b.Write(implicitUShort(0x0028, 0x0011, uint16(cols)))
	b.Write(implicitUShort(0x0028, 0x0100, 8))
	b.Write(implicitUShort(0x0028, 0x0103, 0))
	b.Write(implicitElement(0x7FE0, 0x0010, pixels))
	return b.Bytes()
}

// HeaderlessImage16 builds a headerless implicit-VR stream carrying 16-bit
// unsigned samples (len(samples) == rows*cols).
func HeaderlessImage16(rows, cols int, samples []uint16) []byte {
	if len(samples) != rows*cols {
		panic("dcmtest: sample length must equal rows*cols")
	}
	px := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(px[2*i:], s)
	}
	var b bytes.Buffer
	b.Write(implicitElement(0x0010, 0x0010, []byte("TEST^PATIENT")))
	b.Write(implicitUShort(0x0028, 0x0002, 1))
	b.Write(implicitUShort(0x0028, 0x0010, uint16(rows)))
	b.Write(implicitUShort(0x0028, 0x0011, uint16(cols)))
	b.Write(implicitUShort(0x0028, 0x0100, 16))
	b.Write(implicitUShort(0x0028, 0x0103, 0))
	b.Write(implicitElement(0x7FE0, 0x0010, px))
	return b.Bytes()
}

// Item wraps sequence-item content in an (FFFE,E000) item with defined length.
func Item(content []byte) []byte {
	var b bytes.Buffer
	binary.Write(&b, binary.LittleEndian, uint16(0xFFFE))
	binary.Write(&b, binary.LittleEndian, uint16(0xE000))
	binary.Write(&b, binary.LittleEndian, uint32(len(content)))
	b.Write(content)
	return b.Bytes()
}

// Sequence encodes an SQ element with defined length holding the given items.
func Sequence(group, elem uint16, items ...[]byte) []byte {
	var content bytes.Buffer
	for _, item := range items {
		content.Write(item)
	}
	return Element(group, elem, "SQ", content.Bytes())
}

// Record builds one directory record item. fileID components are joined with
// the DICOM multi-value separator; extra elements follow the record type.
func Record(recordType string, fileID []string, extra ...[]byte) []byte {
	var content bytes.Buffer
	content.Write(StringElement(0x0004, 0x1430, "CS", recordType))
	if len(fileID) > 0 {
		content.Write(StringElement(0x0004, 0x1500, "CS", strings.Join(fileID, "\\")))
	}
	for _, el := range extra {
		content.Write(el)
	}
	return Item(content.Bytes())
}

// PatientRecord builds a PATIENT record with the given patient ID.
func PatientRecord(patientID string) []byte {
	return Record("PATIENT", nil, StringElement(0x0010, 0x0020, "LO", patientID))
}

// StudyRecord builds a STUDY record with the given study date.
func StudyRecord(studyDate string) []byte {
	return Record("STUDY", nil, StringElement(0x0008, 0x0020, "DA", studyDate))
}

// SeriesRecord builds a SERIES record with the given series number.
func SeriesRecord(seriesNumber string) []byte {
	return Record("SERIES", nil, StringElement(0x0020, 0x0011, "IS", seriesNumber))
}

// ImageRecord builds an IMAGE record referencing the given file components.
func ImageRecord(fileID ...string) []byte {
	return Record("IMAGE", fileID)
}

// DICOMDIR builds a directory-index file holding the given records in order.
func DICOMDIR(records ...[]byte) []byte {
	return File(Sequence(0x0004, 0x1220, records...))
}
