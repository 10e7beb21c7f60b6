package signature

import (
	"bytes"
	"testing"
)

// TestClassifyPreambleForm verifies that the DICM marker at offset 128 always
// classifies as DICOM regardless of the preceding preamble content.
func TestClassifyPreambleForm(t *testing.T) {
	preambles := [][]byte{
		make([]byte, 128),
		bytes.Repeat([]byte{0xFF}, 128),
		bytes.Repeat([]byte("text"), 32),
	}
	for _, preamble := range preambles {
		if len(preamble) != 128 {
			t.Fatalf("bad fixture: preamble length %d", len(preamble))
		}
		buf := append(append([]byte{}, preamble...), []byte("DICM")...)
		if !Classify(buf) {
			t.Errorf("buffer with DICM at offset 128 not classified as DICOM")
		}
	}
}

// TestClassifyBarePrefixes verifies the preamble-less group-tag prefixes.
func TestClassifyBarePrefixes(t *testing.T) {
	for _, prefix := range [][]byte{{0x01, 0x00}, {0x02, 0x00}, {0x08, 0x00}} {
		buf := append(append([]byte{}, prefix...), make([]byte, 16)...)
		if !Classify(buf) {
			t.Errorf("prefix %v not classified as DICOM", prefix)
		}
	}
}

// TestClassifyRejectsShortBuffers verifies that buffers shorter than the full
// prefix classify as not-DICOM unless a bare prefix matches.
func TestClassifyRejectsShortBuffers(t *testing.T) {
	cases := [][]byte{
		nil,
		{},
		{0x00},
		[]byte("DICM"),
		[]byte("not a dicom file"),
		make([]byte, 131),
	}
	for _, buf := range cases {
		if Classify(buf) {
			t.Errorf("short buffer %q classified as DICOM", buf)
		}
	}
}

// TestClassifyRejectsArbitraryContent verifies that full-length buffers
// without the marker classify as not-DICOM.
func TestClassifyRejectsArbitraryContent(t *testing.T) {
	buf := bytes.Repeat([]byte{0xAB}, 200)
	if Classify(buf) {
		t.Error("arbitrary content classified as DICOM")
	}

	// The marker anywhere other than offset 128 does not count.
	buf = make([]byte, 200)
	copy(buf[64:], "DICM")
	if Classify(buf) {
		t.Error("DICM at wrong offset classified as DICOM")
	}
}

// TestClassifyNeverPanics verifies the detector is total over malformed input.
func TestClassifyNeverPanics(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("Classify panicked: %v", r)
		}
	}()
	for i := 0; i < 140; i++ {
		Classify(make([]byte, i))
	}
}

// TestHasPreamble verifies the preamble check used by the forced parse.
func TestHasPreamble(t *testing.T) {
	buf := make([]byte, 140)
	copy(buf[128:], "DICM")
	if !HasPreamble(buf) {
		t.Error("expected preamble to be detected")
	}
	if HasPreamble(buf[:100]) {
		t.Error("short buffer reported a preamble")
	}
	if HasPreamble(buf[:131]) {
		t.Error("truncated magic reported a preamble")
	}
}

// TestMatchesExtension verifies the advisory extension check.
func TestMatchesExtension(t *testing.T) {
	cases := []struct {
		name string
		want bool
	}{
		{"scan.dcm", true},
		{"SCAN.DCM", true},
		{"series/IM0001.dicom", true},
		{"slice.IMA", true},
		{"notes.txt", false},
		{"archive.zip", false},
		{"dcm", false},
	}
	for _, tc := range cases {
		if got := MatchesExtension(tc.name, nil); got != tc.want {
			t.Errorf("MatchesExtension(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}

	if !MatchesExtension("scan.raw", []string{".raw"}) {
		t.Error("custom extension list not honored")
	}
	if MatchesExtension("scan.dcm", []string{".raw"}) {
		t.Error("custom extension list should replace the defaults")
	}
}
