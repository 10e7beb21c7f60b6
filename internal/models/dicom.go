package models

import "fmt"

// Classification is the state of a candidate file after content sniffing.
type Classification int

const (
	// Unclassified means the candidate has been discovered but not yet sniffed.
	Unclassified Classification = iota

	// ConfirmedDICOM means the candidate passed the signature check or an
	// advisory extension match and will be handed to the decoder.
	ConfirmedDICOM

	// Rejected means the candidate was sniffed and is not DICOM-shaped.
	Rejected
)

// Candidate is a byte-addressable source discovered during a run, either a
// file on disk or an entry extracted from an archive.
type Candidate struct {
	// Path is the absolute filesystem path the decoder will read. For archive
	// entries this points into the run's scratch extraction directory.
	Path string

	// Source is the human-readable origin of the candidate: the original file
	// path, or the path of the entry inside its archive.
	Source string

	// Sequence is the run-local ordinal assigned at discovery time. It is used
	// for fallback output naming, so it must be assigned before any decoding
	// begins and never reassigned.
	Sequence int

	// Class is the sniffing outcome for this candidate.
	Class Classification
}

// PixelBuffer is a rectangular array of raw samples extracted from a single
// DICOM instance, before any normalization.
type PixelBuffer struct {
	// Width and Height are the raster dimensions in pixels.
	Width  int
	Height int

	// BitsPerSample is the storage depth of each sample as declared by the
	// source (8, 16 or 32).
	BitsPerSample int

	// Channels is the number of samples per pixel (1 for grayscale, 3 for RGB).
	Channels int

	// Signed reports whether the source declared two's-complement samples.
	Signed bool

	// Samples holds the raw sample values, interleaved by channel in row-major
	// order. len(Samples) must equal Width*Height*Channels.
	Samples []int
}

// Validate checks the buffer length invariant. A mismatch between the declared
// geometry and the sample count is a decode failure, never a normalization one.
func (b *PixelBuffer) Validate() error {
	want := b.Width * b.Height * b.Channels
	if want != len(b.Samples) {
		return fmt.Errorf("pixel buffer geometry %dx%dx%d declares %d samples, got %d",
			b.Width, b.Height, b.Channels, want, len(b.Samples))
	}
	if b.Channels != 1 && b.Channels != 3 {
		return fmt.Errorf("unsupported channel count %d", b.Channels)
	}
	return nil
}

// Dataset is the decoded representation of one DICOM instance: the handful of
// attributes the pipeline needs downstream, plus the optional pixel buffer.
// Missing attributes carry documented defaults instead of being absent.
type Dataset struct {
	// Photometric is the photometric interpretation string. Empty when the
	// source does not declare one.
	Photometric string

	// StudyDate is the study date attribute. "unknown" when absent.
	StudyDate string

	// InstanceUID is the SOP instance unique identifier. Empty when absent;
	// the orchestrator substitutes a run-scoped sequence number for naming.
	InstanceUID string

	// Pixels is the raw pixel buffer, or nil for non-image instances.
	Pixels *PixelBuffer
}

// NormalizedImage is an 8-bit raster ready for lossless encoding. Every sample
// is in [0,255] and the channel count is 1 or 3.
type NormalizedImage struct {
	Width    int
	Height   int
	Channels int

	// Pix holds the samples, interleaved by channel in row-major order.
	Pix []uint8
}
