// Package decode reads a single candidate file's DICOM element stream and
// extracts the raw pixel buffer plus the attributes the pipeline needs
// downstream. It is the boundary to the DICOM codec collaborator: compressed
// transfer syntaxes are delegated to the codec, never reimplemented here.
//
// Real-world producers emit nonconforming files, so decoding is lenient: when
// the strict parse fails, a forced parse that tolerates a missing preamble and
// a missing value-representation declaration is attempted before giving up.
package decode

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"dicomextract/internal/models"
	"dicomextract/pkg/discovery"
)

// ErrNoPixelData means the file is a valid DICOM object without pixel data,
// for example a directory-index record. It is a skip, not a failure.
var ErrNoPixelData = errors.New("dicom object carries no pixel data")

// DecodeError is a per-file decode failure: a structurally unreadable stream
// or an unsupported compression codec. It is recorded per candidate and is
// never escalated past the orchestrator.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// StudyDateUnknown is the study date sentinel when the attribute is absent.
const StudyDateUnknown = "unknown"

// Decode reads one candidate file and returns its dataset. The directory-index
// file, wherever encountered by name, is a non-image instance and returns
// ErrNoPixelData without a pixel-extraction attempt. A present but undecodable
// pixel element returns a *DecodeError carrying the cause.
func Decode(path string) (*models.Dataset, error) {
	if discovery.IsIndexFile(path) {
		return nil, ErrNoPixelData
	}

	parsed, err := dicom.ParseFile(path, nil)
	if err != nil {
		// Strict parse failed; fall back to the forced element-stream parse.
		return decodeForced(path, err)
	}

	ds := &models.Dataset{
		Photometric: elementString(&parsed, tag.PhotometricInterpretation, ""),
		StudyDate:   elementString(&parsed, tag.StudyDate, StudyDateUnknown),
		InstanceUID: elementString(&parsed, tag.SOPInstanceUID, ""),
	}

	buf, err := extractPixels(&parsed, path)
	if err != nil {
		return nil, err
	}
	ds.Pixels = buf
	return ds, nil
}

// extractPixels pulls the first frame of the pixel-data element into a
// PixelBuffer, delegating encapsulated frames to the codec collaborator.
func extractPixels(parsed *dicom.Dataset, path string) (*models.PixelBuffer, error) {
	el, err := parsed.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, ErrNoPixelData
	}

	info := dicom.MustGetPixelDataInfo(el.Value)
	if len(info.Frames) == 0 {
		return nil, ErrNoPixelData
	}
	fr := info.Frames[0]

	if fr.Encapsulated {
		// Compressed transfer syntax: the codec either gives back a decoded
		// image or the file fails with an unsupported-codec cause.
		img, err := fr.GetImage()
		if err != nil {
			return nil, &DecodeError{Path: path, Err: fmt.Errorf("unsupported codec: %w", err)}
		}
		return bufferFromImage(img), nil
	}

	native, err := fr.GetNativeFrame()
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}

	channels := 1
	if len(native.Data) > 0 {
		channels = len(native.Data[0])
	}
	buf := &models.PixelBuffer{
		Width:         native.Cols,
		Height:        native.Rows,
		BitsPerSample: native.BitsPerSample,
		Channels:      channels,
		Signed:        elementInt(parsed, tag.PixelRepresentation, 0) == 1,
		Samples:       make([]int, 0, len(native.Data)*channels),
	}
	for _, px := range native.Data {
		buf.Samples = append(buf.Samples, px...)
	}
	if err := buf.Validate(); err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}
	return buf, nil
}

// bufferFromImage converts a codec-decoded image into a PixelBuffer. Grayscale
// sources keep one channel; everything else flattens to 8-bit RGB.
func bufferFromImage(img image.Image) *models.PixelBuffer {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	if gray, ok := img.(*image.Gray); ok {
		buf := &models.PixelBuffer{Width: w, Height: h, BitsPerSample: 8, Channels: 1,
			Samples: make([]int, 0, w*h)}
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				buf.Samples = append(buf.Samples, int(gray.GrayAt(x, y).Y))
			}
		}
		return buf
	}
	if gray16, ok := img.(*image.Gray16); ok {
		buf := &models.PixelBuffer{Width: w, Height: h, BitsPerSample: 16, Channels: 1,
			Samples: make([]int, 0, w*h)}
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				buf.Samples = append(buf.Samples, int(gray16.Gray16At(x, y).Y))
			}
		}
		return buf
	}

	buf := &models.PixelBuffer{Width: w, Height: h, BitsPerSample: 8, Channels: 3,
		Samples: make([]int, 0, w*h*3)}
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			buf.Samples = append(buf.Samples, int(c.R), int(c.G), int(c.B))
		}
	}
	return buf
}

// elementString returns the first string value of the tagged element, or the
// default when the element is absent or empty.
func elementString(parsed *dicom.Dataset, t tag.Tag, def string) string {
	el, err := parsed.FindElementByTag(t)
	if err != nil {
		return def
	}
	vals, ok := el.Value.GetValue().([]string)
	if !ok || len(vals) == 0 {
		return def
	}
	// Strip DICOM even-length padding.
	v := strings.TrimRight(vals[0], " \x00")
	if v == "" {
		return def
	}
	return v
}

// elementInt returns the first integer value of the tagged element, or the
// default when the element is absent.
func elementInt(parsed *dicom.Dataset, t tag.Tag, def int) int {
	el, err := parsed.FindElementByTag(t)
	if err != nil {
		return def
	}
	vals, ok := el.Value.GetValue().([]int)
	if !ok || len(vals) == 0 {
		return def
	}
	return vals[0]
}
