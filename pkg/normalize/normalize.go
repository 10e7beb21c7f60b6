// Package normalize converts raw pixel buffers of arbitrary depth, sign and
// range into displayable 8-bit rasters.
package normalize

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"dicomextract/internal/models"
)

// Monochrome1 is the photometric interpretation that encodes low sample values
// as bright. Downstream consumers assume low = dark, so buffers tagged with it
// are inverted before rescaling. The inversion is mandatory whenever the tag
// is present, not an optional enhancement.
const Monochrome1 = "MONOCHROME1"

// Normalize converts the buffer into an 8-bit raster. It is a total function:
// it never fails, and degenerate zero-variance input is handled explicitly.
//
// The steps run in a fixed order: widen to float64, invert MONOCHROME1 against
// the buffer maximum, rescale the dynamic range to [0,255] when there is any
// spread, then clamp and truncate to 8 bits. A flat buffer is left at its
// single value rather than divided to black, and the channel count is carried
// through unchanged.
func Normalize(buf *models.PixelBuffer, photometric string) *models.NormalizedImage {
	out := &models.NormalizedImage{
		Width:    buf.Width,
		Height:   buf.Height,
		Channels: buf.Channels,
		Pix:      make([]uint8, len(buf.Samples)),
	}
	if len(buf.Samples) == 0 {
		return out
	}

	samples := make([]float64, len(buf.Samples))
	for i, s := range buf.Samples {
		samples[i] = float64(s)
	}

	if photometric == Monochrome1 {
		max := floats.Max(samples)
		for i := range samples {
			samples[i] = max - samples[i]
		}
	}

	min, max := floats.Min(samples), floats.Max(samples)
	if max > min {
		scale := 255.0 / (max - min)
		for i := range samples {
			samples[i] = (samples[i] - min) * scale
		}
	}

	for i, s := range samples {
		out.Pix[i] = uint8(math.Trunc(math.Min(255, math.Max(0, s))))
	}
	return out
}
