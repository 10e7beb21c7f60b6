// Package output persists normalized rasters as PNG files under deterministic,
// collision-free names.
package output

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dicomextract/internal/models"
)

// Key builds the output filename stem for one instance: the decoded study date
// and instance identifier when both are known, otherwise a zero-padded
// run-local sequence number. Sequence numbers are assigned at discovery time,
// which keeps the naming deterministic even if processing is ever reordered.
func Key(studyDate, instanceUID string, sequence int) string {
	if instanceUID != "" {
		return fmt.Sprintf("%s_%s", studyDate, instanceUID)
	}
	return fmt.Sprintf("dicom_%04d", sequence)
}

// RunDir builds the per-run destination directory for an archive-sourced run:
// a directory named after the archive plus a timestamp under root, so
// cross-run collisions cannot occur.
func RunDir(root, archivePath string, now time.Time) string {
	base := strings.TrimSuffix(filepath.Base(archivePath), filepath.Ext(archivePath))
	return filepath.Join(root, fmt.Sprintf("%s_%s", base, now.Format("20060102_150405")))
}

// Writer writes rasters into a single destination directory. Within one run
// keys are unique by construction (instance UID uniqueness comes from the
// source format, sequence numbers from discovery), so the writer does not
// de-duplicate further.
type Writer struct {
	dir string
}

// NewWriter creates the destination directory and returns a writer for it.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory %s: %w", dir, err)
	}
	return &Writer{dir: dir}, nil
}

// Dir returns the destination directory.
func (w *Writer) Dir() string { return w.dir }

// Write encodes the raster as `{key}.png` in the destination directory and
// returns the written path.
func (w *Writer) Write(img *models.NormalizedImage, key string) (string, error) {
	path := filepath.Join(w.dir, key+".png")

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}
	if err := png.Encode(f, toImage(img)); err != nil {
		f.Close()
		return "", fmt.Errorf("encode %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", path, err)
	}
	return path, nil
}

// toImage wraps the raster in the stdlib image type matching its channel
// count: Gray for single-channel, NRGBA with opaque alpha for three-channel.
func toImage(img *models.NormalizedImage) image.Image {
	if img.Channels == 1 {
		gray := image.NewGray(image.Rect(0, 0, img.Width, img.Height))
		copy(gray.Pix, img.Pix)
		return gray
	}

	rgba := image.NewNRGBA(image.Rect(0, 0, img.Width, img.Height))
	for i := 0; i < img.Width*img.Height; i++ {
		rgba.SetNRGBA(i%img.Width, i/img.Width, color.NRGBA{
			R: img.Pix[3*i],
			G: img.Pix[3*i+1],
			B: img.Pix[3*i+2],
			A: 255,
		})
	}
	return rgba
}
