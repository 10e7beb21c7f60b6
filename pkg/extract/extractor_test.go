package extract

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"dicomextract/internal/dcmtest"
	"dicomextract/internal/models"
)

// buildZip writes a ZIP archive with the given name->content entries.
func buildZip(t *testing.T, name string, entries map[string][]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create zip: %v", err)
	}
	zw := zip.NewWriter(f)
	for entryName, data := range entries {
		w, err := zw.Create(entryName)
		if err != nil {
			t.Fatalf("create entry %s: %v", entryName, err)
		}
		if _, err := w.Write(data); err != nil {
			t.Fatalf("write entry %s: %v", entryName, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip writer: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close zip file: %v", err)
	}
	return path
}

// run executes an extraction over the given inputs into a fresh output root.
func run(t *testing.T, params *Params) (*models.ExtractionResult, error) {
	t.Helper()
	if params.OutputRoot == "" {
		params.OutputRoot = t.TempDir()
	}
	params.Logger = zerolog.Nop()
	return NewExtractor(params).Run(context.Background())
}

// TestRunIndexedArchive verifies the index-driven path end to end: a ZIP
// whose DICOMDIR references two present instances around one missing file
// yields two written rasters and one skip, numbered in manifest order.
func TestRunIndexedArchive(t *testing.T) {
	px := []byte{0, 50, 100, 150, 200, 250}
	index := dcmtest.DICOMDIR(
		dcmtest.PatientRecord("P1"),
		dcmtest.StudyRecord("20240101"),
		dcmtest.SeriesRecord("1"),
		dcmtest.ImageRecord("DICOM", "IM1"),
		dcmtest.ImageRecord("DICOM", "MISSING"),
		dcmtest.ImageRecord("DICOM", "IM2"),
	)
	zipPath := buildZip(t, "scan.zip", map[string][]byte{
		"DICOMDIR":  index,
		"DICOM/IM1": dcmtest.Image(2, 3, "20240101", "1.1", "MONOCHROME2", px),
		"DICOM/IM2": dcmtest.Image(2, 3, "20240101", "1.2", "MONOCHROME2", px),
	})

	outRoot := t.TempDir()
	result, err := run(t, &Params{Inputs: []string{zipPath}, OutputRoot: outRoot})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	written, skipped, failed := result.Counts()
	if written != 2 || skipped != 1 || failed != 0 {
		t.Fatalf("counts: written=%d skipped=%d failed=%d", written, skipped, failed)
	}

	// Index-driven outputs are numbered in manifest order.
	outputs := result.Outputs()
	if len(outputs) != 2 {
		t.Fatalf("expected 2 output paths, got %d", len(outputs))
	}
	if filepath.Base(outputs[0]) != "dicom_0001.png" || filepath.Base(outputs[1]) != "dicom_0002.png" {
		t.Errorf("unexpected output names: %v", outputs)
	}
	for _, p := range outputs {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("missing output %s: %v", p, err)
		}
		if !strings.HasPrefix(filepath.Base(filepath.Dir(p)), "scan_") {
			t.Errorf("output %s not under an archive-named run directory", p)
		}
	}

	// Archive-sourced outcomes carry the entry-scoped source form.
	for _, o := range result.Outcomes {
		if !strings.HasPrefix(o.Source, "scan.zip!") {
			t.Errorf("outcome source %q lacks the archive prefix", o.Source)
		}
	}

	// The outcome list mirrors manifest order, with the missing-reference
	// skip between the two written instances.
	wantStatus := []models.Status{models.StatusWritten, models.StatusSkipped, models.StatusWritten}
	if len(result.Outcomes) != len(wantStatus) {
		t.Fatalf("expected %d outcomes, got %d", len(wantStatus), len(result.Outcomes))
	}
	for i, want := range wantStatus {
		if result.Outcomes[i].Status != want {
			t.Errorf("outcome %d: got %s, want %s", i, result.Outcomes[i].Status, want)
		}
	}
}

// TestRunIndexAllMissingFallsBack verifies that an index whose references are
// all missing does not end discovery: the content scan still runs, writes the
// signed file it finds, and the stale references stay recorded as skips.
func TestRunIndexAllMissingFallsBack(t *testing.T) {
	dir := t.TempDir()
	index := dcmtest.DICOMDIR(
		dcmtest.PatientRecord("P1"),
		dcmtest.StudyRecord("20240101"),
		dcmtest.SeriesRecord("1"),
		dcmtest.ImageRecord("DICOM", "GONE1"),
		dcmtest.ImageRecord("DICOM", "GONE2"),
	)
	writeTestFile(t, filepath.Join(dir, "DICOMDIR"), index)
	px := []byte{5, 15, 25, 35}
	writeTestFile(t, filepath.Join(dir, "stray"),
		dcmtest.Image(2, 2, "20240801", "8.1", "MONOCHROME2", px))

	result, err := run(t, &Params{Inputs: []string{dir}})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	written, skipped, failed := result.Counts()
	if written != 1 || skipped != 2 || failed != 0 {
		t.Fatalf("counts: written=%d skipped=%d failed=%d", written, skipped, failed)
	}

	// The fallback is a content scan, so naming is attribute-based.
	outputs := result.Outputs()
	if len(outputs) != 1 || filepath.Base(outputs[0]) != "20240801_8.1.png" {
		t.Errorf("unexpected outputs: %v", outputs)
	}
}

// TestRunNoContent verifies an archive with nothing DICOM-shaped fails the
// whole run with the no-content error, while still returning a result.
func TestRunNoContent(t *testing.T) {
	zipPath := buildZip(t, "docs.zip", map[string][]byte{
		"readme.txt": []byte("just an export log, definitely not imaging data"),
		"small":      {1, 2, 3},
	})

	result, err := run(t, &Params{Inputs: []string{zipPath}})
	if !errors.Is(err, ErrNoContentFound) {
		t.Fatalf("expected ErrNoContentFound, got %v", err)
	}
	if result == nil || result.RunID == "" {
		t.Fatal("expected a result with a run ID even on failure")
	}
}

// TestRunDirectoryScan verifies the content-scan path over a plain directory
// tree without an index: signed files are found and written with
// attribute-based names.
func TestRunDirectoryScan(t *testing.T) {
	dir := t.TempDir()
	px := []byte{10, 20, 30, 40}
	writeTestFile(t, filepath.Join(dir, "a"), dcmtest.Image(2, 2, "20240501", "5.1", "MONOCHROME2", px))
	writeTestFile(t, filepath.Join(dir, "sub", "b"), dcmtest.Image(2, 2, "20240501", "5.2", "MONOCHROME2", px))
	writeTestFile(t, filepath.Join(dir, "notes.txt"), []byte("not imaging data"))

	result, err := run(t, &Params{Inputs: []string{dir}})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	written, _, failed := result.Counts()
	if written != 2 || failed != 0 {
		t.Fatalf("counts: written=%d failed=%d", written, failed)
	}
	names := map[string]bool{}
	for _, p := range result.Outputs() {
		names[filepath.Base(p)] = true
	}
	if !names["20240501_5.1.png"] || !names["20240501_5.2.png"] {
		t.Errorf("unexpected output names: %v", names)
	}
}

// TestRunForceParse verifies the last-resort path: a tree holding only a
// headerless implicit-VR file that neither the index nor the content scan can
// see still produces a written raster.
func TestRunForceParse(t *testing.T) {
	dir := t.TempDir()
	px := make([]byte, 16)
	for i := range px {
		px[i] = byte(i * 17)
	}
	writeTestFile(t, filepath.Join(dir, "recovered"),
		dcmtest.HeaderlessImage(4, 4, "20231105", "9.8.7", "MONOCHROME2", px))

	result, err := run(t, &Params{Inputs: []string{dir}})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	outputs := result.Outputs()
	if len(outputs) != 1 {
		t.Fatalf("expected 1 output, got %d", len(outputs))
	}
	if filepath.Base(outputs[0]) != "20231105_9.8.7.png" {
		t.Errorf("unexpected output name: %s", outputs[0])
	}
}

// TestRunLooseFile verifies a single-file input lands under the shared
// loose-file directory with attribute-based naming.
func TestRunLooseFile(t *testing.T) {
	px := []byte{1, 2, 3, 4}
	path := filepath.Join(t.TempDir(), "one.dcm")
	writeTestFile(t, path, dcmtest.Image(2, 2, "20240301", "3.1", "MONOCHROME2", px))

	outRoot := t.TempDir()
	result, err := run(t, &Params{Inputs: []string{path}, OutputRoot: outRoot})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	outputs := result.Outputs()
	if len(outputs) != 1 {
		t.Fatalf("expected 1 output, got %d", len(outputs))
	}
	want := filepath.Join(outRoot, "Single_Files", "20240301_3.1.png")
	if outputs[0] != want {
		t.Errorf("output path: got %s, want %s", outputs[0], want)
	}
}

// TestRunLooseFileUndecodable verifies a loose input that passes the
// extension hint but fails to decode becomes a failed outcome without leaving
// an empty loose-file directory behind.
func TestRunLooseFileUndecodable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.dcm")
	writeTestFile(t, path, []byte("named like dicom, shaped like nothing"))

	outRoot := t.TempDir()
	result, err := run(t, &Params{Inputs: []string{path}, OutputRoot: outRoot})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	_, _, failed := result.Counts()
	if failed != 1 {
		t.Errorf("expected 1 failed outcome, got %d", failed)
	}
	if _, err := os.Stat(filepath.Join(outRoot, "Single_Files")); !os.IsNotExist(err) {
		t.Errorf("loose-file directory created despite decode failure: %v", err)
	}
}

// TestRunLooseFileRejected verifies a non-DICOM loose input is a skip and the
// run reports no content.
func TestRunLooseFileRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	writeTestFile(t, path, []byte("plain text"))

	result, err := run(t, &Params{Inputs: []string{path}})
	if !errors.Is(err, ErrNoContentFound) {
		t.Fatalf("expected ErrNoContentFound, got %v", err)
	}
	_, skipped, _ := result.Counts()
	if skipped != 1 {
		t.Errorf("expected 1 skip, got %d", skipped)
	}
}

// TestRunMissingInput verifies an inaccessible input becomes a failed outcome
// instead of aborting the run.
func TestRunMissingInput(t *testing.T) {
	dir := t.TempDir()
	px := []byte{9, 8, 7, 6}
	writeTestFile(t, filepath.Join(dir, "im"), dcmtest.Image(2, 2, "20240601", "6.1", "MONOCHROME2", px))

	result, err := run(t, &Params{Inputs: []string{filepath.Join(dir, "no-such-file"), dir}})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	written, _, failed := result.Counts()
	if written != 1 || failed != 1 {
		t.Errorf("counts: written=%d failed=%d", written, failed)
	}
}

// TestRunCancelled verifies cancellation surfaces as the context error.
func TestRunCancelled(t *testing.T) {
	dir := t.TempDir()
	px := []byte{1, 2, 3, 4}
	writeTestFile(t, filepath.Join(dir, "im"), dcmtest.Image(2, 2, "2024", "1", "MONOCHROME2", px))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ex := NewExtractor(&Params{
		Inputs:     []string{dir},
		OutputRoot: t.TempDir(),
		Logger:     zerolog.Nop(),
	})
	if _, err := ex.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

// TestRunProgress verifies progress reports are monotonic and finish at 1.
func TestRunProgress(t *testing.T) {
	dir := t.TempDir()
	px := []byte{1, 2, 3, 4}
	for _, name := range []string{"a", "b", "c"} {
		writeTestFile(t, filepath.Join(dir, name),
			dcmtest.Image(2, 2, "20240101", "uid."+name, "MONOCHROME2", px))
	}

	var fracs []float64
	_, err := run(t, &Params{
		Inputs:   []string{dir},
		Progress: func(f float64) { fracs = append(fracs, f) },
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(fracs) == 0 {
		t.Fatal("no progress reported")
	}
	for i := 1; i < len(fracs); i++ {
		if fracs[i] < fracs[i-1] {
			t.Fatalf("progress regressed: %v", fracs)
		}
	}
	if last := fracs[len(fracs)-1]; last != 1 {
		t.Errorf("final progress fraction: got %v, want 1", last)
	}
}

func writeTestFile(t *testing.T, path string, content []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
