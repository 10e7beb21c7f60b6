// Package extract sequences the extraction pipeline: discovery, decode,
// normalization and writing, one input source at a time, one candidate at a
// time. Per-candidate failures are recorded in the run's ExtractionResult and
// never abort the run; the only run-fatal conditions are an output setup
// failure and a run that discovers no DICOM content at all.
package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"dicomextract/internal/models"
	"dicomextract/pkg/decode"
	"dicomextract/pkg/discovery"
	"dicomextract/pkg/normalize"
	"dicomextract/pkg/output"
)

// ErrNoContentFound is the only pipeline-fatal discovery condition: no
// candidates were discovered and directory-index resolution was unusable
// across every input.
var ErrNoContentFound = errors.New("no valid DICOM content found")

// DefaultForceParseLimit caps the per-file size of the force-parse fallback.
// The fallback has no correctness bound, so it stays a best-effort last resort
// behind this cap.
const DefaultForceParseLimit = 512 << 20

// singleFilesDir is where loose-file inputs land under the output root.
const singleFilesDir = "Single_Files"

// Params configures one extraction run.
type Params struct {
	// Inputs are the sources to process sequentially: ZIP archives, loose
	// DICOM files, or directory trees, in any mix.
	Inputs []string

	// OutputRoot is the directory under which per-run destination directories
	// are created.
	OutputRoot string

	// Extensions are the advisory DICOM filename suffixes for discovery. Nil
	// means the built-in defaults.
	Extensions []string

	// ForceParseLimit is the per-file byte cap for the force-parse fallback.
	// Zero means DefaultForceParseLimit.
	ForceParseLimit int64

	// Logger receives the run's structured log events.
	Logger zerolog.Logger

	// Progress, when set, receives a fraction in [0,1] after each candidate
	// completes. It is the presentation boundary's only feedback channel
	// during a run.
	Progress func(float64)
}

// Extractor runs the pipeline over a fixed set of inputs.
type Extractor struct {
	params *Params
	log    zerolog.Logger

	// seq is the run-local candidate counter. Sequence numbers are assigned at
	// discovery time, before any decoding, so fallback naming stays
	// deterministic.
	seq int
}

// NewExtractor creates an extractor for the given parameters.
func NewExtractor(params *Params) *Extractor {
	if params.ForceParseLimit == 0 {
		params.ForceParseLimit = DefaultForceParseLimit
	}
	return &Extractor{params: params, log: params.Logger}
}

// Run processes every input sequentially and returns the ordered extraction
// result. Cancellation is cooperative and checked between candidates, never
// mid-decode. The result lists every processed candidate even when Run also
// returns an error.
func (e *Extractor) Run(ctx context.Context) (*models.ExtractionResult, error) {
	result := &models.ExtractionResult{RunID: uuid.NewString()}
	e.log = e.log.With().Str("run_id", result.RunID).Logger()
	e.log.Info().Int("inputs", len(e.params.Inputs)).Msg("extraction run started")

	total := len(e.params.Inputs)
	discovered := 0
	for i, input := range e.params.Inputs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		base := float64(i) / float64(total)
		span := 1 / float64(total)

		n, err := e.processInput(ctx, input, result, base, span)
		if err != nil {
			return result, err
		}
		discovered += n
	}

	e.report(1)
	written, skipped, failed := result.Counts()
	e.log.Info().Int("written", written).Int("skipped", skipped).Int("failed", failed).
		Msg("extraction run finished")

	if discovered == 0 {
		return result, ErrNoContentFound
	}
	return result, nil
}

// processInput routes one input to the matching processing path and returns
// how many candidates it discovered.
func (e *Extractor) processInput(ctx context.Context, input string, result *models.ExtractionResult, base, span float64) (int, error) {
	info, err := os.Stat(input)
	if err != nil {
		e.log.Warn().Err(err).Str("input", input).Msg("input not accessible")
		result.Outcomes = append(result.Outcomes, models.Outcome{
			Source: input,
			Status: models.StatusFailed,
			Reason: fmt.Sprintf("input not accessible: %v", err),
		})
		return 0, nil
	}

	switch {
	case info.IsDir():
		return e.processTree(ctx, input, output.RunDir(e.params.OutputRoot, input, time.Now()), identitySource, result, base, span)
	case discovery.IsArchive(input):
		return e.processArchive(ctx, input, result, base, span)
	default:
		return e.processLooseFile(ctx, input, result, base, span)
	}
}

// processArchive extracts the ZIP to an exclusively owned scratch directory,
// runs the tree pipeline over it, and releases the scratch area on every exit
// path. Cleanup failures are logged and swallowed.
func (e *Extractor) processArchive(ctx context.Context, zipPath string, result *models.ExtractionResult, base, span float64) (int, error) {
	scratch, err := os.MkdirTemp("", "dicomextract-*")
	if err != nil {
		return 0, fmt.Errorf("create scratch directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			e.log.Warn().Err(err).Str("dir", scratch).Msg("scratch cleanup failed")
		}
	}()

	e.log.Info().Str("archive", zipPath).Str("scratch", scratch).Msg("extracting archive")
	if err := discovery.ExtractArchive(zipPath, scratch); err != nil {
		e.log.Warn().Err(err).Str("archive", zipPath).Msg("archive extraction failed")
		result.Outcomes = append(result.Outcomes, models.Outcome{
			Source: zipPath,
			Status: models.StatusFailed,
			Reason: fmt.Sprintf("archive extraction failed: %v", err),
		})
		return 0, nil
	}

	archiveBase := filepath.Base(zipPath)
	sourceFor := func(path string) string {
		rel, err := filepath.Rel(scratch, path)
		if err != nil {
			return path
		}
		return archiveBase + "!" + filepath.ToSlash(rel)
	}
	return e.processTree(ctx, scratch, output.RunDir(e.params.OutputRoot, zipPath, time.Now()), sourceFor, result, base, span)
}

// processLooseFile handles a single file passed directly as an input. It is
// sniffed like any discovered candidate and written to the shared loose-file
// destination with attribute-based naming.
func (e *Extractor) processLooseFile(ctx context.Context, path string, result *models.ExtractionResult, base, span float64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	walker := &discovery.Walker{Extensions: e.params.Extensions, Log: e.log}
	if !walker.ClassifyPath(path) {
		e.log.Debug().Str("path", path).Msg("loose input rejected by sniffing")
		result.Outcomes = append(result.Outcomes, models.Outcome{
			Source: path,
			Status: models.StatusSkipped,
			Reason: "not recognized as DICOM",
		})
		return 0, nil
	}

	cand := models.Candidate{Path: path, Source: path, Sequence: e.nextSeq(), Class: models.ConfirmedDICOM}

	// Decode before touching the output root, so a candidate that fails to
	// decode leaves no empty loose-file directory behind.
	ds, err := decode.Decode(cand.Path)
	if err != nil {
		result.Outcomes = append(result.Outcomes, e.failureOutcome(cand, err))
		e.report(base + span)
		return 1, nil
	}

	writer, err := output.NewWriter(filepath.Join(e.params.OutputRoot, singleFilesDir))
	if err != nil {
		return 0, err
	}
	e.processCandidate(cand, ds, false, writer, result)
	e.report(base + span)
	return 1, nil
}

// processTree runs discovery strategies over one extracted or on-disk tree and
// processes the chosen items in order. Pre-recorded skips stay interleaved at
// their discovery position, so the run result mirrors the source's traversal
// order exactly.
func (e *Extractor) processTree(ctx context.Context, root, destDir string, sourceFor func(string) string, result *models.ExtractionResult, base, span float64) (int, error) {
	chosen, err := e.discover(ctx, root, sourceFor)
	if err != nil {
		return 0, err
	}
	n := chosen.candidateCount()
	if n == 0 {
		for _, item := range chosen.items {
			result.Outcomes = append(result.Outcomes, *item.skip)
		}
		e.log.Info().Str("root", root).Msg("no candidates discovered in tree")
		return 0, nil
	}

	writer, err := output.NewWriter(destDir)
	if err != nil {
		return 0, err
	}
	e.log.Info().Str("root", root).Str("dest", destDir).
		Int("candidates", n).Str("strategy", chosen.strategy).
		Msg("processing candidates")

	for i, item := range chosen.items {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if item.skip != nil {
			result.Outcomes = append(result.Outcomes, *item.skip)
		} else {
			e.processCandidate(item.cand, chosen.decoded[item.cand.Path], chosen.viaIndex, writer, result)
		}
		e.report(base + span*float64(i+1)/float64(len(chosen.items)))
	}
	return n, nil
}

// processCandidate runs decode, normalize and write for one candidate and
// appends its outcome. Every failure is contained here: control always returns
// to the caller for the next candidate.
func (e *Extractor) processCandidate(cand models.Candidate, predecoded *models.Dataset, viaIndex bool, writer *output.Writer, result *models.ExtractionResult) {
	ds := predecoded
	if ds == nil {
		var err error
		ds, err = decode.Decode(cand.Path)
		if err != nil {
			result.Outcomes = append(result.Outcomes, e.failureOutcome(cand, err))
			return
		}
	}

	img := normalize.Normalize(ds.Pixels, ds.Photometric)

	// Index-driven runs number their outputs; the index does not carry the
	// identifying attributes forward.
	key := output.Key("", "", cand.Sequence)
	if !viaIndex {
		key = output.Key(ds.StudyDate, ds.InstanceUID, cand.Sequence)
	}

	path, err := writer.Write(img, key)
	if err != nil {
		e.log.Warn().Err(err).Str("source", cand.Source).Msg("write failed")
		result.Outcomes = append(result.Outcomes, models.Outcome{
			Source: cand.Source,
			Status: models.StatusFailed,
			Reason: fmt.Sprintf("write failed: %v", err),
		})
		return
	}

	e.log.Debug().Str("source", cand.Source).Str("output", path).Msg("instance written")
	result.Outcomes = append(result.Outcomes, models.Outcome{
		Source:     cand.Source,
		OutputPath: path,
		Status:     models.StatusWritten,
	})
}

// failureOutcome maps a decode error onto the outcome taxonomy: missing pixel
// data is a skip, everything else a per-candidate failure.
func (e *Extractor) failureOutcome(cand models.Candidate, err error) models.Outcome {
	if errors.Is(err, decode.ErrNoPixelData) {
		e.log.Debug().Str("source", cand.Source).Msg("skipping non-image instance")
		return models.Outcome{
			Source: cand.Source,
			Status: models.StatusSkipped,
			Reason: "no pixel data",
		}
	}
	e.log.Warn().Err(err).Str("source", cand.Source).Msg("decode failed")
	return models.Outcome{
		Source: cand.Source,
		Status: models.StatusFailed,
		Reason: err.Error(),
	}
}

// nextSeq hands out run-local sequence numbers in discovery order.
func (e *Extractor) nextSeq() int {
	e.seq++
	return e.seq
}

// report forwards a progress fraction to the presentation boundary.
func (e *Extractor) report(frac float64) {
	if e.params.Progress != nil {
		if frac > 1 {
			frac = 1
		}
		e.params.Progress(frac)
	}
}

func identitySource(path string) string { return path }
