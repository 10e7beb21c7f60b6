package models

// Status is the per-candidate outcome of one extraction run.
type Status int

const (
	// StatusWritten means the candidate decoded and its raster was written.
	StatusWritten Status = iota

	// StatusSkipped means the candidate was a valid DICOM object without pixel
	// data, or its referenced file was missing. Not a failure.
	StatusSkipped

	// StatusFailed means the candidate could not be decoded or written.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusWritten:
		return "written"
	case StatusSkipped:
		return "skipped"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome pairs one candidate with its output path or the reason it produced
// none.
type Outcome struct {
	// Source is the candidate's origin (file path or archive entry).
	Source string

	// OutputPath is the written raster path. Empty unless Status is
	// StatusWritten.
	OutputPath string

	Status Status

	// Reason is a human-readable cause for skipped and failed outcomes.
	Reason string
}

// ExtractionResult is the ordered record of one extraction run. It is built
// once by the orchestrator and is immutable after the run completes.
type ExtractionResult struct {
	// RunID uniquely identifies the run in logs and scratch-area naming.
	RunID string

	// Outcomes lists every processed candidate in processing order.
	Outcomes []Outcome
}

// Outputs returns the written raster paths in processing order.
func (r *ExtractionResult) Outputs() []string {
	var out []string
	for _, o := range r.Outcomes {
		if o.Status == StatusWritten {
			out = append(out, o.OutputPath)
		}
	}
	return out
}

// Counts returns how many outcomes were written, skipped and failed.
func (r *ExtractionResult) Counts() (written, skipped, failed int) {
	for _, o := range r.Outcomes {
		switch o.Status {
		case StatusWritten:
			written++
		case StatusSkipped:
			skipped++
		case StatusFailed:
			failed++
		}
	}
	return
}
