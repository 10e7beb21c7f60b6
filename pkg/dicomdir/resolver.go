// Package dicomdir resolves a DICOMDIR-style directory-index file into the
// ordered list of instance files it references.
//
// The index is an authoritative manifest: it declares the source's own
// patient/study/series/instance grouping, so when it is present it is tried
// before any content scanning. Index producers vary, so two parse shapes are
// attempted in order: a structured file-set parse that requires proper
// four-level nesting, then a flatter scan that accepts any record carrying a
// referenced file. Traversal is strict encounter order throughout; nothing is
// re-sorted, because the order determines output numbering downstream.
package dicomdir

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"dicomextract/internal/models"
)

// ErrIndexMalformed means the file could not be parsed as a directory index
// by either known record shape. The caller falls back to content scanning.
var ErrIndexMalformed = errors.New("dicomdir: index malformed")

// Directory-record tags. Declared locally so the record walk reads in DICOM
// group/element terms.
var (
	tagDirectoryRecordSequence = tag.Tag{Group: 0x0004, Element: 0x1220}
	tagDirectoryRecordType     = tag.Tag{Group: 0x0004, Element: 0x1430}
	tagReferencedFileID        = tag.Tag{Group: 0x0004, Element: 0x1500}
)

// record is one entry of the directory record sequence, reduced to the
// attributes the resolver needs.
type record struct {
	// recordType is the directory record type string (PATIENT, STUDY, SERIES,
	// IMAGE, ...).
	recordType string

	// fileID holds the referenced-file path components for leaf records,
	// empty otherwise.
	fileID []string

	// patientID, studyDate and seriesNumber label the tree levels.
	patientID    string
	studyDate    string
	seriesNumber string
}

// Ref is one referenced instance file, resolved against the index directory.
// Exists records whether the file is actually on disk; a missing reference is
// skipped by the pipeline, never a resolve failure.
type Ref struct {
	Path   string
	Exists bool
}

// Resolve parses the index file and returns its referenced instance files in
// encounter order, resolved relative to the index's containing directory.
// Instances whose resolved path does not exist are logged and returned with
// Exists false; only a file unparsable by both record shapes yields
// ErrIndexMalformed.
func Resolve(indexPath string, log zerolog.Logger) ([]Ref, error) {
	index, err := Parse(indexPath)
	if err != nil {
		return nil, err
	}

	baseDir := filepath.Dir(indexPath)
	refs := make([]Ref, 0, len(index.Instances()))
	for _, inst := range index.Instances() {
		resolved := filepath.Join(baseDir, inst.ReferencedPath)
		ref := Ref{Path: resolved, Exists: true}
		if _, err := os.Stat(resolved); err != nil {
			log.Warn().Str("path", resolved).Msg("index references missing file")
			ref.Exists = false
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// Parse reads the index file into its four-level hierarchy, trying the
// structured file-set shape first and the flat record scan second.
func Parse(indexPath string) (*models.DirectoryIndex, error) {
	records, err := readRecords(indexPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexMalformed, err)
	}

	if index, err := buildFileSet(records); err == nil {
		return index, nil
	}
	index := buildFlat(records)
	if len(index.Instances()) == 0 {
		return nil, fmt.Errorf("%w: no usable directory records", ErrIndexMalformed)
	}
	return index, nil
}

// readRecords parses the DICOM dataset of the index and flattens its directory
// record sequence into record values, in encounter order.
func readRecords(indexPath string) ([]record, error) {
	ds, err := dicom.ParseFile(indexPath, nil)
	if err != nil {
		return nil, err
	}

	seq, err := ds.FindElementByTag(tagDirectoryRecordSequence)
	if err != nil {
		return nil, fmt.Errorf("no directory record sequence")
	}
	items, ok := seq.Value.GetValue().([]*dicom.SequenceItemValue)
	if !ok {
		return nil, fmt.Errorf("directory record sequence has unexpected shape")
	}

	records := make([]record, 0, len(items))
	for _, item := range items {
		elems, ok := item.GetValue().([]*dicom.Element)
		if !ok {
			continue
		}
		records = append(records, record{
			recordType:   firstString(elems, tagDirectoryRecordType),
			fileID:       stringValues(elems, tagReferencedFileID),
			patientID:    firstString(elems, tag.PatientID),
			studyDate:    firstString(elems, tag.StudyDate),
			seriesNumber: firstString(elems, tag.SeriesNumber),
		})
	}
	return records, nil
}

// buildFileSet assembles the four-level tree from typed records, requiring
// proper PATIENT > STUDY > SERIES nesting above every referenced file. Any
// record out of place fails this shape so the flat scan can be tried.
func buildFileSet(records []record) (*models.DirectoryIndex, error) {
	index := &models.DirectoryIndex{}
	for _, rec := range records {
		switch rec.recordType {
		case "PATIENT":
			index.Patients = append(index.Patients, models.Patient{ID: rec.patientID})
		case "STUDY":
			if len(index.Patients) == 0 {
				return nil, fmt.Errorf("study record outside a patient")
			}
			p := &index.Patients[len(index.Patients)-1]
			p.Studies = append(p.Studies, models.Study{Date: rec.studyDate})
		case "SERIES":
			st, err := lastStudy(index)
			if err != nil {
				return nil, err
			}
			st.Series = append(st.Series, models.Series{Number: rec.seriesNumber})
		default:
			if len(rec.fileID) == 0 {
				continue
			}
			se, err := lastSeries(index)
			if err != nil {
				return nil, err
			}
			se.Instances = append(se.Instances, models.Instance{
				ReferencedPath: filepath.Join(rec.fileID...),
			})
		}
	}
	if len(index.Instances()) == 0 {
		return nil, fmt.Errorf("no referenced instances")
	}
	return index, nil
}

// buildFlat accepts any record with a referenced file, in encounter order,
// under a single synthetic patient. This matches index producers that emit
// children directly below the patient records without full nesting.
func buildFlat(records []record) *models.DirectoryIndex {
	series := models.Series{}
	for _, rec := range records {
		if len(rec.fileID) == 0 {
			continue
		}
		series.Instances = append(series.Instances, models.Instance{
			ReferencedPath: filepath.Join(rec.fileID...),
		})
	}
	return &models.DirectoryIndex{
		Patients: []models.Patient{{
			Studies: []models.Study{{
				Series: []models.Series{series},
			}},
		}},
	}
}

func lastStudy(index *models.DirectoryIndex) (*models.Study, error) {
	if len(index.Patients) == 0 {
		return nil, fmt.Errorf("series record outside a patient")
	}
	p := &index.Patients[len(index.Patients)-1]
	if len(p.Studies) == 0 {
		return nil, fmt.Errorf("series record outside a study")
	}
	return &p.Studies[len(p.Studies)-1], nil
}

func lastSeries(index *models.DirectoryIndex) (*models.Series, error) {
	st, err := lastStudy(index)
	if err != nil {
		return nil, fmt.Errorf("instance record outside a series")
	}
	if len(st.Series) == 0 {
		return nil, fmt.Errorf("instance record outside a series")
	}
	return &st.Series[len(st.Series)-1], nil
}

// firstString returns the first string value of the tagged element, or "".
func firstString(elems []*dicom.Element, t tag.Tag) string {
	vals := stringValues(elems, t)
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

// stringValues returns all string values of the tagged element within one
// sequence item, stripped of DICOM even-length padding.
func stringValues(elems []*dicom.Element, t tag.Tag) []string {
	for _, el := range elems {
		if el.Tag != t {
			continue
		}
		vals, ok := el.Value.GetValue().([]string)
		if !ok {
			return nil
		}
		out := make([]string, 0, len(vals))
		for _, v := range vals {
			if v = strings.TrimRight(v, " \x00"); v != "" {
				out = append(out, v)
			}
		}
		return out
	}
	return nil
}
