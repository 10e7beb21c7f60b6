package extract

import (
	"context"
	"io/fs"
	"path/filepath"

	"dicomextract/internal/models"
	"dicomextract/pkg/decode"
	"dicomextract/pkg/dicomdir"
	"dicomextract/pkg/discovery"
)

// workItem is one discovery entry in processing order: either a candidate to
// decode or an outcome already known at discovery time, such as an index
// reference whose file is missing. Keeping both in one ordered list preserves
// the source's traversal order in the run result.
type workItem struct {
	cand models.Candidate

	// skip, when non-nil, is a pre-recorded outcome and cand is unset.
	skip *models.Outcome
}

// discoveryOutcome is the tagged result of one discovery strategy.
type discoveryOutcome struct {
	strategy string

	// items lists candidates and pre-recorded skips in traversal order.
	items []workItem

	// viaIndex marks index-driven discovery, which switches output naming to
	// run-local sequence numbers.
	viaIndex bool

	// decoded caches datasets the strategy already had to decode (force-parse
	// proves candidacy by decoding), keyed by candidate path.
	decoded map[string]*models.Dataset
}

// candidateCount reports how many items are decodable candidates.
func (o *discoveryOutcome) candidateCount() int {
	n := 0
	for _, it := range o.items {
		if it.skip == nil {
			n++
		}
	}
	return n
}

// discoveryStrategy is one entry of the ordered discovery list.
type discoveryStrategy struct {
	name string
	run  func(ctx context.Context) (discoveryOutcome, error)
}

// discover tries the ordered discovery strategies over one tree until one
// yields candidates: the directory index first because it is the source's
// authoritative manifest, then the content scan, then the capped force-parse
// last resort. A strategy that produces only skips, such as an index whose
// references are all missing, does not win; its skips are carried forward so
// the run result still records them, and the next strategy runs.
func (e *Extractor) discover(ctx context.Context, root string, sourceFor func(string) string) (discoveryOutcome, error) {
	strategies := []discoveryStrategy{
		{"directory-index", func(ctx context.Context) (discoveryOutcome, error) {
			return e.discoverIndex(root, sourceFor)
		}},
		{"content-scan", func(ctx context.Context) (discoveryOutcome, error) {
			return e.discoverScan(root, sourceFor)
		}},
		{"force-parse", e.forceStrategy(root, sourceFor)},
	}

	var pending []workItem
	for _, s := range strategies {
		if err := ctx.Err(); err != nil {
			return discoveryOutcome{}, err
		}
		out, err := s.run(ctx)
		if err != nil {
			e.log.Warn().Err(err).Str("strategy", s.name).Str("root", root).
				Msg("discovery strategy failed")
			continue
		}
		if out.candidateCount() > 0 {
			out.strategy = s.name
			out.items = append(pending, out.items...)
			return out, nil
		}
		pending = append(pending, out.items...)
	}
	return discoveryOutcome{strategy: "none", items: pending}, nil
}

// discoverIndex locates a directory-index file in the tree and resolves its
// referenced instances in manifest order. A malformed or absent index yields
// an empty outcome so the next strategy runs; missing referenced files become
// pre-recorded skips, interleaved at their manifest position.
func (e *Extractor) discoverIndex(root string, sourceFor func(string) string) (discoveryOutcome, error) {
	indexPath := findIndexFile(root)
	if indexPath == "" {
		return discoveryOutcome{}, nil
	}

	refs, err := dicomdir.Resolve(indexPath, e.log)
	if err != nil {
		// Index present but unusable: fall through to content scanning.
		e.log.Warn().Err(err).Str("index", indexPath).Msg("directory index unusable")
		return discoveryOutcome{}, nil
	}

	out := discoveryOutcome{viaIndex: true}
	for _, ref := range refs {
		if !ref.Exists {
			out.items = append(out.items, workItem{skip: &models.Outcome{
				Source: sourceFor(ref.Path),
				Status: models.StatusSkipped,
				Reason: "index references missing file",
			}})
			continue
		}
		out.items = append(out.items, workItem{cand: models.Candidate{
			Path:     ref.Path,
			Source:   sourceFor(ref.Path),
			Sequence: e.nextSeq(),
			Class:    models.ConfirmedDICOM,
		}})
	}
	return out, nil
}

// discoverScan walks the tree and sniffs every file.
func (e *Extractor) discoverScan(root string, sourceFor func(string) string) (discoveryOutcome, error) {
	walker := &discovery.Walker{Extensions: e.params.Extensions, Log: e.log}
	found, err := walker.Walk(root)
	if err != nil {
		return discoveryOutcome{}, err
	}

	out := discoveryOutcome{}
	for _, cand := range found {
		cand.Source = sourceFor(cand.Path)
		cand.Sequence = e.nextSeq()
		out.items = append(out.items, workItem{cand: cand})
	}
	return out, nil
}

// forceStrategy builds the last-resort strategy: try every sufficiently small
// file through the decoder and keep only the ones that actually yield pixel
// data. Candidacy is proven by decoding, so the decoded datasets are cached
// for the processing loop.
func (e *Extractor) forceStrategy(root string, sourceFor func(string) string) func(ctx context.Context) (discoveryOutcome, error) {
	return func(ctx context.Context) (discoveryOutcome, error) {
		walker := &discovery.Walker{Extensions: e.params.Extensions, Log: e.log}
		files, err := walker.ForceCandidates(root, e.params.ForceParseLimit)
		if err != nil {
			return discoveryOutcome{}, err
		}

		out := discoveryOutcome{decoded: make(map[string]*models.Dataset)}
		for _, cand := range files {
			if err := ctx.Err(); err != nil {
				return discoveryOutcome{}, err
			}
			ds, err := decode.Decode(cand.Path)
			if err != nil {
				continue
			}
			cand.Source = sourceFor(cand.Path)
			cand.Sequence = e.nextSeq()
			cand.Class = models.ConfirmedDICOM
			out.items = append(out.items, workItem{cand: cand})
			out.decoded[cand.Path] = ds
		}
		if n := out.candidateCount(); n > 0 {
			e.log.Info().Str("root", root).Int("recovered", n).
				Msg("force-parse recovered unsigned files")
		}
		return out, nil
	}
}

// findIndexFile returns the first directory-index file encountered in walk
// order, or "" when none exists. Archive producers often nest the file set one
// directory down, so the whole tree is searched.
func findIndexFile(root string) string {
	var found string
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if discovery.IsIndexFile(path) {
			found = path
			return filepath.SkipAll
		}
		return nil
	})
	return found
}
