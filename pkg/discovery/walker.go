// Package discovery enumerates candidate DICOM files from directory trees and
// ZIP archives. Each candidate is classified by content sniffing, with the
// filename extension as an advisory fast path; anything unreadable is logged
// and excluded rather than aborting the walk.
package discovery

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"dicomextract/internal/models"
	"dicomextract/pkg/signature"
)

// IndexFileName is the conventional name of a directory-index file at the root
// of a DICOM file set.
const IndexFileName = "DICOMDIR"

// IsIndexFile reports whether the path names a directory-index file,
// case-insensitively, wherever it is encountered.
func IsIndexFile(path string) bool {
	return strings.EqualFold(filepath.Base(path), IndexFileName)
}

// Walker discovers candidates on the filesystem.
type Walker struct {
	// Extensions are the advisory DICOM filename suffixes. Nil means the
	// signature package defaults.
	Extensions []string

	Log zerolog.Logger
}

// Walk recursively visits every regular file under root once, sniffs its first
// 132 bytes, and returns the candidates that classify as DICOM in walk order.
// Files matching a DICOM extension are accepted even when sniffing fails.
// Directory-index files are never returned as pixel candidates; they are
// handled by the index resolver instead.
func (w *Walker) Walk(root string) ([]models.Candidate, error) {
	var found []models.Candidate
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			w.Log.Warn().Err(err).Str("path", path).Msg("skipping unreadable entry")
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if IsIndexFile(path) {
			return nil
		}
		if !w.classifyFile(path, d.Name()) {
			return nil
		}
		found = append(found, models.Candidate{
			Path:   path,
			Source: path,
			Class:  models.ConfirmedDICOM,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// ClassifyPath sniffs a single file the same way the walk does: content first,
// extension hint second.
func (w *Walker) ClassifyPath(path string) bool {
	return w.classifyFile(path, filepath.Base(path))
}

// classifyFile reads the sniffing prefix from disk and applies the signature
// check, falling back to the extension hint when content sniffing says no.
func (w *Walker) classifyFile(path, name string) bool {
	prefix, err := readPrefix(path)
	if err != nil {
		w.Log.Warn().Err(err).Str("path", path).Msg("cannot read file prefix")
		return signature.MatchesExtension(name, w.Extensions)
	}
	if signature.Classify(prefix) {
		return true
	}
	return signature.MatchesExtension(name, w.Extensions)
}

// ForceCandidates returns every regular file under root larger than the
// sniffing prefix and no larger than limit bytes, excluding directory-index
// files. It backs the last-resort discovery strategy that force-parses
// unsigned files; the size cap bounds an otherwise unbounded heuristic.
func (w *Walker) ForceCandidates(root string, limit int64) ([]models.Candidate, error) {
	var found []models.Candidate
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || IsIndexFile(path) {
			if d != nil && d.IsDir() && err != nil {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.Size() <= signature.PrefixLength {
			return nil
		}
		if limit > 0 && info.Size() > limit {
			w.Log.Debug().Str("path", path).Int64("size", info.Size()).
				Msg("file exceeds force-parse limit")
			return nil
		}
		found = append(found, models.Candidate{
			Path:   path,
			Source: path,
			Class:  models.Unclassified,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// readPrefix reads up to signature.PrefixLength bytes from the start of the
// file. A short file yields a short prefix, which is a valid detector input.
func readPrefix(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, signature.PrefixLength)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf[:n], nil
}
