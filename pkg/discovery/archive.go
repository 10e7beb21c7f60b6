package discovery

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"dicomextract/pkg/signature"
)

// IsArchive reports whether the path names a ZIP archive by extension.
func IsArchive(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".zip")
}

// ScanArchive enumerates the entries of a ZIP archive without extracting it
// and returns, in archive order, the names of entries whose first 132 bytes
// classify as DICOM. Directory entries are skipped and unreadable entries are
// logged and excluded. Reads are bounded to the sniffing prefix; no entry is
// ever fully materialized.
func ScanArchive(zipPath string, log zerolog.Logger) ([]string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", zipPath, err)
	}
	defer r.Close()

	var names []string
	for _, entry := range r.File {
		if entry.FileInfo().IsDir() {
			continue
		}
		ok, err := sniffEntry(entry)
		if err != nil {
			log.Warn().Err(err).Str("entry", entry.Name).Msg("cannot sniff archive entry")
			continue
		}
		if ok {
			names = append(names, entry.Name)
		}
	}
	return names, nil
}

// CountArchive reports how many entries of the archive sniff as DICOM. It
// exists for the presentation boundary, which shows a pre-extraction count.
func CountArchive(zipPath string, log zerolog.Logger) (int, error) {
	names, err := ScanArchive(zipPath, log)
	if err != nil {
		return 0, err
	}
	return len(names), nil
}

// sniffEntry opens one archive entry in place and classifies its prefix.
func sniffEntry(entry *zip.File) (bool, error) {
	rc, err := entry.Open()
	if err != nil {
		return false, err
	}
	defer rc.Close()

	buf := make([]byte, signature.PrefixLength)
	n, err := io.ReadFull(rc, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return false, err
	}
	return signature.Classify(buf[:n]), nil
}

// ExtractArchive extracts every entry of the ZIP archive under dest,
// preserving entry paths. Entries that would escape dest are rejected. The
// archive is fully extracted before any decoding happens, because an index
// file's referenced paths resolve relative to the extraction root.
func ExtractArchive(zipPath, dest string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("open archive %s: %w", zipPath, err)
	}
	defer r.Close()

	for _, entry := range r.File {
		if err := extractEntry(entry, dest); err != nil {
			return fmt.Errorf("extract %s: %w", entry.Name, err)
		}
	}
	return nil
}

// extractEntry writes one archive entry below dest.
func extractEntry(entry *zip.File, dest string) error {
	target := filepath.Join(dest, filepath.FromSlash(entry.Name))

	// Reject entries that traverse outside the extraction root.
	if rel, err := filepath.Rel(dest, target); err != nil || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("entry path escapes extraction root")
	}

	if entry.FileInfo().IsDir() {
		return os.MkdirAll(target, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	rc, err := entry.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
