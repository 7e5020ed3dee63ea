// Package cache owns the derived-artifact sandbox directories.
//
// Safety rules:
//  1. Only the converted, thumbnail, and scratch directories are touched.
//  2. Source files are never deleted or modified.
//  3. Every deletion passes a resolved-path containment check first.
package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/deckview/deckview/internal/logging"
	"github.com/deckview/deckview/internal/metrics"
)

// Store manages converted PDFs and page thumbnails. The sandbox allow-list
// is computed once at construction and read-only afterwards.
type Store struct {
	convertedDir string
	thumbnailDir string
	scratchDir   string
	allowed      []string // resolved sandbox roots
}

// New creates a Store over the three sandbox directories, creating them if
// missing. Directory paths are resolved through any symlinks up front so
// the containment check compares like with like.
func New(convertedDir, thumbnailDir, scratchDir string) (*Store, error) {
	s := &Store{}
	dirs := []struct {
		raw string
		dst *string
	}{
		{convertedDir, &s.convertedDir},
		{thumbnailDir, &s.thumbnailDir},
		{scratchDir, &s.scratchDir},
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d.raw, 0o755); err != nil {
			return nil, fmt.Errorf("create sandbox dir %s: %w", d.raw, err)
		}
		resolved, err := filepath.EvalSymlinks(d.raw)
		if err != nil {
			return nil, fmt.Errorf("resolve sandbox dir %s: %w", d.raw, err)
		}
		abs, err := filepath.Abs(resolved)
		if err != nil {
			return nil, fmt.Errorf("resolve sandbox dir %s: %w", d.raw, err)
		}
		*d.dst = abs
		s.allowed = append(s.allowed, abs)
	}
	return s, nil
}

// PDFPath returns the canonical converted-PDF path for a document id.
func (s *Store) PDFPath(id string) string {
	return filepath.Join(s.convertedDir, id+".pdf")
}

// ThumbnailPath returns the canonical thumbnail path for a 1-indexed page.
func (s *Store) ThumbnailPath(id string, page int, format string) string {
	return filepath.Join(s.thumbnailDir, fmt.Sprintf("%s_page%d.%s", id, page, format))
}

// ThumbnailDir returns the thumbnail sandbox directory.
func (s *Store) ThumbnailDir() string { return s.thumbnailDir }

// ConvertedDir returns the converted-PDF sandbox directory.
func (s *Store) ConvertedDir() string { return s.convertedDir }

// ScratchDir returns the scratch sandbox directory.
func (s *Store) ScratchDir() string { return s.scratchDir }

// isSafePath reports whether path resolves to a location inside one of the
// sandbox directories. Any resolution failure is treated as unsafe.
func (s *Store) isSafePath(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return false
	}
	for _, dir := range s.allowed {
		if resolved == dir || strings.HasPrefix(resolved, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// SafeDelete removes path if and only if it resolves into a sandbox
// directory and is an existing regular file. It is the only deletion
// primitive in the system. Refusals and failures return false; they never
// propagate as errors.
func (s *Store) SafeDelete(path string) bool {
	if !s.isSafePath(path) {
		metrics.RecordSafetyRefusal()
		logging.Warn("refusing to delete path outside sandbox", zap.String("path", path))
		return false
	}
	info, err := os.Lstat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	if err := os.Remove(path); err != nil {
		logging.Error("failed to delete cache file", zap.String("path", path), zap.Error(err))
		return false
	}
	logging.Debug("deleted cache file", zap.String("path", path))
	return true
}

// IsValid reports whether the converted PDF for id exists and is newer
// than the source file's modification time.
func (s *Store) IsValid(id string, sourceMtime int64) bool {
	valid := s.isValid(id, sourceMtime)
	metrics.RecordValidityCheck(valid)
	return valid
}

func (s *Store) isValid(id string, sourceMtime int64) bool {
	info, err := os.Stat(s.PDFPath(id))
	if err != nil {
		return false
	}
	// Strictly newer: an artifact written in the same instant the source
	// changed is treated as stale.
	return info.ModTime().UnixNano() > sourceMtime
}

// ClearArtifacts deletes the converted PDF and every page thumbnail for
// id, returning the number of files removed.
func (s *Store) ClearArtifacts(id string) int {
	deleted := 0
	if s.SafeDelete(s.PDFPath(id)) {
		deleted++
	}
	thumbs, err := filepath.Glob(filepath.Join(s.thumbnailDir, id+"_page*"))
	if err == nil {
		for _, thumb := range thumbs {
			if s.SafeDelete(thumb) {
				deleted++
			}
		}
	}
	if deleted > 0 {
		metrics.RecordArtifactsDeleted("stale", deleted)
		logging.Info("cleared cached artifacts",
			zap.String("id", id), zap.Int("deleted", deleted))
	}
	return deleted
}

// ReclaimOrphans deletes every artifact whose embedded identifier is not
// in liveIDs. Runs after each fresh scan and at startup.
func (s *Store) ReclaimOrphans(liveIDs map[string]struct{}) int {
	deleted := 0

	pdfs, err := filepath.Glob(filepath.Join(s.convertedDir, "*.pdf"))
	if err == nil {
		for _, pdf := range pdfs {
			id := strings.TrimSuffix(filepath.Base(pdf), ".pdf")
			if _, live := liveIDs[id]; !live {
				if s.SafeDelete(pdf) {
					deleted++
				}
			}
		}
	}

	thumbs, err := filepath.Glob(filepath.Join(s.thumbnailDir, "*_page*"))
	if err == nil {
		for _, thumb := range thumbs {
			id, ok := thumbnailOwner(filepath.Base(thumb))
			if !ok {
				continue
			}
			if _, live := liveIDs[id]; !live {
				if s.SafeDelete(thumb) {
					deleted++
				}
			}
		}
	}

	if deleted > 0 {
		metrics.RecordArtifactsDeleted("orphan", deleted)
		logging.Info("reclaimed orphan cache files", zap.Int("deleted", deleted))
	}
	return deleted
}

// thumbnailOwner extracts the document id from a thumbnail file name of
// the form {id}_page{n}.{ext}.
func thumbnailOwner(name string) (string, bool) {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	idx := strings.LastIndex(stem, "_page")
	if idx <= 0 {
		return "", false
	}
	return stem[:idx], true
}

// Stats aggregates best-effort counts and byte totals for the sandboxes.
type Stats struct {
	ConvertedCount int   `json:"converted_count"`
	ConvertedBytes int64 `json:"converted_size"`
	ThumbnailCount int   `json:"thumbnail_count"`
	ThumbnailBytes int64 `json:"thumbnail_size"`
}

// Stats returns cache statistics. Per-file stat failures are skipped.
func (s *Store) Stats() Stats {
	var stats Stats
	if pdfs, err := filepath.Glob(filepath.Join(s.convertedDir, "*.pdf")); err == nil {
		for _, pdf := range pdfs {
			info, err := os.Stat(pdf)
			if err != nil {
				continue
			}
			stats.ConvertedCount++
			stats.ConvertedBytes += info.Size()
		}
	}
	if thumbs, err := filepath.Glob(filepath.Join(s.thumbnailDir, "*_page*")); err == nil {
		for _, thumb := range thumbs {
			info, err := os.Stat(thumb)
			if err != nil {
				continue
			}
			stats.ThumbnailCount++
			stats.ThumbnailBytes += info.Size()
		}
	}
	return stats
}
