package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	base := t.TempDir()
	s, err := New(
		filepath.Join(base, "converted"),
		filepath.Join(base, "thumbnails"),
		filepath.Join(base, "cache"),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func writeFile(t *testing.T, path string, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestSafeDeleteInsideSandbox(t *testing.T) {
	s := newTestStore(t)
	p := s.PDFPath("abc123abc123abc1")
	writeFile(t, p, "pdf")

	if !s.SafeDelete(p) {
		t.Fatal("expected deletion inside sandbox to succeed")
	}
	if _, err := os.Stat(p); !os.IsNotExist(err) {
		t.Fatalf("file still exists after SafeDelete: %v", err)
	}
}

func TestSafeDeleteRefusesOutsideSandbox(t *testing.T) {
	s := newTestStore(t)
	outside := filepath.Join(t.TempDir(), "source.pptx")
	writeFile(t, outside, "source")

	if s.SafeDelete(outside) {
		t.Fatal("deleted a file outside the sandbox")
	}
	if _, err := os.Stat(outside); err != nil {
		t.Fatalf("outside file should be untouched: %v", err)
	}
}

func TestSafeDeleteRefusesTraversal(t *testing.T) {
	s := newTestStore(t)
	victim := filepath.Join(filepath.Dir(s.ConvertedDir()), "victim")
	writeFile(t, victim, "victim")

	// Built by hand so the ".." components survive into the call.
	sep := string(filepath.Separator)
	p := s.ConvertedDir() + sep + ".." + sep + "victim"
	if s.SafeDelete(p) {
		t.Fatal("deleted through a parent traversal path")
	}
	if _, err := os.Stat(victim); err != nil {
		t.Fatalf("traversal target should be untouched: %v", err)
	}
}

func TestSafeDeleteRefusesSymlinkEscape(t *testing.T) {
	s := newTestStore(t)
	outside := filepath.Join(t.TempDir(), "victim.txt")
	writeFile(t, outside, "victim")
	link := filepath.Join(s.ConvertedDir(), "escape.pdf")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	if s.SafeDelete(link) {
		t.Fatal("deleted through a symlink pointing outside the sandbox")
	}
	if _, err := os.Stat(outside); err != nil {
		t.Fatalf("symlink target should be untouched: %v", err)
	}
}

func TestSafeDeleteMissingFile(t *testing.T) {
	s := newTestStore(t)
	if s.SafeDelete(s.PDFPath("ffffffffffffffff")) {
		t.Fatal("SafeDelete reported success for a missing file")
	}
}

func TestIsValid(t *testing.T) {
	s := newTestStore(t)
	const id = "abc123abc123abc1"

	if s.IsValid(id, 0) {
		t.Fatal("missing artifact reported valid")
	}

	p := s.PDFPath(id)
	writeFile(t, p, "pdf")
	info, err := os.Stat(p)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	artifactTime := info.ModTime().UnixNano()

	if !s.IsValid(id, artifactTime-int64(time.Second)) {
		t.Fatal("artifact newer than source reported stale")
	}
	if s.IsValid(id, artifactTime) {
		t.Fatal("artifact with equal mtime must be stale")
	}
	if s.IsValid(id, artifactTime+int64(time.Second)) {
		t.Fatal("artifact older than source reported valid")
	}
}

func TestClearArtifacts(t *testing.T) {
	s := newTestStore(t)
	const id = "abc123abc123abc1"
	const other = "ffffffffffffffff"

	writeFile(t, s.PDFPath(id), "pdf")
	writeFile(t, s.ThumbnailPath(id, 1, "png"), "thumb")
	writeFile(t, s.ThumbnailPath(id, 2, "png"), "thumb")
	writeFile(t, s.PDFPath(other), "pdf")
	writeFile(t, s.ThumbnailPath(other, 1, "png"), "thumb")

	if got := s.ClearArtifacts(id); got != 3 {
		t.Fatalf("ClearArtifacts = %d, want 3", got)
	}
	if _, err := os.Stat(s.PDFPath(other)); err != nil {
		t.Fatalf("unrelated PDF was removed: %v", err)
	}
	if _, err := os.Stat(s.ThumbnailPath(other, 1, "png")); err != nil {
		t.Fatalf("unrelated thumbnail was removed: %v", err)
	}
	if got := s.ClearArtifacts(id); got != 0 {
		t.Fatalf("second ClearArtifacts = %d, want 0", got)
	}
}

func TestReclaimOrphans(t *testing.T) {
	s := newTestStore(t)
	const live = "abc123abc123abc1"
	const dead = "ffffffffffffffff"

	writeFile(t, s.PDFPath(live), "pdf")
	writeFile(t, s.ThumbnailPath(live, 1, "png"), "thumb")
	writeFile(t, s.PDFPath(dead), "pdf")
	writeFile(t, s.ThumbnailPath(dead, 1, "png"), "thumb")
	writeFile(t, s.ThumbnailPath(dead, 2, "png"), "thumb")

	got := s.ReclaimOrphans(map[string]struct{}{live: {}})
	if got != 3 {
		t.Fatalf("ReclaimOrphans = %d, want 3", got)
	}
	if _, err := os.Stat(s.PDFPath(live)); err != nil {
		t.Fatalf("live PDF removed: %v", err)
	}
	if _, err := os.Stat(s.ThumbnailPath(live, 1, "png")); err != nil {
		t.Fatalf("live thumbnail removed: %v", err)
	}
}

func TestThumbnailOwner(t *testing.T) {
	cases := []struct {
		name string
		id   string
		ok   bool
	}{
		{"abc123abc123abc1_page1.png", "abc123abc123abc1", true},
		{"abc123abc123abc1_page12.jpg", "abc123abc123abc1", true},
		{"with_page_in_name_page3.png", "with_page_in_name", true},
		{"_page1.png", "", false},
		{"noseparator.png", "", false},
	}
	for _, tc := range cases {
		id, ok := thumbnailOwner(tc.name)
		if ok != tc.ok || id != tc.id {
			t.Errorf("thumbnailOwner(%q) = (%q, %v), want (%q, %v)",
				tc.name, id, ok, tc.id, tc.ok)
		}
	}
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	writeFile(t, s.PDFPath("abc123abc123abc1"), "12345")
	writeFile(t, s.ThumbnailPath("abc123abc123abc1", 1, "png"), "123")

	stats := s.Stats()
	if stats.ConvertedCount != 1 || stats.ConvertedBytes != 5 {
		t.Errorf("converted stats = %d/%d, want 1/5", stats.ConvertedCount, stats.ConvertedBytes)
	}
	if stats.ThumbnailCount != 1 || stats.ThumbnailBytes != 3 {
		t.Errorf("thumbnail stats = %d/%d, want 1/3", stats.ThumbnailCount, stats.ThumbnailBytes)
	}
}
