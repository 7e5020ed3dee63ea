package library

import (
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/deckview/deckview/internal/identity"
	"github.com/deckview/deckview/internal/logging"
	"github.com/deckview/deckview/internal/metrics"
)

// DefaultScanTTL bounds filesystem syscalls under request bursts: repeat
// scans within the window are served from the memoized snapshot.
const DefaultScanTTL = 2 * time.Second

// Options configures an Index.
type Options struct {
	// Root is the content root directory being indexed.
	Root string
	// Extensions is the allowed extension set (lowercase, no dots).
	Extensions map[string]struct{}
	// IgnoreDirs is the set of directory names excluded from scanning.
	IgnoreDirs map[string]struct{}
	// TTL overrides DefaultScanTTL when positive.
	TTL time.Duration
	// OnOrphans, when set, receives the identifiers that were present in
	// the previous snapshot but not the new one. Invoked on its own
	// goroutine so it never blocks a scan.
	OnOrphans func(ids []string)
}

// Index scans the content root and serves memoized snapshots of it.
// Snapshots are swapped in atomically: readers always observe a tree and
// id table from the same scan pass.
type Index struct {
	root      string
	exts      map[string]struct{}
	ignore    map[string]struct{}
	ttl       time.Duration
	onOrphans func(ids []string)

	current atomic.Pointer[Snapshot]
	stale   atomic.Bool
}

// NewIndex creates an index for the given content root.
func NewIndex(opts Options) *Index {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultScanTTL
	}
	return &Index{
		root:      opts.Root,
		exts:      opts.Extensions,
		ignore:    opts.IgnoreDirs,
		ttl:       ttl,
		onOrphans: opts.OnOrphans,
	}
}

// Root returns the content root directory.
func (i *Index) Root() string { return i.root }

// Scan returns the current snapshot, re-walking the content root only when
// the memoized snapshot is older than the TTL, has been invalidated, or
// force is set. Concurrent forced scans are not serialized; each produces
// a complete snapshot and the last swap wins.
func (i *Index) Scan(force bool) *Snapshot {
	if snap := i.current.Load(); snap != nil && !force && !i.stale.Load() &&
		time.Since(snap.Taken) < i.ttl {
		metrics.RecordMemoizedScan()
		return snap
	}

	start := time.Now()
	prev := i.current.Load()

	byID := make(map[string]FileEntry)
	root := i.scanDir(i.root, "", byID)
	if root == nil {
		// Content root missing or unreadable; serve an empty tree rather
		// than failing the caller.
		root = &Node{Name: filepath.Base(i.root), IsDir: true}
	}

	snap := &Snapshot{Root: root, ByID: byID, Taken: time.Now()}
	i.current.Store(snap)
	i.stale.Store(false)

	metrics.RecordLibraryScan(time.Since(start))
	metrics.SetLibraryTreeSize(int64(len(byID)))
	logging.Debug("library scan completed",
		zap.Int("files", len(byID)),
		zap.Int("nodes", CountNodes(root)),
		zap.Duration("duration", time.Since(start)))

	if prev != nil && i.onOrphans != nil {
		var orphans []string
		for id := range prev.ByID {
			if _, ok := byID[id]; !ok {
				orphans = append(orphans, id)
			}
		}
		if len(orphans) > 0 {
			go i.onOrphans(orphans)
		}
	}

	return snap
}

// scanDir walks one directory level. It returns nil for the root when the
// directory cannot be read; unreadable subdirectories are skipped with a
// warning so the scan stays partial-but-consistent.
func (i *Index) scanDir(absDir, relDir string, byID map[string]FileEntry) *Node {
	entries, err := os.ReadDir(absDir)
	if err != nil {
		logging.Warn("skipping unreadable directory",
			zap.String("dir", absDir), zap.Error(err))
		if relDir == "" {
			return nil
		}
		return &Node{Name: filepath.Base(absDir), Path: relDir, IsDir: true}
	}

	// Directories before files, then case-insensitive by name, so the tree
	// shape is reproducible across scans and platforms.
	sort.Slice(entries, func(a, b int) bool {
		if entries[a].IsDir() != entries[b].IsDir() {
			return entries[a].IsDir()
		}
		return strings.ToLower(entries[a].Name()) < strings.ToLower(entries[b].Name())
	})

	node := &Node{Name: filepath.Base(absDir), Path: relDir, IsDir: true}
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		relPath := name
		if relDir != "" {
			relPath = path.Join(relDir, name)
		}

		if entry.IsDir() {
			if _, ignored := i.ignore[name]; ignored {
				continue
			}
			child := i.scanDir(filepath.Join(absDir, name), relPath, byID)
			// Empty subtrees are pruned.
			if child != nil && len(child.Children) > 0 {
				node.Children = append(node.Children, child)
			}
			continue
		}

		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
		if _, allowed := i.exts[ext]; !allowed {
			continue
		}
		kind, ok := KindForExtension(ext)
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			logging.Warn("skipping unreadable file",
				zap.String("path", relPath), zap.Error(err))
			continue
		}

		id := identity.FromPath(relPath)
		node.Children = append(node.Children, &Node{
			Name:    name,
			Path:    relPath,
			ID:      id,
			Kind:    kind,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		byID[id] = FileEntry{
			ID:      id,
			Name:    name,
			RelPath: relPath,
			AbsPath: filepath.Join(absDir, name),
			Kind:    kind,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		}
	}
	return node
}

// Lookup returns the entry for id from the current snapshot, scanning
// first if the memo has expired.
func (i *Index) Lookup(id string) (FileEntry, bool) {
	snap := i.Scan(false)
	entry, ok := snap.ByID[id]
	return entry, ok
}

// LookupByPath returns the entry for a relative path.
func (i *Index) LookupByPath(relPath string) (FileEntry, bool) {
	return i.Lookup(identity.FromPath(relPath))
}

// Invalidate forces the next Scan call to bypass the TTL. Called when the
// watcher reports a change or a file is created through the API.
func (i *Index) Invalidate() {
	i.stale.Store(true)
}

// Stats summarizes the indexed collection.
type Stats struct {
	TotalFiles int          `json:"total_files"`
	ByKind     map[Kind]int `json:"by_type"`
}

// Stats returns document counts for the current snapshot.
func (i *Index) Stats() Stats {
	snap := i.Scan(false)
	stats := Stats{TotalFiles: len(snap.ByID), ByKind: make(map[Kind]int)}
	for _, entry := range snap.ByID {
		stats.ByKind[entry.Kind]++
	}
	return stats
}
