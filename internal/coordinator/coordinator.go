// Package coordinator wires the library index, artifact cache,
// converter, and renderer into document-level operations.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/deckview/deckview/internal/cache"
	"github.com/deckview/deckview/internal/convert"
	"github.com/deckview/deckview/internal/events"
	"github.com/deckview/deckview/internal/library"
	"github.com/deckview/deckview/internal/logging"
	"github.com/deckview/deckview/internal/render"
)

var (
	// ErrNotFound means no document with the given id exists.
	ErrNotFound = errors.New("document not found")
	// ErrUnsupported means the operation does not apply to the
	// document's type.
	ErrUnsupported = errors.New("operation not supported for document type")
	// ErrPageRange means the requested page does not exist.
	ErrPageRange = errors.New("page out of range")
	// ErrNotText means content bytes are not valid UTF-8.
	ErrNotText = errors.New("content is not valid UTF-8")
)

// Coordinator exposes document operations over the index and cache. All
// dependencies are injected; it holds no global state.
type Coordinator struct {
	index       *library.Index
	store       *cache.Store
	converter   convert.Converter
	renderer    render.Renderer
	broadcaster *events.Broadcaster
	thumbFormat string
}

// New creates a Coordinator.
func New(index *library.Index, store *cache.Store, converter convert.Converter,
	renderer render.Renderer, broadcaster *events.Broadcaster, thumbFormat string) *Coordinator {
	if thumbFormat == "" {
		thumbFormat = render.DefaultFormat
	}
	return &Coordinator{
		index:       index,
		store:       store,
		converter:   converter,
		renderer:    renderer,
		broadcaster: broadcaster,
		thumbFormat: thumbFormat,
	}
}

// Index returns the underlying library index.
func (c *Coordinator) Index() *library.Index { return c.index }

// Store returns the underlying cache store.
func (c *Coordinator) Store() *cache.Store { return c.store }

// Lookup returns the entry for a document id.
func (c *Coordinator) Lookup(id string) (library.FileEntry, bool) {
	return c.index.Lookup(id)
}

// DocumentInfo is a FileEntry plus derived viewer state.
type DocumentInfo struct {
	library.FileEntry
	Converted bool `json:"converted"`
	Pages     int  `json:"pages,omitempty"`
}

// Describe returns a document's entry with its conversion state and, when
// a PDF form is already on disk, its page count. It never triggers a
// conversion.
func (c *Coordinator) Describe(ctx context.Context, id string) (DocumentInfo, error) {
	entry, ok := c.index.Lookup(id)
	if !ok {
		return DocumentInfo{}, ErrNotFound
	}

	info := DocumentInfo{FileEntry: entry}
	switch {
	case entry.Kind == library.KindPDF:
		info.Converted = true
		if n, err := c.renderer.PageCount(ctx, entry.AbsPath); err == nil {
			info.Pages = n
		}
	case entry.Kind.NeedsConversion():
		if c.store.IsValid(id, entry.ModTime.UnixNano()) {
			info.Converted = true
			if n, err := c.renderer.PageCount(ctx, c.store.PDFPath(id)); err == nil {
				info.Pages = n
			}
		}
	}
	return info, nil
}

// DocumentPDF returns a filesystem path to the PDF representation of a
// document, converting office documents on demand. Cached conversions
// are reused while they are newer than the source file.
func (c *Coordinator) DocumentPDF(ctx context.Context, id string) (string, error) {
	entry, ok := c.index.Lookup(id)
	if !ok {
		return "", ErrNotFound
	}

	switch {
	case entry.Kind == library.KindPDF:
		return entry.AbsPath, nil
	case !entry.Kind.NeedsConversion():
		return "", fmt.Errorf("%w: %s", ErrUnsupported, entry.Kind)
	}

	target := c.store.PDFPath(id)
	if c.store.IsValid(id, entry.ModTime.UnixNano()) {
		return target, nil
	}

	// Stale artifacts go before the new conversion so a failed run never
	// leaves an outdated PDF behind.
	c.store.ClearArtifacts(id)

	produced, err := c.converter.Convert(ctx, entry.AbsPath, c.store.ScratchDir())
	if err != nil {
		return "", fmt.Errorf("convert %s: %w", entry.RelPath, err)
	}
	if err := os.Rename(produced, target); err != nil {
		c.store.SafeDelete(produced)
		return "", fmt.Errorf("store converted pdf: %w", err)
	}
	return target, nil
}

// Thumbnail returns a filesystem path to the rendered thumbnail of a
// 1-indexed page, rasterizing the whole document on a cache miss.
func (c *Coordinator) Thumbnail(ctx context.Context, id string, page int) (string, error) {
	if page < 1 {
		return "", ErrPageRange
	}

	pdfPath, err := c.DocumentPDF(ctx, id)
	if err != nil {
		return "", err
	}

	thumb := c.store.ThumbnailPath(id, page, c.thumbFormat)
	if _, err := os.Stat(thumb); err == nil {
		return thumb, nil
	}

	paths, err := c.renderer.Rasterize(ctx, pdfPath, c.store.ThumbnailDir(), id)
	if err != nil {
		return "", fmt.Errorf("rasterize %s: %w", id, err)
	}
	if page > len(paths) {
		return "", fmt.Errorf("%w: page %d of %d", ErrPageRange, page, len(paths))
	}
	return paths[page-1], nil
}

// PageCount returns the number of pages in a document's PDF form.
func (c *Coordinator) PageCount(ctx context.Context, id string) (int, error) {
	pdfPath, err := c.DocumentPDF(ctx, id)
	if err != nil {
		return 0, err
	}
	return c.renderer.PageCount(ctx, pdfPath)
}

// Content returns the raw text of a markdown document.
func (c *Coordinator) Content(id string) ([]byte, error) {
	entry, ok := c.index.Lookup(id)
	if !ok {
		return nil, ErrNotFound
	}
	if entry.Kind != library.KindMarkdown {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, entry.Kind)
	}
	data, err := os.ReadFile(entry.AbsPath)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", entry.RelPath, err)
	}
	return data, nil
}

// SaveContent overwrites a markdown document with new UTF-8 text and
// notifies subscribers.
func (c *Coordinator) SaveContent(id string, content []byte) error {
	entry, ok := c.index.Lookup(id)
	if !ok {
		return ErrNotFound
	}
	if entry.Kind != library.KindMarkdown {
		return fmt.Errorf("%w: %s", ErrUnsupported, entry.Kind)
	}
	if !utf8.Valid(content) {
		return ErrNotText
	}
	if err := os.WriteFile(entry.AbsPath, content, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", entry.RelPath, err)
	}

	c.index.Invalidate()
	c.broadcaster.TreeChanged()
	logging.Info("document content saved",
		zap.String("id", id), zap.Int("bytes", len(content)))
	return nil
}

// NotifyTreeChanged invalidates the index memo and fans the change out
// to SSE subscribers. Wired as the watcher's tick callback.
func (c *Coordinator) NotifyTreeChanged() {
	c.index.Invalidate()
	c.broadcaster.TreeChanged()
}

// HandleOrphans deletes cached artifacts for documents that left the
// tree. Wired as the index's orphan callback.
func (c *Coordinator) HandleOrphans(ids []string) {
	total := 0
	for _, id := range ids {
		total += c.store.ClearArtifacts(id)
	}
	if total > 0 {
		logging.Info("removed artifacts for vanished documents",
			zap.Int("documents", len(ids)), zap.Int("files", total))
	}
}

// Sweep forces a scan and reclaims every artifact not owned by a live
// document. Run once at startup.
func (c *Coordinator) Sweep() {
	snap := c.index.Scan(true)
	c.store.ReclaimOrphans(snap.IDs())
}
