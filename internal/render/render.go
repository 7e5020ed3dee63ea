// Package render rasterizes PDF pages into page thumbnails.
package render

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"github.com/deckview/deckview/internal/logging"
	"github.com/deckview/deckview/internal/metrics"
)

// ErrUnavailable is returned when no rasterization backend is installed.
var ErrUnavailable = errors.New("pdf rendering unavailable")

const (
	// DefaultWidth is the thumbnail width in pixels.
	DefaultWidth = 200
	// DefaultFormat is the thumbnail image format.
	DefaultFormat = "png"

	rasterTimeout = 60 * time.Second
)

// Renderer rasterizes PDFs. Implementations are safe for concurrent use.
type Renderer interface {
	// Rasterize renders every page of pdfPath as a thumbnail named
	// {id}_page{n}.{format} (1-indexed) inside outputDir, returning the
	// produced paths in page order.
	Rasterize(ctx context.Context, pdfPath, outputDir, id string) ([]string, error)
	// PageCount returns the number of pages in pdfPath.
	PageCount(ctx context.Context, pdfPath string) (int, error)
	// Available reports whether the backend can run on this host.
	Available() bool
}

// Poppler rasterizes with pdftoppm and counts pages with pdfinfo.
type Poppler struct {
	width  int
	format string
}

// NewPoppler creates a Poppler renderer. Non-positive width and empty
// format fall back to the defaults.
func NewPoppler(width int, format string) *Poppler {
	if width <= 0 {
		width = DefaultWidth
	}
	if format == "" {
		format = DefaultFormat
	}
	return &Poppler{width: width, format: format}
}

// Available reports whether both poppler tools resolve on this host.
func (p *Poppler) Available() bool {
	if _, err := exec.LookPath("pdftoppm"); err != nil {
		return false
	}
	_, err := exec.LookPath("pdfinfo")
	return err == nil
}

// PageCount parses the "Pages:" line of pdfinfo output.
func (p *Poppler) PageCount(ctx context.Context, pdfPath string) (int, error) {
	cmd := exec.CommandContext(ctx, "pdfinfo", pdfPath)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("pdfinfo failed for %s: %w", pdfPath, err)
	}

	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "Pages:") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "Pages:")))
		if err != nil {
			return 0, fmt.Errorf("parse pdfinfo page count: %w", err)
		}
		return n, nil
	}
	return 0, fmt.Errorf("no page count in pdfinfo output for %s", pdfPath)
}

// Rasterize runs pdftoppm into a scratch prefix, then normalizes each
// page to the configured width and format.
func (p *Poppler) Rasterize(ctx context.Context, pdfPath, outputDir, id string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, rasterTimeout)
	defer cancel()

	scratch, err := os.MkdirTemp(outputDir, "raster-*")
	if err != nil {
		return nil, fmt.Errorf("create raster scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	prefix := filepath.Join(scratch, "page")
	cmd := exec.CommandContext(ctx, "pdftoppm",
		"-png", "-scale-to-x", strconv.Itoa(p.width), "-scale-to-y", "-1",
		pdfPath, prefix)
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("pdftoppm failed: %w: %s", err, strings.TrimSpace(string(output)))
	}

	// pdftoppm zero-pads page numbers, so lexical order is page order.
	raw, err := filepath.Glob(prefix + "-*.png")
	if err != nil || len(raw) == 0 {
		return nil, fmt.Errorf("pdftoppm produced no pages for %s", pdfPath)
	}
	sort.Strings(raw)

	paths := make([]string, 0, len(raw))
	for i, src := range raw {
		dst := filepath.Join(outputDir, fmt.Sprintf("%s_page%d.%s", id, i+1, p.format))
		if err := p.normalize(src, dst); err != nil {
			return nil, fmt.Errorf("normalize page %d: %w", i+1, err)
		}
		paths = append(paths, dst)
	}

	metrics.RecordThumbnails(len(paths))
	logging.Info("rasterized document",
		zap.String("pdf", pdfPath),
		zap.Int("pages", len(paths)))
	return paths, nil
}

// normalize re-encodes a rendered page at the configured width and
// format. The resize is a no-op when pdftoppm already hit the width, but
// it keeps output dimensions exact for PDFs pdftoppm refuses to scale.
func (p *Poppler) normalize(src, dst string) error {
	img, err := imaging.Open(src)
	if err != nil {
		return err
	}
	if img.Bounds().Dx() != p.width {
		img = imaging.Resize(img, p.width, 0, imaging.Lanczos)
	}
	return imaging.Save(img, dst)
}

// Unavailable is the renderer used when poppler is not installed.
type Unavailable struct{}

func (Unavailable) Rasterize(context.Context, string, string, string) ([]string, error) {
	return nil, ErrUnavailable
}

func (Unavailable) PageCount(context.Context, string) (int, error) {
	return 0, ErrUnavailable
}

func (Unavailable) Available() bool { return false }

// Select returns the Poppler renderer when its tools resolve, and the
// Unavailable renderer otherwise.
func Select(width int, format string) Renderer {
	pop := NewPoppler(width, format)
	if pop.Available() {
		return pop
	}
	logging.Warn("poppler not found; thumbnails cannot be generated")
	return Unavailable{}
}
