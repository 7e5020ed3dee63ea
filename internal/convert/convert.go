// Package convert turns office documents into PDFs.
package convert

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/deckview/deckview/internal/logging"
	"github.com/deckview/deckview/internal/metrics"
)

// ErrUnavailable is returned when no conversion backend is installed.
var ErrUnavailable = errors.New("document conversion unavailable")

// DefaultTimeout bounds a single conversion run.
const DefaultTimeout = 120 * time.Second

// Converter produces a PDF from an office document. Implementations are
// safe for concurrent use.
type Converter interface {
	// Convert renders sourcePath to a PDF inside outputDir and returns
	// the produced file's path.
	Convert(ctx context.Context, sourcePath, outputDir string) (string, error)
	// Available reports whether the backend can run on this host.
	Available() bool
}

// LibreOffice converts documents by invoking a headless soffice process.
type LibreOffice struct {
	binary  string
	timeout time.Duration
}

// NewLibreOffice creates a converter using the given soffice binary. An
// empty binary falls back to "soffice" on PATH; a non-positive timeout
// falls back to DefaultTimeout.
func NewLibreOffice(binary string, timeout time.Duration) *LibreOffice {
	if binary == "" {
		binary = "soffice"
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &LibreOffice{binary: binary, timeout: timeout}
}

// Available reports whether the soffice binary resolves on this host.
func (l *LibreOffice) Available() bool {
	_, err := exec.LookPath(l.binary)
	return err == nil
}

// Convert runs soffice headless. The subprocess is killed when the
// timeout or the caller's context expires.
func (l *LibreOffice) Convert(ctx context.Context, sourcePath, outputDir string) (string, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, l.binary,
		"--headless", "--invisible", "--nologo", "--nofirststartwizard",
		"--convert-to", "pdf", "--outdir", outputDir, sourcePath)
	output, err := cmd.CombinedOutput()
	if err != nil {
		metrics.RecordConversion("pdf", time.Since(start), false)
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("conversion timed out after %s: %w", l.timeout, ctx.Err())
		}
		return "", fmt.Errorf("soffice failed: %w: %s", err, strings.TrimSpace(string(output)))
	}

	// soffice names the output after the source stem.
	stem := strings.TrimSuffix(filepath.Base(sourcePath), filepath.Ext(sourcePath))
	produced := filepath.Join(outputDir, stem+".pdf")
	if _, err := os.Stat(produced); err != nil {
		metrics.RecordConversion("pdf", time.Since(start), false)
		return "", fmt.Errorf("conversion produced no output for %s: %w", sourcePath, err)
	}

	metrics.RecordConversion("pdf", time.Since(start), true)
	logging.Info("converted document",
		zap.String("source", sourcePath),
		zap.Duration("duration", time.Since(start)))
	return produced, nil
}

// Unavailable is the converter used when no backend is installed. Every
// call fails with ErrUnavailable.
type Unavailable struct{}

func (Unavailable) Convert(context.Context, string, string) (string, error) {
	return "", ErrUnavailable
}

func (Unavailable) Available() bool { return false }

// Select returns the LibreOffice converter when it can run, and the
// Unavailable converter otherwise.
func Select(binary string, timeout time.Duration) Converter {
	lo := NewLibreOffice(binary, timeout)
	if lo.Available() {
		return lo
	}
	logging.Warn("libreoffice not found; office documents cannot be viewed",
		zap.String("binary", binary))
	return Unavailable{}
}
