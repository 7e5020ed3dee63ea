// Package api provides the HTTP server and handlers.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/deckview/deckview/internal/convert"
	"github.com/deckview/deckview/internal/coordinator"
	"github.com/deckview/deckview/internal/events"
	"github.com/deckview/deckview/internal/identity"
	"github.com/deckview/deckview/internal/logging"
	"github.com/deckview/deckview/internal/metrics"
	"github.com/deckview/deckview/internal/render"
)

// maxContentSize caps PUT content bodies.
const maxContentSize = 10 << 20 // 10 MB

// Version reported by the health endpoint.
const Version = "1.0"

// Server is the HTTP server.
type Server struct {
	coord       *coordinator.Coordinator
	broadcaster *events.Broadcaster
	heartbeat   time.Duration
}

// NewServer creates a new server.
func NewServer(coord *coordinator.Coordinator, broadcaster *events.Broadcaster, heartbeat time.Duration) *Server {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	return &Server{
		coord:       coord,
		broadcaster: broadcaster,
		heartbeat:   heartbeat,
	}
}

// Handler builds the route table wrapped in logging and metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /api/library/tree", s.handleTree)
	mux.HandleFunc("GET /api/library/stats", s.handleStats)
	mux.HandleFunc("GET /api/library/events", s.handleEvents)

	mux.HandleFunc("GET /api/library/files/{id}", s.handleFileInfo)
	mux.HandleFunc("GET /api/library/files/{id}/pdf", s.handlePDF)
	mux.HandleFunc("GET /api/library/files/{id}/thumbnails/{page}", s.handleThumbnail)
	mux.HandleFunc("GET /api/library/files/{id}/content", s.handleGetContent)
	mux.HandleFunc("PUT /api/library/files/{id}/content", s.handlePutContent)

	return metrics.Middleware(logging.Middleware(mux))
}

// ─── Health ─────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok", "version": Version})
}

// ─── Tree ───────────────────────────────────────────────────────────────────

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("refresh") == "1"
	snap := s.coord.Index().Scan(force)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"root":  snap.Root,
		"count": len(snap.ByID),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"library": s.coord.Index().Stats(),
		"cache":   s.coord.Store().Stats(),
	})
}

// ─── Files ──────────────────────────────────────────────────────────────────

func (s *Server) handleFileInfo(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !identity.Valid(id) {
		s.sendError(w, http.StatusBadRequest, "invalid file id")
		return
	}

	info, err := s.coord.Describe(r.Context(), id)
	if err != nil {
		s.sendDocumentError(w, err)
		return
	}

	thumbnails := make([]string, 0, info.Pages)
	for n := 1; n <= info.Pages; n++ {
		thumbnails = append(thumbnails,
			fmt.Sprintf("/api/library/files/%s/thumbnails/%d", id, n))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"file":       info,
		"thumbnails": thumbnails,
	})
}

func (s *Server) handlePDF(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !identity.Valid(id) {
		s.sendError(w, http.StatusBadRequest, "invalid file id")
		return
	}

	path, err := s.coord.DocumentPDF(r.Context(), id)
	if err != nil {
		s.sendDocumentError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	http.ServeFile(w, r, path)
}

func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !identity.Valid(id) {
		s.sendError(w, http.StatusBadRequest, "invalid file id")
		return
	}
	page, err := strconv.Atoi(r.PathValue("page"))
	if err != nil || page < 1 {
		s.sendError(w, http.StatusBadRequest, "invalid page number")
		return
	}

	path, err := s.coord.Thumbnail(r.Context(), id, page)
	if err != nil {
		s.sendDocumentError(w, err)
		return
	}
	http.ServeFile(w, r, path)
}

// ─── Content ────────────────────────────────────────────────────────────────

func (s *Server) handleGetContent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !identity.Valid(id) {
		s.sendError(w, http.StatusBadRequest, "invalid file id")
		return
	}

	data, err := s.coord.Content(id)
	if err != nil {
		s.sendDocumentError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Write(data)
}

func (s *Server) handlePutContent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !identity.Valid(id) {
		s.sendError(w, http.StatusBadRequest, "invalid file id")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxContentSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.sendError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("content exceeds %d bytes", maxContentSize))
			return
		}
		s.sendError(w, http.StatusBadRequest, "failed to read content")
		return
	}

	if err := s.coord.SaveContent(id, body); err != nil {
		s.sendDocumentError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"saved": true, "bytes": len(body)})
}

// ─── SSE Events ─────────────────────────────────────────────────────────────

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	greeting, _ := events.MarshalEvent(events.Event{
		Type:      events.EventConnected,
		Timestamp: time.Now().Unix(),
	})
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", events.EventConnected, greeting)
	flusher.Flush()

	ch := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(ch)

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := events.MarshalEvent(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// sendDocumentError maps coordinator errors onto HTTP status codes.
func (s *Server) sendDocumentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, coordinator.ErrNotFound):
		s.sendError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, coordinator.ErrPageRange):
		s.sendError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, coordinator.ErrUnsupported), errors.Is(err, coordinator.ErrNotText):
		s.sendError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, convert.ErrUnavailable), errors.Is(err, render.ErrUnavailable):
		s.sendError(w, http.StatusServiceUnavailable, err.Error())
	default:
		logging.Error("request failed", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, err.Error())
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(errorResponse{
		Error: message,
		Code:  code,
	})
}
