package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/dropload/internal/format"
	"github.com/JonMunkholm/dropload/internal/loader"
	"github.com/JonMunkholm/dropload/internal/logging"
)

// startJobRequest is the body of POST /api/jobs. Only Path is required;
// the rest override ingest rules and the file's sidecar.
type startJobRequest struct {
	Path      string          `json:"path"`
	Table     string          `json:"table"`
	Schema    string          `json:"schema"`
	Mode      string          `json:"mode"`
	Reference bool            `json:"reference"`
	Format    json.RawMessage `json:"format,omitempty"`
}

// handleStartJob starts a load for a file that is already on disk.
func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	var body startJobRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		respondError(w, r, fmt.Errorf("%w: invalid JSON body: %v", errBadRequest, err))
		return
	}

	path, err := s.resolvePath(body.Path)
	if err != nil {
		respondError(w, r, err)
		return
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		respondError(w, r, fmt.Errorf("%w: %s is not a readable file", errBadRequest, body.Path))
		return
	}

	spec, err := s.formatFor(r.Context(), path, body.Format)
	if err != nil {
		respondError(w, r, err)
		return
	}

	key, _, err := s.jobs.StartJob(r.Context(), loader.Request{
		Path:      path,
		Format:    spec,
		Mode:      loader.Mode(body.Mode),
		Schema:    body.Schema,
		Table:     body.Table,
		Reference: body.Reference,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	job, err := s.jobs.Job(key)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusAccepted, job)
}

// formatFor returns the dialect given in the request, layered over the
// defaults, or the file's sidecar.
func (s *Server) formatFor(ctx context.Context, path string, raw json.RawMessage) (format.Spec, error) {
	if len(raw) == 0 || string(raw) == "null" {
		spec, err := format.ForFile(path, s.opts.SampleBytes, time.Now())
		if err != nil {
			logging.Category(ctx, logging.CategoryHTTP).Warn("sidecar problem", "file", path, "error", err)
		}
		return spec, nil
	}

	spec := format.Default()
	if err := json.Unmarshal(raw, &spec); err != nil {
		return spec, fmt.Errorf("%w: invalid format: %v", errBadRequest, err)
	}
	if err := spec.Validate(); err != nil {
		return spec, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	spec.Confidence = 1
	return spec, nil
}

// resolvePath maps a request path into the drop directory.
func (s *Server) resolvePath(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", fmt.Errorf("%w: path is required", errBadRequest)
	}
	dir := s.opts.DropDir
	if dir == "" {
		return filepath.Clean(p), nil
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(dir, p)
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	absPath, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s is outside the drop directory", errBadRequest, p)
	}
	// Same form the watcher uses, so both see one claim per file.
	return filepath.Join(dir, rel), nil
}

// handleListJobs returns running and recently finished jobs.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.jobs.Jobs())
}

// handleGetJob returns one job with its progress and, once finished, its
// result.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Job(chi.URLParam(r, "key"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, job)
}

// handleStreamJob streams job messages via Server-Sent Events. Messages
// sent before the client connected are replayed first. The stream ends with
// a "complete" event carrying the final progress state.
func (s *Server) handleStreamJob(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	ch, err := s.jobs.Subscribe(key)
	if err != nil {
		respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	flush := func() {
		if err := rc.Flush(); err != nil {
			logging.Category(r.Context(), logging.CategoryHTTP).Debug("flush failed", "error", err)
		}
	}
	flush()

	id := 0
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				// Channel closed - job finished or canceled
				data, _ := json.Marshal(s.jobs.Progress(key).State)
				fmt.Fprintf(w, "event: complete\ndata: %s\n\n", data)
				flush()
				return
			}
			id++
			data, _ := json.Marshal(msg)
			fmt.Fprintf(w, "id: %d\nevent: message\ndata: %s\n\n", id, data)
			flush()

		case <-r.Context().Done():
			return
		}
	}
}

// handleCancelJob asks a job to stop at its next checkpoint.
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	if err := s.jobs.Cancel(chi.URLParam(r, "key")); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusAccepted, map[string]string{"status": "canceling"})
}

// handleStatus reports job slot usage.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.jobs.Status())
}
