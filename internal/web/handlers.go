package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/JonMunkholm/dropload/internal/catalog"
	"github.com/JonMunkholm/dropload/internal/format"
)

const healthTimeout = 2 * time.Second

// handleDetect sniffs the dialect of the posted sample. Nothing is stored.
func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	limit := s.opts.Config.MaxDetectBytes
	if limit <= 0 {
		limit = int64(format.DefaultSampleBytes)
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeJSON(w, r, http.StatusRequestEntityTooLarge, ErrorResponse{
				Error: fmt.Sprintf("sample larger than %d bytes", limit),
				Code:  "TOO_LARGE",
			})
			return
		}
		respondError(w, r, fmt.Errorf("%w: read body: %v", errBadRequest, err))
		return
	}
	if len(data) == 0 {
		respondError(w, r, fmt.Errorf("%w: empty sample", errBadRequest))
		return
	}
	writeJSON(w, r, http.StatusOK, format.DetectBytes(data))
}

// handleListTables returns the tables registered in the catalog.
func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request) {
	if s.opts.Tables == nil {
		writeJSON(w, r, http.StatusOK, []catalog.Entry{})
		return
	}
	entries, err := s.opts.Tables.List(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	if entries == nil {
		entries = []catalog.Entry{}
	}
	writeJSON(w, r, http.StatusOK, entries)
}

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database,omitempty"`
	Jobs     any    `json:"jobs"`
}

// handleHealth reports liveness and, when configured, database reachability.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Jobs: s.jobs.Status()}
	status := http.StatusOK

	if s.opts.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if err := s.opts.DB.Ping(ctx); err != nil {
			resp.Status = "degraded"
			resp.Database = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			resp.Database = "ok"
		}
	}
	writeJSON(w, r, status, resp)
}
