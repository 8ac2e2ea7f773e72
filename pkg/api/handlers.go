package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/ethpandaops/buildstatsoor/pkg/sheet"
)

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListTables returns the table names in creation order.
func (s *server) handleListTables(w http.ResponseWriter, r *http.Request) {
	names, err := s.store.List(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Failed to list tables")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"tables": names})
}

// handleGetTable returns a table snapshot as JSON.
func (s *server) handleGetTable(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

// handleGetTableCSV returns a table snapshot as CSV.
func (s *server) handleGetTableCSV(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := snap.WriteCSV(&buf); err != nil {
		s.log.WithError(err).WithField("table", snap.Name).
			Error("Failed to render table as csv")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", snap.Name+".csv"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// snapshot loads the table named in the URL. It writes the error response
// itself and returns false on failure.
func (s *server) snapshot(w http.ResponseWriter, r *http.Request) (*sheet.Snapshot, bool) {
	name := chi.URLParam(r, "name")

	// chi matches on the raw path when the request escapes reserved
	// characters, so the parameter is still encoded in that case.
	if r.URL.RawPath != "" {
		if unescaped, err := url.PathUnescape(name); err == nil {
			name = unescaped
		}
	}

	table, err := s.store.Get(r.Context(), name)
	if errors.Is(err, sheet.ErrTableNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{"table not found"})

		return nil, false
	}

	if err != nil {
		s.log.WithError(err).WithField("table", name).Error("Failed to open table")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return nil, false
	}

	snap, err := sheet.TakeSnapshot(r.Context(), table)
	if err != nil {
		s.log.WithError(err).WithField("table", name).Error("Failed to read table")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return nil, false
	}

	return snap, true
}
