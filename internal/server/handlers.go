package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/raaihank/pmo-sentinel/internal/generator"
	"github.com/raaihank/pmo-sentinel/internal/memory"
	"github.com/raaihank/pmo-sentinel/internal/pipeline"
	"github.com/raaihank/pmo-sentinel/internal/privacy"
	"github.com/raaihank/pmo-sentinel/internal/store"
	"github.com/raaihank/pmo-sentinel/internal/websocket"
)

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// createEntriesRequest accepts one entry or a batch under "entries"
type createEntriesRequest struct {
	OriginalValue string            `json:"original_value"`
	EntryType     privacy.EntryType `json:"entry_type"`
	Entries       []store.NewEntry  `json:"entries,omitempty"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req pipeline.Request
	if !s.decode(w, r, &req) {
		return
	}

	start := time.Now()
	resp, err := s.pipeline.Run(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.generations.Add(1)

	s.logger.WithRequestID(getRequestID(r.Context())).WithProject(req.Project).Info("Document generated",
		zap.String("document_type", req.DocumentType),
		zap.Int("entries", resp.Report.Entries),
		zap.Int("protected_blocks", resp.Report.ProtectedBlocks),
		zap.Duration("duration", time.Since(start)))

	s.broadcastSubstitution(getRequestID(r.Context()), resp.Report, time.Since(start))
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req pipeline.Request
	if !s.decode(w, r, &req) {
		return
	}

	preview, err := s.pipeline.Preview(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func (s *Server) handleDocumentTypes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, generator.DocumentTypes())
}

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ListEntries(r.Context(), mux.Vars(r)["project"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if entries == nil {
		entries = []privacy.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleCreateEntries(w http.ResponseWriter, r *http.Request) {
	var req createEntriesRequest
	if !s.decode(w, r, &req) {
		return
	}
	project := mux.Vars(r)["project"]

	if len(req.Entries) > 0 {
		result, err := s.store.CreateEntries(r.Context(), project, req.Entries)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	entry, err := s.store.CreateEntry(r.Context(), project, req.OriginalValue, req.EntryType)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.store.DeleteEntry(r.Context(), vars["project"], vars["code"]); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListMemory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ListMemory(r.Context(), mux.Vars(r)["project"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if entries == nil {
		entries = []memory.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleUpsertMemory(w http.ResponseWriter, r *http.Request) {
	var entry memory.Entry
	if !s.decode(w, r, &entry) {
		return
	}
	if err := s.store.UpsertMemory(r.Context(), mux.Vars(r)["project"], entry); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.store.DeleteMemory(r.Context(), vars["project"], memory.Type(vars["type"]), vars["key"]); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) broadcastSubstitution(requestID string, report pipeline.Report, elapsed time.Duration) {
	stages := make([]websocket.StageCount, len(report.Stages))
	for i, st := range report.Stages {
		stages[i] = websocket.StageCount{Stage: string(st.Stage), Replaced: st.Replaced, NoMatch: st.NoMatch}
	}

	s.wsHub.BroadcastEvent(websocket.Event{
		Type:      websocket.EventTypeSubstitution,
		RequestID: requestID,
		Data: websocket.SubstitutionEvent{
			RequestID:       requestID,
			Project:         report.Project,
			DocumentType:    report.DocumentType,
			Stages:          stages,
			ProtectedBlocks: report.ProtectedBlocks,
			Generated:       report.Generated,
			ProcessingMS:    float64(elapsed.Microseconds()) / 1e3,
		},
	})
}

// decode reads a JSON body, answering 400 or 413 itself on failure
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// fail maps err to a status code. Messages of server-side errors are not
// returned to the caller.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	requestID := getRequestID(r.Context())
	status := statusFor(err)

	message := err.Error()
	if status >= http.StatusInternalServerError {
		s.logger.WithRequestID(requestID).Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.Int("status_code", status),
			zap.Error(err))
		message = http.StatusText(status)
	}

	writeJSON(w, status, errorResponse{Error: message, RequestID: requestID})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrEmptyInput),
		errors.Is(err, pipeline.ErrMissingProject),
		errors.Is(err, generator.ErrUnknownDocumentType),
		errors.Is(err, privacy.ErrInvalidCategory),
		errors.Is(err, store.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrGeneration):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
