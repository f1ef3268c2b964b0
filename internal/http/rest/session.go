// Package rest is the local presentation surface of the uploader. It does
// no orchestration of its own; every operation is a thin translation onto
// the session object.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/AshtonFabby/bank-statement-parser/internal/intake"
	"github.com/AshtonFabby/bank-statement-parser/internal/logctx"
	"github.com/AshtonFabby/bank-statement-parser/internal/session"
	"github.com/AshtonFabby/bank-statement-parser/internal/staging"
	"github.com/AshtonFabby/bank-statement-parser/internal/telemetry"
	"github.com/AshtonFabby/bank-statement-parser/internal/transfer"
)

// maxUploadMemory bounds how much of an incoming multipart form is held in
// memory before spilling to disk.
const maxUploadMemory = 32 << 20 // 32MB

// SessionHandler exposes the upload session over HTTP.
type SessionHandler struct {
	session    *session.Session
	stagingDir string
	telemetry  *telemetry.Telemetry
}

// NewSessionHandler creates a new session handler. Incoming files are
// staged as transient copies under stagingDir.
func NewSessionHandler(s *session.Session, stagingDir string, tel *telemetry.Telemetry) *SessionHandler {
	return &SessionHandler{
		session:    s,
		stagingDir: stagingDir,
		telemetry:  tel,
	}
}

func (h *SessionHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(h.telemetry).Middleware)

	r.Get("/healthz", h.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", h.handleStatus)
		r.Get("/banks", h.handleBanks)
		r.Post("/files", h.handlePickerAdd)
		r.Post("/files/drop", h.handleDropAdd)
		r.Delete("/files/{id}", h.handleRemove)
		r.Post("/drag", h.handleDrag)
		r.Post("/submit", h.handleSubmit)
		r.Post("/submit/json", h.handleSubmitJSON)
	})

	return r
}

type stagedFileView struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	MediaType string `json:"media_type"`
}

type statusView struct {
	State         string           `json:"state"`
	Progress      int              `json:"progress"`
	ErrorMessage  string           `json:"error_message,omitempty"`
	DragActive    bool             `json:"drag_active"`
	Staged        []stagedFileView `json:"staged"`
	LastDelivered string           `json:"last_delivered,omitempty"`
}

func (h *SessionHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *SessionHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	staged := h.session.Staged()
	views := make([]stagedFileView, 0, len(staged))

	for _, f := range staged {
		views = append(views, stagedFileView{
			ID:        f.ID.String(),
			Name:      f.Name,
			Size:      f.Size,
			MediaType: f.MediaType,
		})
	}

	writeJSON(w, http.StatusOK, statusView{
		State:         string(h.session.State()),
		Progress:      h.session.Progress(),
		ErrorMessage:  h.session.ErrorMessage(),
		DragActive:    h.session.DragActive(),
		Staged:        views,
		LastDelivered: h.session.LastDelivered(),
	})
}

// handleBanks proxies the parse service's supported-bank list.
func (h *SessionHandler) handleBanks(w http.ResponseWriter, r *http.Request) {
	banks, err := h.session.Banks(r.Context())
	if err != nil {
		var apiErr *transfer.APIError
		if errors.As(err, &apiErr) {
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": apiErr.Detail})

			return
		}

		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "the parsing service is unreachable"})

		return
	}

	writeJSON(w, http.StatusOK, map[string][]string{"supported_banks": banks})
}

// handlePickerAdd stages every file of the selection, unfiltered. The
// picker dialog already applied its accept filter client-side.
func (h *SessionHandler) handlePickerAdd(w http.ResponseWriter, r *http.Request) {
	candidates, err := h.stageIncoming(r)
	if err != nil {
		http.Error(w, "invalid multipart request", http.StatusBadRequest)

		return
	}

	added := h.session.AddFromPicker(r.Context(), candidates)

	writeJSON(w, http.StatusOK, map[string]int{"added": added})
}

// handleDropAdd stages a dropped selection through the PDF filter.
func (h *SessionHandler) handleDropAdd(w http.ResponseWriter, r *http.Request) {
	candidates, err := h.stageIncoming(r)
	if err != nil {
		http.Error(w, "invalid multipart request", http.StatusBadRequest)

		return
	}

	added, err := h.session.AddFromDrop(r.Context(), candidates)
	if err != nil {
		discardAll(r.Context(), candidates)

		var verr *intake.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": verr.Reason})

			return
		}

		http.Error(w, "failed to stage dropped files", http.StatusInternalServerError)

		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"added": added})
}

func (h *SessionHandler) handleRemove(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid file id", http.StatusBadRequest)

		return
	}

	if err := h.session.Remove(id); err != nil {
		if errors.Is(err, staging.ErrNotStaged) {
			http.Error(w, "file not staged", http.StatusNotFound)

			return
		}

		http.Error(w, "failed to remove file", http.StatusInternalServerError)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) handleDrag(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Active bool `json:"active"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)

		return
	}

	if req.Active {
		h.session.DragEnter()
	} else {
		h.session.DragLeave()
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	path, err := h.session.Submit(r.Context())
	if err != nil {
		h.writeSubmitError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"delivered": path})
}

func (h *SessionHandler) handleSubmitJSON(w http.ResponseWriter, r *http.Request) {
	result, err := h.session.SubmitJSON(r.Context())
	if err != nil {
		h.writeSubmitError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *SessionHandler) writeSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNothingStaged):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	case errors.Is(err, session.ErrUploadInFlight):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		// The session already recorded the user-facing message; surface it.
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": h.session.ErrorMessage()})
	}
}

// stageIncoming copies every part of the request's multipart form into a
// transient file under the staging dir and wraps it as a staged file. The
// copies are needed because the request's own temp files vanish when the
// handler returns.
func (h *SessionHandler) stageIncoming(r *http.Request) ([]*staging.StagedFile, error) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		return nil, fmt.Errorf("failed to parse multipart form: %w", err)
	}

	headers := r.MultipartForm.File[transfer.FileFieldName]
	candidates := make([]*staging.StagedFile, 0, len(headers))

	for _, fh := range headers {
		staged, err := h.stageUpload(fh)
		if err != nil {
			discardAll(r.Context(), candidates)

			return nil, err
		}

		candidates = append(candidates, staged)
	}

	return candidates, nil
}

func (h *SessionHandler) stageUpload(fh *multipart.FileHeader) (*staging.StagedFile, error) {
	src, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open uploaded file: %w", err)
	}

	defer src.Close()

	tmp, err := os.CreateTemp(h.stagingDir, "staged.*")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging file: %w", err)
	}

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())

		return nil, fmt.Errorf("failed to stage uploaded file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())

		return nil, fmt.Errorf("failed to close staging file: %w", err)
	}

	path := tmp.Name()
	staged := staging.FromPath(path, fh.Filename, fh.Header.Get("Content-Type"), fh.Size)
	staged.Discard = func() error {
		return os.Remove(path)
	}

	return staged, nil
}

func discardAll(ctx context.Context, files []*staging.StagedFile) {
	logger := logctx.LoggerFromContext(ctx)

	for _, f := range files {
		if f.Discard == nil {
			continue
		}

		if err := f.Discard(); err != nil {
			logger.Warn("failed to discard staged file", "file", f.Name, "err", err)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(v)
}
