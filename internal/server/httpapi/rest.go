package httpapi

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"recordsync/internal/server/repository"
	"recordsync/internal/server/service"
	"recordsync/internal/shared/models"
)

func (r *Router) handleList(w http.ResponseWriter, req *http.Request) {
	sess := getSession(req.Context())
	model := chi.URLParam(req, "model")
	envs, err := r.services.Objects.List(req.Context(), sess.UserID, model, req.URL.Query())
	if err != nil {
		r.logf("list %s: %v", model, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, models.ListEnvelope(envs))
}

func (r *Router) handleGet(w http.ResponseWriter, req *http.Request) {
	sess := getSession(req.Context())
	model, pk := chi.URLParam(req, "model"), chi.URLParam(req, "pk")
	env, err := r.services.Objects.Get(req.Context(), sess.UserID, model, pk)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, models.ListEnvelope(nil))
			return
		}
		r.logf("get %s/%s: %v", model, pk, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, env)
}

func (r *Router) handleCreate(w http.ResponseWriter, req *http.Request) {
	sess := getSession(req.Context())
	model := chi.URLParam(req, "model")
	body, ok := r.decodeSave(w, req)
	if !ok {
		return
	}
	pk, err := r.services.Objects.Create(req.Context(), sess.UserID, model, body)
	if err != nil {
		r.writeFailure(w, model, "save", err)
		return
	}
	r.metrics.RecordWrite(model, "save", models.StatusSuccess)
	writeJSON(w, http.StatusOK, models.StatusResponse{Status: models.StatusSuccess, PK: pk})
}

func (r *Router) handleUpdate(w http.ResponseWriter, req *http.Request) {
	sess := getSession(req.Context())
	model, pk := chi.URLParam(req, "model"), chi.URLParam(req, "pk")
	body, ok := r.decodeSave(w, req)
	if !ok {
		return
	}
	if err := r.services.Objects.Update(req.Context(), sess.UserID, model, pk, body); err != nil {
		r.writeFailure(w, model, "save", err)
		return
	}
	r.metrics.RecordWrite(model, "save", models.StatusSuccess)
	writeJSON(w, http.StatusOK, models.StatusResponse{Status: models.StatusSuccess})
}

func (r *Router) handleDelete(w http.ResponseWriter, req *http.Request) {
	sess := getSession(req.Context())
	model, pk := chi.URLParam(req, "model"), chi.URLParam(req, "pk")
	if err := r.services.Objects.Delete(req.Context(), sess.UserID, model, pk); err != nil {
		r.writeFailure(w, model, "delete", err)
		return
	}
	r.metrics.RecordWrite(model, "delete", models.StatusSuccess)
	writeJSON(w, http.StatusOK, models.StatusResponse{Status: models.StatusSuccess})
}

// writeFailure answers a refused write. Validation problems are a logical
// rejection with HTTP 200; missing objects and conflicts keep their HTTP
// status.
func (r *Router) writeFailure(w http.ResponseWriter, model, action string, err error) {
	r.metrics.RecordWrite(model, action, models.StatusFail)
	resp := models.StatusResponse{Status: models.StatusFail, Errors: []string{err.Error()}}
	switch {
	case errors.Is(err, service.ErrValidation):
		writeJSON(w, http.StatusOK, resp)
	case errors.Is(err, repository.ErrNotFound):
		writeJSON(w, http.StatusNotFound, resp)
	case errors.Is(err, repository.ErrVersionConflict):
		writeJSON(w, http.StatusConflict, resp)
	default:
		r.logf("%s %s: %v", action, model, err)
		writeJSON(w, http.StatusInternalServerError, resp)
	}
}

func (r *Router) decodeSave(w http.ResponseWriter, req *http.Request) (models.SaveRequest, bool) {
	// Limit request body size to protect server from oversized payloads
	if r.maxRequestBytes > 0 {
		req.Body = http.MaxBytesReader(w, req.Body, r.maxRequestBytes)
	}
	var body models.SaveRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "empty body"})
		case errors.As(err, &tooLarge):
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "request entity too large"})
		default:
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		}
		return body, false
	}
	return body, true
}
