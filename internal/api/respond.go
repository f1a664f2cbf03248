package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/KalpanieErandika/CosmoMed-Navigator-sub001/internal/workflow"
	"go.uber.org/zap"
)

const (
	maxBodyBytes      = 1 << 20
	retryAfterSeconds = "1"
)

type errorResponse struct {
	Error     string `json:"error"`
	Field     string `json:"field,omitempty"`
	Available *int   `json:"available,omitempty"`
}

func respond(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// statusFor maps workflow errors to an HTTP status and client-facing body.
func statusFor(err error) (int, errorResponse) {
	var (
		vErr     *workflow.ValidationError
		stockErr *workflow.InsufficientStockError
	)
	switch {
	case errors.As(err, &vErr):
		return http.StatusBadRequest, errorResponse{Error: vErr.Error(), Field: vErr.Field}
	case errors.As(err, &stockErr):
		available := stockErr.Available
		return http.StatusConflict, errorResponse{Error: stockErr.Error(), Available: &available}
	case errors.Is(err, workflow.ErrValidation):
		return http.StatusBadRequest, errorResponse{Error: err.Error()}
	case errors.Is(err, workflow.ErrNotFound):
		return http.StatusNotFound, errorResponse{Error: err.Error()}
	case errors.Is(err, workflow.ErrForbidden):
		return http.StatusForbidden, errorResponse{Error: err.Error()}
	case errors.Is(err, workflow.ErrInvalidTransition), errors.Is(err, workflow.ErrConflict):
		return http.StatusConflict, errorResponse{Error: err.Error()}
	case errors.Is(err, workflow.ErrBusy):
		return http.StatusServiceUnavailable, errorResponse{Error: workflow.ErrBusy.Error()}
	}
	return http.StatusInternalServerError, errorResponse{Error: "internal server error"}
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := statusFor(err)
	switch status {
	case http.StatusServiceUnavailable:
		h.logger.Warn("Request gave up under contention", zap.String("path", r.URL.Path), zap.Error(err))
		w.Header().Set("Retry-After", retryAfterSeconds)
	case http.StatusInternalServerError:
		h.logger.Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	respond(w, status, body)
}

func badRequest(w http.ResponseWriter, msg string) {
	respond(w, http.StatusBadRequest, errorResponse{Error: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return false
	}
	return true
}
