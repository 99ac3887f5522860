package http

import (
	"net/http"
	"time"

	"github.com/go-chi/render"

	licerrors "licensegate/internal/errors"
)

// Envelope is the uniform response wrapper carried by every endpoint
type Envelope struct {
	Status    string      `json:"status"` // success|error
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// respond writes a success envelope with the given payload
func respond(w http.ResponseWriter, r *http.Request, statusCode int, message string, data interface{}) {
	render.Status(r, statusCode)
	render.JSON(w, r, &Envelope{
		Status:    "success",
		Message:   message,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}

// respondError writes an error envelope
func respondError(w http.ResponseWriter, r *http.Request, statusCode int, message string, data interface{}) {
	render.Status(r, statusCode)
	render.JSON(w, r, &Envelope{
		Status:    "error",
		Message:   message,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}

// respondAPIError folds a structured API error into the envelope. A nil
// payload means the error's own wire form becomes the data, carrying its
// kind and any field details.
func respondAPIError(w http.ResponseWriter, r *http.Request, apiErr *licerrors.APIError, payload interface{}) {
	if payload == nil {
		payload = apiErr
	}
	respondError(w, r, apiErr.StatusCode, apiErr.Message, payload)
}

// ValidateResult is the data payload for validation responses
type ValidateResult struct {
	Valid       bool        `json:"valid"`
	LicenseData interface{} `json:"license_data,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// OperationResult is the data payload for activate/deactivate/heartbeat
type OperationResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}
