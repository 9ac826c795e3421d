package response

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-taskboard-go/pkg/apperr"
)

// Body is the error envelope returned by every endpoint.
type Body struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// Status maps an error to its HTTP status code.
func Status(err error) int {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrUnauthenticated):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// WriteError is the single error boundary for handlers. Domain errors are
// returned with their message; anything else is logged and hidden.
func WriteError(w http.ResponseWriter, logger *zap.SugaredLogger, err error) {
	status := Status(err)
	if status == http.StatusInternalServerError {
		logger.Errorw("request failed", "err", err)
		WriteJSON(w, status, Body{Error: "internal error"})
		return
	}
	body := Body{Error: apperr.Message(err, http.StatusText(status))}
	var e *apperr.Error
	if errors.As(err, &e) {
		body.Fields = e.Fields
	}
	logger.Debugw("request rejected", "status", status, "err", err)
	WriteJSON(w, status, body)
}

// DecodeJSON reads a JSON request body into v, reporting malformed input as a
// validation error. An empty body leaves v untouched.
func DecodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return apperr.Validation("invalid payload", nil)
	}
	return nil
}

// RequiredID parses an id field that may arrive as a JSON number or numeric
// string. A missing value is reported as "<field> required".
func RequiredID(n json.Number, field string) (int64, error) {
	if n == "" {
		return 0, apperr.Validation(field+" required", nil)
	}
	id, err := n.Int64()
	if err != nil || id <= 0 {
		return 0, apperr.Validation("invalid "+field, map[string]string{field: "A valid integer is required."})
	}
	return id, nil
}

// PathID parses a numeric path parameter. Malformed ids are reported as not
// found, the same as ids that do not exist.
func PathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.NotFound("Not found.")
	}
	return id, nil
}
