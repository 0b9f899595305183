package dispatch

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"
)

// ErrEntityNotExposed is returned when an entity name does not resolve to a
// descriptor in the capability registry.
var ErrEntityNotExposed = errors.New("entity does not exist or is not exposed")

// ErrCapabilityDenied is returned when the entity exists but the requested
// operation is not permitted for it.
var ErrCapabilityDenied = errors.New("operation not permitted for this entity")

// ErrMalformedInput is returned when a request body cannot be parsed or
// references unknown columns.
var ErrMalformedInput = errors.New("request body could not be parsed (probably invalid JSON format or missing/wrong Content-Type header)")

type errorResponse struct {
	ErrorMessage string `json:"error_message"`
}

// writeError sends the generic error envelope. All expected caller
// correctable conditions surface this way; nothing in the dispatcher is
// fatal to the process.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	jsonData, _ := json.MarshalWithOption(errorResponse{ErrorMessage: message}, json.DisableHTMLEscape())
	w.Write(jsonData)
}

func writeJSON(w http.ResponseWriter, status int, response interface{}) {
	jsonData, _ := json.MarshalWithOption(response, json.DisableHTMLEscape())
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(jsonData)
}

func writeEmpty(w http.ResponseWriter) {
	w.WriteHeader(http.StatusOK)
}
