package httpapi

import (
	"encoding/json"
	"net/http"

	"gatewayd/internal/gateway"
	"gatewayd/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

// writeRouteError writes the error payload for a failed route, including the
// ordered attempt list on retry exhaustion.
func writeRouteError(w http.ResponseWriter, status int, err error) {
	resp := types.ErrorResponse{Error: err.Error(), Code: status}
	for _, a := range gateway.AttemptsOf(err) {
		resp.Attempted = append(resp.Attempted, a.InstanceID)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
