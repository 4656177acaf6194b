package http

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"impegni/internal/core"
	"impegni/internal/detect"
	"impegni/internal/log"
)

const maxBodyBytes = 1 << 20

// decodeJSON reads a JSON request body into dst, rejecting unknown fields.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return core.Invalidf("invalid request body: %v", err)
	}
	return nil
}

// parseDetectOptions extracts optional from/to date bounds from the query
// string.
func parseDetectOptions(r *http.Request) (detect.Options, error) {
	var opts detect.Options

	if v := strings.TrimSpace(r.URL.Query().Get("from")); v != "" {
		d, err := core.ParseDate(v)
		if err != nil {
			return detect.Options{}, core.Invalidf("invalid from date %q", v)
		}
		opts.From = d
	}
	if v := strings.TrimSpace(r.URL.Query().Get("to")); v != "" {
		d, err := core.ParseDate(v)
		if err != nil {
			return detect.Options{}, core.Invalidf("invalid to date %q", v)
		}
		opts.To = d
	}
	if !opts.From.IsZero() && !opts.To.IsZero() && opts.To.Before(opts.From.Time) {
		return detect.Options{}, core.Invalidf("to date precedes from date")
	}
	return opts, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeError maps validation failures to 422 and everything else to 500.
// Internal error details never reach the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if core.IsValidation(err) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}
	slog.ErrorContext(r.Context(), "Request failed",
		log.FieldComponent, log.ComponentHTTP,
		log.FieldError, err,
		log.FieldMethod, r.Method,
		log.FieldPath, r.URL.Path)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

// requireMethod enforces the HTTP method, answering 405 otherwise.
func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		writeJSON(w, http.StatusMethodNotAllowed,
			map[string]string{"error": fmt.Sprintf("method %s not allowed", r.Method)})
		return false
	}
	return true
}
