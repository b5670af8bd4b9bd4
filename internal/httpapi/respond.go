package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"eadash.io/internal/errs"
	"eadash.io/internal/obs"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error":  msg,
		"detail": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	if code == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	writeJSON(w, code, payload)
}

// statusFor maps the error taxonomy onto HTTP status codes.
var statusFor = []struct {
	err  error
	code int
}{
	{errs.ErrUnauthenticated, http.StatusUnauthorized},
	{errs.ErrAccountDisabled, http.StatusForbidden},
	{errs.ErrForbidden, http.StatusForbidden},
	{errs.ErrNotFound, http.StatusNotFound},
	{errs.ErrVersionConflict, http.StatusConflict},
	{errs.ErrConflict, http.StatusConflict},
	{errs.ErrInvalidInput, http.StatusBadRequest},
	{errs.ErrRateLimited, http.StatusTooManyRequests},
}

// fail writes the response for err. Unclassified errors are logged and
// reported as a generic 500 so no internal detail reaches the client.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, r, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		return
	}
	for _, m := range statusFor {
		if errors.Is(err, m.err) {
			writeError(w, r, m.code, detail(err, m.err))
			return
		}
	}
	obs.Logger().Error("request_failed",
		zap.String("request_id", RequestIDFromContext(r.Context())),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	writeError(w, r, http.StatusInternalServerError, "internal server error")
}

// detail strips the sentinel prefix from a wrapped error message.
func detail(err, sentinel error) string {
	msg := err.Error()
	if trimmed := strings.TrimPrefix(msg, sentinel.Error()+": "); trimmed != "" {
		return trimmed
	}
	return msg
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return err
		case errors.Is(err, io.EOF):
			return fmt.Errorf("%w: request body is required", errs.ErrInvalidInput)
		}
		return fmt.Errorf("%w: %v", errs.ErrInvalidInput, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: unexpected data after JSON body", errs.ErrInvalidInput)
	}
	return nil
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: read request body: %v", errs.ErrInvalidInput, err)
	}
	return body, nil
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, name string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", errs.ErrInvalidInput, name)
	}
	return n, nil
}

func setETag(w http.ResponseWriter, version int) {
	if version > 0 {
		w.Header().Set("ETag", strconv.Quote(strconv.Itoa(version)))
	}
}
