// Package apierr classifies handler errors into the four wire-visible cases
// the sandbox API distinguishes (not-found, bad-request, internal,
// bad-gateway) and renders them as JSON HTTP responses.
//
// Classification is built on github.com/containerd/errdefs, the same typed
// sentinel-error package the sandbox runtime's container backend uses to
// tell a missing container apart from a genuine daemon failure. Here it
// plays the identical role one layer up: telling a missing session apart
// from a sandbox primitive that actually broke.
package apierr

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/containerd/errdefs"
)

// NotFound wraps msg as a not-found error (404): unknown session, unknown
// file, unknown preview host.
func NotFound(format string, args ...any) error {
	return errdefs.ErrNotFound(fmt.Errorf(format, args...))
}

// BadRequest wraps msg as an invalid-argument error (400): malformed
// base64, oversized body, invalid/escaping path.
func BadRequest(format string, args ...any) error {
	return errdefs.ErrInvalidArgument(fmt.Errorf(format, args...))
}

// BadGateway wraps msg as an unavailable error (502): the preview proxy
// could not reach the backend, or the backend misbehaved.
func BadGateway(format string, args ...any) error {
	return errdefs.ErrUnavailable(fmt.Errorf(format, args...))
}

// Internal wraps err as-is. Errors that aren't otherwise classified
// (blocking-worker join failure, sandbox create/destroy failure, spawn/exec
// failure) fall through errdefs' default classification to "unknown", which
// StatusCode maps to 500.
func Internal(err error) error {
	return err
}

// StatusCode maps a (possibly errdefs-classified) error to the HTTP status
// code the wire contract promises.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errdefs.IsNotFound(err):
		return http.StatusNotFound
	case errdefs.IsInvalidArgument(err):
		return http.StatusBadRequest
	case errdefs.IsUnavailable(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// body is the wire shape of an error response.
type body struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// Write classifies err and writes it as a JSON error response with the
// matching status code.
func Write(w http.ResponseWriter, err error) {
	status := StatusCode(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body{
		Error:  http.StatusText(status),
		Detail: err.Error(),
	})
}
