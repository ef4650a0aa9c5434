// Package handlers provides HTTP request handlers.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ideaforge/ideaforge/pkg/api/middleware"
	"github.com/ideaforge/ideaforge/pkg/api/response"
	"github.com/ideaforge/ideaforge/pkg/logger"
)

// errEmptyBody is returned by decodeJSON for a request without a body.
var errEmptyBody = errors.New("request body is empty")

// requestValidator is shared by all handlers; validator caches struct
// metadata per instance.
var requestValidator = validator.New(validator.WithRequiredStructEnabled())

func requestID(r *http.Request) string {
	if id := middleware.GetRequestID(r.Context()); id != "" {
		return id
	}
	return r.Header.Get(middleware.RequestIDHeader)
}

// decodeAndValidate decodes the JSON body into dst and runs struct
// validation. On failure it writes a 400 response and returns false.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, log logger.Logger, dst any) bool {
	if err := decodeJSON(r, dst); err != nil {
		log.WarnContext(r.Context(), "Failed to decode request", "path", r.URL.Path, "error", err)
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest,
			"Invalid request body: "+err.Error(), requestID(r))
		return false
	}
	if err := requestValidator.Struct(dst); err != nil {
		log.WarnContext(r.Context(), "Validation failed", "path", r.URL.Path, "error", err)
		response.ErrorWithDetails(w, http.StatusBadRequest, response.ErrCodeValidationFailed,
			"Request validation failed", validationDetails(err), requestID(r))
		return false
	}
	return true
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("body exceeds %d bytes", maxErr.Limit)
		}
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}

// validationDetails maps each failing field to the rule it broke.
func validationDetails(err error) map[string]interface{} {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]interface{}{"error": err.Error()}
	}
	details := make(map[string]interface{}, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		details[fieldPath(fe.Namespace())] = rule
	}
	return details
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

// writeError maps err to a status code and writes the error response.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	response.HandleError(w, err, requestID(r))
}
