package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"academy/internal/domain/mutation"
	"academy/internal/domain/session"
)

// errorResponse is the JSON body of every non-2xx answer.
type errorResponse struct {
	Kind    string            `json:"kind,omitempty"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
	Key     string            `json:"key,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response_encode_failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Message: msg})
}

// internalError logs the real error and returns a generic message to the client.
func internalError(w http.ResponseWriter, err error) {
	slog.Error("internal_error", "error", err.Error())
	writeError(w, http.StatusInternalServerError, "internal server error")
}

// strictDecode decodes JSON from the request body, rejecting unknown fields.
func strictDecode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// mutationStatus maps an error kind to the bridge's HTTP status.
func mutationStatus(k mutation.Kind) int {
	switch k {
	case mutation.KindValidation:
		return http.StatusUnprocessableEntity
	case mutation.KindConflict, mutation.KindDuplicate:
		return http.StatusConflict
	case mutation.KindNotFound:
		return http.StatusNotFound
	case mutation.KindUnauthorized:
		return http.StatusUnauthorized
	case mutation.KindTransient:
		return http.StatusServiceUnavailable
	case mutation.KindDecode:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeMutationError reports a coordinator error with its kind and fields.
func writeMutationError(w http.ResponseWriter, err error) {
	var me *mutation.Error
	if !errors.As(err, &me) {
		internalError(w, err)
		return
	}
	msg := me.Message
	if msg == "" {
		msg = me.Error()
	}
	writeJSON(w, mutationStatus(me.Kind), errorResponse{
		Kind:    string(me.Kind),
		Message: msg,
		Fields:  me.Fields,
		Key:     me.Key,
	})
}

// scopeParams reads academyId or classId and mode from the query string.
func scopeParams(r *http.Request) (session.Scope, session.Mode, error) {
	q := r.URL.Query()
	var scope session.Scope
	var err error
	if v := q.Get("classId"); v != "" {
		if scope.ClassID, err = strconv.ParseInt(v, 10, 64); err != nil || scope.ClassID <= 0 {
			return scope, "", errors.New("classId must be a positive integer")
		}
	}
	if v := q.Get("academyId"); v != "" {
		if scope.AcademyID, err = strconv.ParseInt(v, 10, 64); err != nil || scope.AcademyID <= 0 {
			return scope, "", errors.New("academyId must be a positive integer")
		}
	}
	if scope.IsZero() {
		return scope, "", errors.New("academyId or classId is required")
	}
	mode, err := session.ParseMode(q.Get("mode"))
	if err != nil {
		return scope, "", err
	}
	return scope, mode, nil
}

func isTruthy(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes":
		return true
	}
	return false
}
