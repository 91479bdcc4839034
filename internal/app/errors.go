package app

import (
	"errors"
	"net/http"

	"collabrepo/api/internal/apperr"
)

var statusByKind = map[apperr.Kind]int{
	apperr.KindNotFound:           http.StatusNotFound,
	apperr.KindCycleDetected:      http.StatusBadRequest,
	apperr.KindBadRequest:         http.StatusBadRequest,
	apperr.KindInvalidHierarchy:   http.StatusBadRequest,
	apperr.KindAccessDenied:       http.StatusForbidden,
	apperr.KindForbiddenOperation: http.StatusForbidden,
	apperr.KindConflictingUpdate:  http.StatusConflict,
	apperr.KindUnauthorized:       http.StatusUnauthorized,
	apperr.KindDataIntegrity:      http.StatusInternalServerError,
}

func mapError(err error) (status int, code, message string) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		return http.StatusInternalServerError, "SERVER_ERROR", "Server error"
	}
	status, ok := statusByKind[appErr.Kind]
	if !ok {
		return http.StatusInternalServerError, "SERVER_ERROR", "Server error"
	}
	return status, string(appErr.Kind), appErr.Message
}
