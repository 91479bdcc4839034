package app

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"collabrepo/api/internal/apperr"
)

func TestMapError(t *testing.T) {
	cases := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{err: apperr.NotFound("wiki w1"), wantStatus: http.StatusNotFound, wantCode: "NOT_FOUND"},
		{err: fmt.Errorf("update: %w", apperr.Conflict("stale")), wantStatus: http.StatusConflict, wantCode: "CONFLICTING_UPDATE"},
		{err: apperr.CycleDetected("loop"), wantStatus: http.StatusBadRequest, wantCode: "CYCLE_DETECTED"},
		{err: apperr.InvalidHierarchy("two roots"), wantStatus: http.StatusBadRequest, wantCode: "INVALID_HIERARCHY"},
		{err: apperr.Forbidden("root"), wantStatus: http.StatusForbidden, wantCode: "FORBIDDEN_OPERATION"},
		{err: apperr.AccessDenied("no"), wantStatus: http.StatusForbidden, wantCode: "ACCESS_DENIED"},
		{err: apperr.Unauthorized("who"), wantStatus: http.StatusUnauthorized, wantCode: "UNAUTHORIZED"},
		{err: apperr.DataIntegrity("orphan"), wantStatus: http.StatusInternalServerError, wantCode: "DATA_INTEGRITY_FAULT"},
		{err: errors.New("boom"), wantStatus: http.StatusInternalServerError, wantCode: "SERVER_ERROR"},
	}
	for _, tc := range cases {
		status, code, _ := mapError(tc.err)
		if status != tc.wantStatus || code != tc.wantCode {
			t.Errorf("mapError(%v) = %d %s, want %d %s", tc.err, status, code, tc.wantStatus, tc.wantCode)
		}
	}
}
