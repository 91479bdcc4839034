package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"collabrepo/api/internal/acl"
	"collabrepo/api/internal/apperr"
)

type requestIDKey struct{}

type HTTPServer struct {
	service    *Service
	corsOrigin string
	log        *zap.Logger
	router     *mux.Router
}

func NewHTTPServer(service *Service, corsOrigin string, log *zap.Logger) *HTTPServer {
	if log == nil {
		log = zap.NewNop()
	}
	s := &HTTPServer{service: service, corsOrigin: corsOrigin, log: log}
	s.router = s.routes()
	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(s.router)
}

func (s *HTTPServer) routes() *mux.Router {
	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	api := router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet, http.MethodHead)
	api.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet, http.MethodHead)

	api.HandleFunc("/session", s.authed(s.handleIssueSession)).Methods(http.MethodPost)
	api.HandleFunc("/session", s.handleRevokeSession).Methods(http.MethodDelete)

	api.HandleFunc("/file", s.authed(s.handleUploadFile)).Methods(http.MethodPost)
	api.HandleFunc("/file/{id}", s.authed(s.handleGetFileHandle)).Methods(http.MethodGet)

	api.HandleFunc("/entity", s.authed(s.handleCreateEntity)).Methods(http.MethodPost)
	api.HandleFunc("/entity/{id}", s.authed(s.handleGetEntity)).Methods(http.MethodGet)
	api.HandleFunc("/entity/{id}", s.authed(s.handleDeleteEntity)).Methods(http.MethodDelete)
	api.HandleFunc("/entity/{id}/parent", s.authed(s.handleMoveEntity)).Methods(http.MethodPut)
	api.HandleFunc("/entity/{id}/acl", s.authed(s.handleGetAcl)).Methods(http.MethodGet)
	api.HandleFunc("/entity/{id}/acl", s.authed(s.handleCreateAcl)).Methods(http.MethodPost)
	api.HandleFunc("/entity/{id}/acl", s.authed(s.handleUpdateAcl)).Methods(http.MethodPut)
	api.HandleFunc("/entity/{id}/acl", s.authed(s.handleDeleteAcl)).Methods(http.MethodDelete)
	api.HandleFunc("/entity/{id}/benefactor", s.authed(s.handleGetBenefactor)).Methods(http.MethodGet)
	api.HandleFunc("/entity/{id}/permissions", s.authed(s.handleGetPermissions)).Methods(http.MethodGet)
	api.HandleFunc("/entity/{id}/access", s.authed(s.handleCanAccess)).Methods(http.MethodGet)

	api.HandleFunc("/entity/{ownerId}/wiki2", s.authed(s.handleCreateWiki)).Methods(http.MethodPost)
	api.HandleFunc("/entity/{ownerId}/wiki2", s.authed(s.handleGetRootWiki)).Methods(http.MethodGet)
	api.HandleFunc("/entity/{ownerId}/wikiheadertree2", s.authed(s.handleGetWikiHeaderTree)).Methods(http.MethodGet)
	api.HandleFunc("/entity/{ownerId}/wiki2/{wikiId}", s.authed(s.handleGetWiki)).Methods(http.MethodGet)
	api.HandleFunc("/entity/{ownerId}/wiki2/{wikiId}", s.authed(s.handleUpdateWiki)).Methods(http.MethodPut)
	api.HandleFunc("/entity/{ownerId}/wiki2/{wikiId}", s.authed(s.handleDeleteWiki)).Methods(http.MethodDelete)
	api.HandleFunc("/entity/{ownerId}/wiki2/{wikiId}/wikihistory", s.authed(s.handleGetWikiHistory)).Methods(http.MethodGet)
	api.HandleFunc("/entity/{ownerId}/wiki2/{wikiId}/attachments", s.authed(s.handleGetWikiAttachments)).Methods(http.MethodGet)
	api.HandleFunc("/entity/{ownerId}/wiki2/{wikiId}/markdown", s.authed(s.handleGetWikiMarkdown)).Methods(http.MethodGet)
	api.HandleFunc("/entity/{ownerId}/wiki2/{wikiId}/{version:[0-9]+}/restore", s.authed(s.handleRestoreWiki)).Methods(http.MethodPut)

	api.HandleFunc("/team/{id}/member", s.authed(s.handleListMembers)).Methods(http.MethodGet)
	api.HandleFunc("/team/{id}/member/{principalId}", s.authed(s.handleAddMember)).Methods(http.MethodPost, http.MethodPut)
	api.HandleFunc("/team/{id}/member/{principalId}", s.authed(s.handleRemoveMember)).Methods(http.MethodDelete)
	api.HandleFunc("/team/{id}/openRequest", s.authed(s.handleOpenRequests)).Methods(http.MethodGet)

	api.HandleFunc("/membershipInvitation", s.authed(s.handleCreateInvitation)).Methods(http.MethodPost)
	api.HandleFunc("/membershipInvitation/{id}/accept", s.authed(s.handleAcceptInvitation)).Methods(http.MethodPost)
	api.HandleFunc("/user/{id}/openInvitation", s.authed(s.handleOpenInvitations)).Methods(http.MethodGet)
	api.HandleFunc("/membershipRequest", s.authed(s.handleCreateRequest)).Methods(http.MethodPost)

	return router
}

type authedHandler func(w http.ResponseWriter, r *http.Request, principal acl.Principal)

// authed resolves the bearer token before calling next. Requests without a
// token run as the anonymous user.
func (s *HTTPServer) authed(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, err := s.service.PrincipalFromToken(r.Context(), bearerToken(r))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		next(w, r, principal)
	}
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

// fail writes err as a JSON error. Data integrity faults are logged at error
// level; they mean stored state is inconsistent.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := mapError(err)
	requestID, _ := r.Context().Value(requestIDKey{}).(string)
	switch {
	case apperr.Is(err, apperr.KindDataIntegrity):
		s.log.Error("data integrity fault",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	case status >= http.StatusInternalServerError:
		s.log.Error("request failed",
			zap.String("request_id", requestID),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeError(w, status, code, message, nil)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
		} else {
			next.ServeHTTP(writer, r)
		}

		s.log.Info("request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Int64("duration_ms", time.Since(started).Milliseconds()),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-File-Name")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return apperr.BadRequest("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func pathInt(r *http.Request, name string) (int64, error) {
	raw := mux.Vars(r)[name]
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apperr.BadRequest("%s must be an integer, got %q", name, raw)
	}
	return v, nil
}

// queryInt reads an optional integer query parameter.
func queryInt(r *http.Request, name string, fallback int64) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apperr.BadRequest("%s must be an integer, got %q", name, raw)
	}
	return v, nil
}

func pagination(r *http.Request) (limit, offset int, err error) {
	l, err := queryInt(r, "limit", 10)
	if err != nil {
		return 0, 0, err
	}
	o, err := queryInt(r, "offset", 0)
	if err != nil {
		return 0, 0, err
	}
	return int(l), int(o), nil
}

func (s *HTTPServer) handleIssueSession(w http.ResponseWriter, r *http.Request, principal acl.Principal) {
	var body struct {
		PrincipalID int64 `json:"principalId"`
		TTLSeconds  int64 `json:"ttlSeconds"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	token, err := s.service.IssueSession(r.Context(), principal, body.PrincipalID, time.Duration(body.TTLSeconds)*time.Second)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"token": token, "principalId": body.PrincipalID})
}

func (s *HTTPServer) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	if err := s.service.RevokeSession(r.Context(), bearerToken(r)); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleUploadFile(w http.ResponseWriter, r *http.Request, principal acl.Principal) {
	r.Body = http.MaxBytesReader(w, r.Body, s.service.maxUpload)
	defer r.Body.Close()
	fileName := strings.TrimSpace(r.Header.Get("X-File-Name"))
	if fileName == "" {
		fileName = strings.TrimSpace(r.URL.Query().Get("fileName"))
	}
	handle, err := s.service.UploadFile(r.Context(), principal, fileName, r.Header.Get("Content-Type"), r.Body)
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE",
			fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit), nil)
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, handle)
}

func (s *HTTPServer) handleGetFileHandle(w http.ResponseWriter, r *http.Request, principal acl.Principal) {
	handle, err := s.service.GetFileHandle(r.Context(), principal, mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, handle)
}

func okOrFail[T any](s *HTTPServer, w http.ResponseWriter, r *http.Request, status int, v T, err error) {
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, status, v)
}
