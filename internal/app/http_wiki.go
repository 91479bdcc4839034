package app

import (
	"net/http"

	"github.com/gorilla/mux"

	"collabrepo/api/internal/acl"
)

func (s *HTTPServer) handleCreateWiki(w http.ResponseWriter, r *http.Request, principal acl.Principal) {
	var body WikiInput
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	page, err := s.service.CreateWiki(r.Context(), principal, mux.Vars(r)["ownerId"], body)
	okOrFail(s, w, r, http.StatusCreated, page, err)
}

func (s *HTTPServer) handleGetRootWiki(w http.ResponseWriter, r *http.Request, principal acl.Principal) {
	page, err := s.service.GetRootWiki(r.Context(), principal, mux.Vars(r)["ownerId"])
	okOrFail(s, w, r, http.StatusOK, page, err)
}

func (s *HTTPServer) handleGetWikiHeaderTree(w http.ResponseWriter, r *http.Request, principal acl.Principal) {
	headers, err := s.service.GetWikiHeaderTree(r.Context(), principal, mux.Vars(r)["ownerId"])
	okOrFail(s, w, r, http.StatusOK, map[string]any{"results": headers}, err)
}

func (s *HTTPServer) handleGetWiki(w http.ResponseWriter, r *http.Request, principal acl.Principal) {
	vars := mux.Vars(r)
	page, err := s.service.GetWiki(r.Context(), principal, vars["ownerId"], vars["wikiId"])
	okOrFail(s, w, r, http.StatusOK, page, err)
}

func (s *HTTPServer) handleUpdateWiki(w http.ResponseWriter, r *http.Request, principal acl.Principal) {
	var body WikiInput
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	vars := mux.Vars(r)
	page, err := s.service.UpdateWiki(r.Context(), principal, vars["ownerId"], vars["wikiId"], body)
	okOrFail(s, w, r, http.StatusOK, page, err)
}

func (s *HTTPServer) handleDeleteWiki(w http.ResponseWriter, r *http.Request, principal acl.Principal) {
	vars := mux.Vars(r)
	err := s.service.DeleteWiki(r.Context(), principal, vars["ownerId"], vars["wikiId"])
	okOrFail(s, w, r, http.StatusOK, map[string]any{"ok": true}, err)
}

func (s *HTTPServer) handleGetWikiHistory(w http.ResponseWriter, r *http.Request, principal acl.Principal) {
	limit, offset, err := pagination(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	vars := mux.Vars(r)
	history, err := s.service.GetWikiHistory(r.Context(), principal, vars["ownerId"], vars["wikiId"], limit, offset)
	okOrFail(s, w, r, http.StatusOK, map[string]any{"results": history}, err)
}

func (s *HTTPServer) handleGetWikiAttachments(w http.ResponseWriter, r *http.Request, principal acl.Principal) {
	vars := mux.Vars(r)
	handles, err := s.service.GetWikiAttachments(r.Context(), principal, vars["ownerId"], vars["wikiId"])
	okOrFail(s, w, r, http.StatusOK, map[string]any{"list": handles}, err)
}

func (s *HTTPServer) handleGetWikiMarkdown(w http.ResponseWriter, r *http.Request, principal acl.Principal) {
	version, err := queryInt(r, "version", 0)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	vars := mux.Vars(r)
	md, err := s.service.GetWikiMarkdown(r.Context(), principal, vars["ownerId"], vars["wikiId"], version)
	okOrFail(s, w, r, http.StatusOK, md, err)
}

func (s *HTTPServer) handleRestoreWiki(w http.ResponseWriter, r *http.Request, principal acl.Principal) {
	version, err := pathInt(r, "version")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var body struct {
		Etag string `json:"etag"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	vars := mux.Vars(r)
	page, err := s.service.RestoreWiki(r.Context(), principal, vars["ownerId"], vars["wikiId"], version, body.Etag)
	okOrFail(s, w, r, http.StatusOK, page, err)
}
