package app

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"collabrepo/api/internal/acl"
	"collabrepo/api/internal/apperr"
	"collabrepo/api/internal/team"
)

func (s *HTTPServer) handleCreateEntity(w http.ResponseWriter, r *http.Request, principal acl.Principal) {
	var body acl.Entity
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	entity, err := s.service.CreateEntity(r.Context(), principal, body)
	okOrFail(s, w, r, http.StatusCreated, entity, err)
}

func (s *HTTPServer) handleGetEntity(w http.ResponseWriter, r *http.Request, principal acl.Principal) {
	entity, err := s.service.GetEntity(r.Context(), principal, mux.Vars(r)["id"])
	okOrFail(s, w, r, http.StatusOK, entity, err)
}

func (s *HTTPServer) handleDeleteEntity(w http.ResponseWriter, r *http.Request, principal acl.Principal) {
	if err := s.service.DeleteEntity(r.Context(), principal, mux.Vars(r)["id"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleMoveEntity(w http.ResponseWriter, r *http.Request, principal acl.Principal) {
	var body struct {
		ParentID string `json:"parentId"`
		Etag     string `json:"etag"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	entity, err := s.service.MoveEntity(r.Context(), principal, mux.Vars(r)["id"], body.ParentID, body.Etag)
	okOrFail(s, w, r, http.StatusOK, entity, err)
}

func (s *HTTPServer) handleGetAcl(w http.ResponseWriter, r *http.Request, principal acl.Principal) {
	list, err := s.service.GetAcl(r.Context(), principal, mux.Vars(r)["id"])
	okOrFail(s, w, r, http.StatusOK, list, err)
}

// decodeACL reads an ACL body. The entity id always comes from the path.
func decodeACL(r *http.Request) (acl.ACL, error) {
	var list acl.ACL
	if err := decodeBody(r, &list); err != nil {
		return acl.ACL{}, err
	}
	id := mux.Vars(r)["id"]
	if list.EntityID != "" && list.EntityID != id {
		return acl.ACL{}, apperr.BadRequest("acl id %s does not match entity %s", list.EntityID, id)
	}
	list.EntityID = id
	return list, nil
}

func (s *HTTPServer) handleCreateAcl(w http.ResponseWriter, r *http.Request, principal acl.Principal) {
	list, err := decodeACL(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	created, err := s.service.CreateAcl(r.Context(), principal, list)
	okOrFail(s, w, r, http.StatusCreated, created, err)
}

func (s *HTTPServer) handleUpdateAcl(w http.ResponseWriter, r *http.Request, principal acl.Principal) {
	list, err := decodeACL(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	recursive := strings.EqualFold(r.URL.Query().Get("recursive"), "true")
	updated, err := s.service.UpdateAcl(r.Context(), principal, list, recursive)
	okOrFail(s, w, r, http.StatusOK, updated, err)
}

func (s *HTTPServer) handleDeleteAcl(w http.ResponseWriter, r *http.Request, principal acl.Principal) {
	if err := s.service.DeleteAcl(r.Context(), principal, mux.Vars(r)["id"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleGetBenefactor(w http.ResponseWriter, r *http.Request, principal acl.Principal) {
	benefactor, err := s.service.GetBenefactor(r.Context(), principal, mux.Vars(r)["id"])
	okOrFail(s, w, r, http.StatusOK, map[string]string{"id": benefactor}, err)
}

func (s *HTTPServer) handleGetPermissions(w http.ResponseWriter, r *http.Request, principal acl.Principal) {
	perms, err := s.service.GetPermissions(r.Context(), principal, mux.Vars(r)["id"])
	okOrFail(s, w, r, http.StatusOK, perms, err)
}

func (s *HTTPServer) handleCanAccess(w http.ResponseWriter, r *http.Request, principal acl.Principal) {
	accessType := acl.AccessType(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("accessType"))))
	if !accessType.Valid() {
		s.fail(w, r, apperr.BadRequest("unknown access type %q", accessType))
		return
	}
	ok, err := s.service.CanAccess(r.Context(), principal, mux.Vars(r)["id"], accessType)
	okOrFail(s, w, r, http.StatusOK, map[string]bool{"result": ok}, err)
}

func (s *HTTPServer) handleListMembers(w http.ResponseWriter, r *http.Request, principal acl.Principal) {
	teamID, err := pathInt(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	members, err := s.service.ListMembers(r.Context(), principal, teamID)
	okOrFail(s, w, r, http.StatusOK, map[string][]int64{"members": members}, err)
}

func (s *HTTPServer) memberPath(r *http.Request) (teamID, memberID int64, err error) {
	if teamID, err = pathInt(r, "id"); err != nil {
		return 0, 0, err
	}
	if memberID, err = pathInt(r, "principalId"); err != nil {
		return 0, 0, err
	}
	return teamID, memberID, nil
}

func (s *HTTPServer) handleAddMember(w http.ResponseWriter, r *http.Request, principal acl.Principal) {
	teamID, memberID, err := s.memberPath(r)
	if err == nil {
		err = s.service.AddMember(r.Context(), principal, teamID, memberID)
	}
	okOrFail(s, w, r, http.StatusOK, map[string]any{"ok": true}, err)
}

func (s *HTTPServer) handleRemoveMember(w http.ResponseWriter, r *http.Request, principal acl.Principal) {
	teamID, memberID, err := s.memberPath(r)
	if err == nil {
		err = s.service.RemoveMember(r.Context(), principal, teamID, memberID)
	}
	okOrFail(s, w, r, http.StatusOK, map[string]any{"ok": true}, err)
}

func (s *HTTPServer) handleCreateInvitation(w http.ResponseWriter, r *http.Request, principal acl.Principal) {
	var body team.Invitation
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	inv, err := s.service.CreateInvitation(r.Context(), principal, body)
	okOrFail(s, w, r, http.StatusCreated, inv, err)
}

func (s *HTTPServer) handleAcceptInvitation(w http.ResponseWriter, r *http.Request, principal acl.Principal) {
	err := s.service.AcceptInvitation(r.Context(), principal, mux.Vars(r)["id"])
	okOrFail(s, w, r, http.StatusOK, map[string]any{"ok": true}, err)
}

func (s *HTTPServer) handleOpenInvitations(w http.ResponseWriter, r *http.Request, principal acl.Principal) {
	userID, err := pathInt(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	teamID, err := queryInt(r, "teamId", 0)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	limit, offset, err := pagination(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	page, err := s.service.OpenInvitations(r.Context(), principal, userID, teamID, limit, offset)
	okOrFail(s, w, r, http.StatusOK, page, err)
}

func (s *HTTPServer) handleCreateRequest(w http.ResponseWriter, r *http.Request, principal acl.Principal) {
	var body team.Request
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	req, err := s.service.CreateRequest(r.Context(), principal, body)
	okOrFail(s, w, r, http.StatusCreated, req, err)
}

func (s *HTTPServer) handleOpenRequests(w http.ResponseWriter, r *http.Request, principal acl.Principal) {
	teamID, err := pathInt(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	requesterID, err := queryInt(r, "requesterId", 0)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	limit, offset, err := pagination(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	page, err := s.service.OpenRequests(r.Context(), principal, teamID, requesterID, limit, offset)
	okOrFail(s, w, r, http.StatusOK, page, err)
}
