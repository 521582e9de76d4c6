package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/fruitsalade/docnav/internal/auth"
	"github.com/fruitsalade/docnav/internal/events"
	"github.com/fruitsalade/docnav/internal/logging"
	"github.com/fruitsalade/docnav/pkg/protocol"
)

// changed refreshes the served tree and tells subscribers. wasPublic is the
// node's visibility before the change.
func (s *Server) changed(r *http.Request, nodeID, action string, wasPublic bool) {
	log := logging.WithContext(r.Context())
	if err := s.RefreshTree(r.Context()); err != nil {
		log.Error("refresh tree after change", zap.Error(err))
	}
	user := ""
	if c := auth.GetClaims(r.Context()); c != nil {
		user = c.Username
	}
	log.Info("tree changed", logging.NodeID(nodeID), zap.String("action", action), zap.String("user", user))
	hidden := !wasPublic && !s.publiclyVisible(nodeID)
	s.broadcaster.TreeChanged(nodeID, action, hidden)
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	var req protocol.MoveRequest
	if err := decodeBody(r, w, &req); err != nil || req.ID == "" || req.NewParentID == "" {
		s.sendError(w, http.StatusBadRequest, "id and newParentId are required")
		return
	}
	wasPublic := s.publiclyVisible(req.ID)
	if err := s.store.Move(r.Context(), req); err != nil {
		s.sendStoreError(w, r, err)
		return
	}
	s.changed(r, req.ID, events.ActionMove, wasPublic)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	var req protocol.RenameRequest
	if err := decodeBody(r, w, &req); err != nil || req.ID == "" {
		s.sendError(w, http.StatusBadRequest, "id and newName are required")
		return
	}
	wasPublic := s.publiclyVisible(req.ID)
	if err := s.store.Rename(r.Context(), req.ID, req.NewName); err != nil {
		s.sendStoreError(w, r, err)
		return
	}
	s.changed(r, req.ID, events.ActionRename, wasPublic)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAccess(w http.ResponseWriter, r *http.Request) {
	var req protocol.AccessRequest
	if err := decodeBody(r, w, &req); err != nil || req.ID == "" {
		s.sendError(w, http.StatusBadRequest, "id and access are required")
		return
	}
	wasPublic := s.publiclyVisible(req.ID)
	if err := s.store.SetAccess(r.Context(), req.ID, req.Access); err != nil {
		s.sendStoreError(w, r, err)
		return
	}
	s.changed(r, req.ID, events.ActionAccess, wasPublic)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	var req protocol.CreateFolderRequest
	if err := decodeBody(r, w, &req); err != nil || req.ParentID == "" {
		s.sendError(w, http.StatusBadRequest, "parentId and name are required")
		return
	}
	node, err := s.store.CreateFolder(r.Context(), req.ParentID, req.Name)
	if err != nil {
		s.sendStoreError(w, r, err)
		return
	}
	s.changed(r, node.ID, events.ActionCreate, false)
	s.sendJSON(w, http.StatusCreated, protocol.CreateFolderResponse{Node: node})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	wasPublic := s.publiclyVisible(id)
	if err := s.store.Delete(r.Context(), id); err != nil {
		s.sendStoreError(w, r, err)
		return
	}
	s.changed(r, id, events.ActionDelete, wasPublic)
	w.WriteHeader(http.StatusNoContent)
}
