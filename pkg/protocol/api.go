// Package protocol defines the API request/response types.
package protocol

import (
	"github.com/fruitsalade/docnav/pkg/models"
)

// TreeResponse is returned by GET /api/v1/tree
type TreeResponse struct {
	Root *models.Node `json:"root"`
}

// ErrorResponse is returned on API errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Details string `json:"details,omitempty"`
}

// MoveRequest is the body for POST /api/v1/nodes/move. Order and the anchors
// are only set for a reorder within one folder.
type MoveRequest struct {
	ID          string `json:"id"`
	NewParentID string `json:"newParentId"`
	Order       *int   `json:"order,omitempty"`
	AfterID     string `json:"afterId,omitempty"`
	BeforeID    string `json:"beforeId,omitempty"`
}

// IsReorder reports whether the request carries a position within the parent.
func (m MoveRequest) IsReorder() bool {
	return m.Order != nil || m.AfterID != "" || m.BeforeID != ""
}

// RenameRequest is the body for POST /api/v1/nodes/rename
type RenameRequest struct {
	ID      string `json:"id"`
	NewName string `json:"newName"`
}

// AccessRequest is the body for POST /api/v1/nodes/access
type AccessRequest struct {
	ID     string        `json:"id"`
	Access models.Access `json:"access"`
}

// CreateFolderRequest is the body for POST /api/v1/nodes
type CreateFolderRequest struct {
	ParentID string `json:"parentId"`
	Name     string `json:"name"`
}

// CreateFolderResponse returns the created folder.
type CreateFolderResponse struct {
	Node *models.Node `json:"node"`
}

// SearchResponse is returned by GET /api/v1/search
type SearchResponse struct {
	Query   string         `json:"query"`
	Results []*models.Node `json:"results"`
}

// SessionExchangeRequest trades an external session artifact for a bearer token.
type SessionExchangeRequest struct {
	Session string `json:"session"`
}

// TokenResponse is returned by POST /api/v1/auth/exchange
type TokenResponse struct {
	Token     string             `json:"token"`
	ExpiresAt int64              `json:"expires_at"`
	User      models.UserProfile `json:"user"`
}

// ProfileResponse is returned by GET /api/v1/auth/profile
type ProfileResponse struct {
	User models.UserProfile `json:"user"`
}

// Event types published on GET /api/v1/events
const (
	EventTreeChanged = "tree_changed"
)

// Event represents a server-sent event.
type Event struct {
	Type      string `json:"type"`
	NodeID    string `json:"node_id,omitempty"`
	Action    string `json:"action,omitempty"`
	Timestamp int64  `json:"timestamp"`
}
