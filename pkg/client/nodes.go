package client

import (
	"context"
	"net/http"
	"net/url"

	"github.com/fruitsalade/docnav/pkg/models"
	"github.com/fruitsalade/docnav/pkg/protocol"
)

// Move sends a reparent or reorder instruction.
func (c *Client) Move(ctx context.Context, req protocol.MoveRequest) error {
	return c.do(ctx, http.MethodPost, "/api/v1/nodes/move", req, nil)
}

// Rename renames a node.
func (c *Client) Rename(ctx context.Context, id, newName string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/nodes/rename", protocol.RenameRequest{ID: id, NewName: newName}, nil)
}

// SetAccess changes a node's access flag.
func (c *Client) SetAccess(ctx context.Context, id string, access models.Access) error {
	return c.do(ctx, http.MethodPost, "/api/v1/nodes/access", protocol.AccessRequest{ID: id, Access: access}, nil)
}

// CreateFolder creates a folder under parentID.
func (c *Client) CreateFolder(ctx context.Context, parentID, name string) (*models.Node, error) {
	var resp protocol.CreateFolderResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/nodes", protocol.CreateFolderRequest{ParentID: parentID, Name: name}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Node, nil
}

// Delete removes a node and everything below it.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/nodes/"+url.PathEscape(id), nil, nil)
}
