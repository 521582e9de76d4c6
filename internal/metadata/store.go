// Package metadata holds the document tree behind the reference API.
package metadata

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/fruitsalade/docnav/pkg/models"
	"github.com/fruitsalade/docnav/pkg/protocol"
	"github.com/fruitsalade/docnav/pkg/tree"
)

var (
	// ErrNotFound is returned when a node id does not exist.
	ErrNotFound = errors.New("node not found")
	// ErrInvalid is returned for requests that would break the tree.
	ErrInvalid = errors.New("invalid request")
)

// Store persists the document tree.
type Store interface {
	// Tree returns the full tree, children in sort order.
	Tree(ctx context.Context) (*models.Node, error)
	Move(ctx context.Context, req protocol.MoveRequest) error
	Rename(ctx context.Context, id, newName string) error
	SetAccess(ctx context.Context, id string, access models.Access) error
	CreateFolder(ctx context.Context, parentID, name string) (*models.Node, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// InsertIndex returns where a moved node lands among siblings, which must not
// contain the moved node. Anchors win over the numeric order; an unknown
// anchor falls through to the next rule and, finally, to the end.
func InsertIndex(siblings []string, req protocol.MoveRequest) int {
	if req.AfterID != "" {
		for i, id := range siblings {
			if id == req.AfterID {
				return i + 1
			}
		}
	}
	if req.BeforeID != "" {
		for i, id := range siblings {
			if id == req.BeforeID {
				return i
			}
		}
	}
	if req.Order != nil {
		switch o := *req.Order; {
		case o < 0:
			return 0
		case o > len(siblings):
			return len(siblings)
		default:
			return o
		}
	}
	return len(siblings)
}

// ValidateMove checks a move against root before it is applied.
func ValidateMove(root *models.Node, req protocol.MoveRequest) error {
	if req.ID == "" || req.ID == models.RootID {
		return errors.Wrap(ErrInvalid, "root cannot be moved")
	}
	node := tree.FindByID(root, req.ID)
	if node == nil {
		return errors.Wrapf(ErrNotFound, "node %s", req.ID)
	}
	parent := tree.FindByID(root, req.NewParentID)
	if parent == nil {
		return errors.Wrapf(ErrNotFound, "parent %s", req.NewParentID)
	}
	if !parent.IsFolder() {
		return errors.Wrapf(ErrInvalid, "%s is not a folder", req.NewParentID)
	}
	if node.IsFolder() && tree.FindByID(node, req.NewParentID) != nil {
		return errors.Wrap(ErrInvalid, "folder cannot move into itself")
	}
	return nil
}

// ValidName trims and checks a node name.
func ValidName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.Wrap(ErrInvalid, "name is required")
	}
	if strings.ContainsAny(name, "/\x00") {
		return "", errors.Wrap(ErrInvalid, "name contains a reserved character")
	}
	return name, nil
}
