package navigator

import (
	"github.com/fruitsalade/docnav/pkg/models"
	"github.com/fruitsalade/docnav/pkg/protocol"
	"github.com/fruitsalade/docnav/pkg/tree"
)

// Drop describes a drag released over a node of the displayed list.
type Drop struct {
	DraggedID    string
	TargetID     string
	Displayed    []*models.Node
	OpenFolderID string
	SearchActive bool
	Root         *models.Node
}

// PlanDrop computes the move instruction for d. It never touches the tree;
// false means the drop is a no-op.
func PlanDrop(d Drop) (protocol.MoveRequest, bool) {
	if d.DraggedID == "" || d.DraggedID == d.TargetID || d.OpenFolderID == "" {
		return protocol.MoveRequest{}, false
	}
	dragged := lookup(d, d.DraggedID)
	if !dragged.IsFile() {
		return protocol.MoveRequest{}, false
	}
	target := lookup(d, d.TargetID)
	if target == nil {
		return protocol.MoveRequest{}, false
	}

	if target.IsFolder() {
		return protocol.MoveRequest{ID: d.DraggedID, NewParentID: target.ID}, true
	}

	if !d.SearchActive {
		di, ti := indexOf(d.Displayed, d.DraggedID), indexOf(d.Displayed, d.TargetID)
		if di >= 0 && ti >= 0 {
			return planReorder(d, di, ti), true
		}
	}

	parent := tree.FindParent(d.Root, d.TargetID)
	if parent == nil {
		return protocol.MoveRequest{}, false
	}
	return protocol.MoveRequest{ID: d.DraggedID, NewParentID: parent.ID}, true
}

// planReorder places the dragged node next to the target within the open
// folder. Secondary anchors never name the dragged node.
func planReorder(d Drop, di, ti int) protocol.MoveRequest {
	req := protocol.MoveRequest{ID: d.DraggedID, NewParentID: d.OpenFolderID}
	if di > ti {
		order := ti + 1
		req.Order = &order
		req.AfterID = d.TargetID
		if next := ti + 1; next < len(d.Displayed) && d.Displayed[next] != nil && d.Displayed[next].ID != d.DraggedID {
			req.BeforeID = d.Displayed[next].ID
		}
	} else {
		order := ti
		req.Order = &order
		req.BeforeID = d.TargetID
		if prev := ti - 1; prev >= 0 && d.Displayed[prev] != nil && d.Displayed[prev].ID != d.DraggedID {
			req.AfterID = d.Displayed[prev].ID
		}
	}
	return req
}

// PlanDropOnEmptyArea moves the dragged file to the end of the open folder.
func PlanDropOnEmptyArea(root *models.Node, draggedID, openFolderID string) (protocol.MoveRequest, bool) {
	if draggedID == "" || openFolderID == "" {
		return protocol.MoveRequest{}, false
	}
	if !tree.FindByID(root, draggedID).IsFile() {
		return protocol.MoveRequest{}, false
	}
	return protocol.MoveRequest{ID: draggedID, NewParentID: openFolderID}, true
}

// PlanTreeDrop handles a drop on a folder in the sidebar tree: a file may
// land on any folder at any depth, a folder never moves.
func PlanTreeDrop(root *models.Node, draggedID, folderID string) (protocol.MoveRequest, bool) {
	if draggedID == "" || draggedID == folderID {
		return protocol.MoveRequest{}, false
	}
	if !tree.FindByID(root, draggedID).IsFile() || !tree.FindByID(root, folderID).IsFolder() {
		return protocol.MoveRequest{}, false
	}
	return protocol.MoveRequest{ID: draggedID, NewParentID: folderID}, true
}

// lookup prefers the displayed list, which may hold external search hits
// absent from the tree snapshot.
func lookup(d Drop, id string) *models.Node {
	for _, n := range d.Displayed {
		if n != nil && n.ID == id {
			return n
		}
	}
	return tree.FindByID(d.Root, id)
}

func indexOf(nodes []*models.Node, id string) int {
	for i, n := range nodes {
		if n != nil && n.ID == id {
			return i
		}
	}
	return -1
}
