// Package tree provides read-only utilities over a document tree snapshot.
// Every function is total: nil roots and nil children are treated as empty, and
// a file's children are never visited.
package tree

import (
	"strings"

	"github.com/fruitsalade/docnav/pkg/models"
)

// Children returns the ordered children of a folder, or nil for files and nil nodes.
func Children(n *models.Node) []*models.Node {
	if !n.IsFolder() {
		return nil
	}
	return n.Children
}

// FindByID finds a node by its id (depth-first, first match).
func FindByID(root *models.Node, id string) *models.Node {
	if root == nil {
		return nil
	}
	if root.ID == id {
		return root
	}
	for _, child := range Children(root) {
		if found := FindByID(child, id); found != nil {
			return found
		}
	}
	return nil
}

// FindByShareIdentifier resolves a deep-link token. Nodes match on their id,
// case-insensitively; files also match on the identifier embedded in their URL.
func FindByShareIdentifier(root *models.Node, token string) *models.Node {
	if root == nil || token == "" {
		return nil
	}
	if strings.EqualFold(root.ID, token) {
		return root
	}
	if root.IsFile() {
		if share := root.ShareIdentifier(); share != "" && strings.EqualFold(share, token) {
			return root
		}
	}
	for _, child := range Children(root) {
		if found := FindByShareIdentifier(child, token); found != nil {
			return found
		}
	}
	return nil
}

// FindParent returns the folder directly containing id. It returns nil when id
// is the root itself or is absent.
func FindParent(root *models.Node, id string) *models.Node {
	for _, child := range Children(root) {
		if child == nil {
			continue
		}
		if child.ID == id {
			return root
		}
		if found := FindParent(child, id); found != nil {
			return found
		}
	}
	return nil
}

// AncestorPath returns the folder ids from the root down to, but excluding, id.
// The boolean is false when id is not in the tree.
func AncestorPath(root *models.Node, id string) ([]string, bool) {
	if root == nil {
		return nil, false
	}
	if root.ID == id {
		return []string{}, true
	}
	for _, child := range Children(root) {
		if rest, ok := AncestorPath(child, id); ok {
			return append([]string{root.ID}, rest...), true
		}
	}
	return nil, false
}

// MatchingFiles collects every file whose name contains query, ignoring case.
// Folders are traversed but never matched. A blank query matches nothing.
func MatchingFiles(root *models.Node, query string) []*models.Node {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	var out []*models.Node
	Walk(root, func(n *models.Node) bool {
		if n.IsFile() && strings.Contains(strings.ToLower(n.Name), q) {
			out = append(out, n)
		}
		return true
	})
	return out
}

// Walk visits nodes depth-first in display order. Returning false from fn
// stops descent into that node's children.
func Walk(root *models.Node, fn func(*models.Node) bool) {
	if root == nil {
		return
	}
	if !fn(root) {
		return
	}
	for _, child := range Children(root) {
		Walk(child, fn)
	}
}

// CountNodes counts all nodes in a tree.
func CountNodes(root *models.Node) int {
	count := 0
	Walk(root, func(*models.Node) bool {
		count++
		return true
	})
	return count
}

// Flatten returns all nodes in a flat map keyed by id.
func Flatten(root *models.Node) map[string]*models.Node {
	result := make(map[string]*models.Node)
	Walk(root, func(n *models.Node) bool {
		result[n.ID] = n
		return true
	})
	return result
}

// Clone deep-copies a tree.
func Clone(root *models.Node) *models.Node {
	if root == nil {
		return nil
	}
	cp := *root
	if root.Access != nil {
		cp.Access = models.AccessOf(*root.Access)
	}
	cp.Children = nil
	if root.IsFolder() {
		cp.Children = make([]*models.Node, 0, len(root.Children))
		for _, child := range root.Children {
			if child != nil {
				cp.Children = append(cp.Children, Clone(child))
			}
		}
	}
	return &cp
}

// FilterPublic returns a copy of the tree holding only public nodes. A private
// folder is dropped together with everything below it. The root is always kept.
func FilterPublic(root *models.Node) *models.Node {
	if root == nil {
		return nil
	}
	return filterPublic(root, true)
}

func filterPublic(n *models.Node, isRoot bool) *models.Node {
	if !isRoot && n.IsPrivate() {
		return nil
	}
	cp := *n
	cp.Children = nil
	if n.IsFolder() {
		cp.Children = []*models.Node{}
		for _, child := range n.Children {
			if child == nil {
				continue
			}
			if kept := filterPublic(child, false); kept != nil {
				cp.Children = append(cp.Children, kept)
			}
		}
	}
	return &cp
}
