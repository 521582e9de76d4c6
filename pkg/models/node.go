// Package models contains the data types shared by the client, the engine and the
// reference server.
package models

import (
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

// RootID is the id of the synthetic root folder.
const RootID = "root"

// Kind discriminates the two node variants.
type Kind string

const (
	KindFolder Kind = "folder"
	KindFile   Kind = "file"
)

// Access is the visibility flag of a node.
type Access int

const (
	AccessPublic  Access = 0
	AccessPrivate Access = 1
)

func (a Access) String() string {
	if a == AccessPrivate {
		return "private"
	}
	return "public"
}

// AccessOf returns a pointer to a, for building nodes with an explicit access flag.
func AccessOf(a Access) *Access {
	return &a
}

// Node is a folder or a file in the document hierarchy. Children are only
// meaningful on folders, and their order is the persisted sort order.
type Node struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Kind        Kind      `json:"type"`
	Access      *Access   `json:"access,omitempty"`
	Mime        string    `json:"mime,omitempty"`
	URL         string    `json:"url,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
	IndexStatus string    `json:"index_status,omitempty"`
	Children    []*Node   `json:"children,omitempty"`
}

// IsFolder reports whether n is a folder. A nil node is neither a folder nor a file.
func (n *Node) IsFolder() bool {
	return n != nil && n.Kind == KindFolder
}

// IsFile reports whether n is a file.
func (n *Node) IsFile() bool {
	return n != nil && n.Kind == KindFile
}

// IsRoot reports whether n is the synthetic root folder.
func (n *Node) IsRoot() bool {
	return n != nil && n.ID == RootID
}

// IsPrivate is true only for an explicit private flag. A node without an
// access value is public.
func (n *Node) IsPrivate() bool {
	return n != nil && n.Access != nil && *n.Access == AccessPrivate
}

// AccessLevel returns the effective access, treating a missing flag as public.
func (n *Node) AccessLevel() Access {
	if n.IsPrivate() {
		return AccessPrivate
	}
	return AccessPublic
}

// TypeLabel returns a short display type such as "PDF" or "Folder".
func (n *Node) TypeLabel() string {
	if n == nil {
		return ""
	}
	if n.IsFolder() {
		return "Folder"
	}
	if ext := MimeExtension(n.Mime); ext != "" {
		return strings.ToUpper(strings.TrimPrefix(ext, "."))
	}
	if ext := path.Ext(n.Name); ext != "" {
		return strings.ToUpper(strings.TrimPrefix(ext, "."))
	}
	return "File"
}

// DisplayName returns the name with a virtual extension derived from the MIME
// type when the stored name has none.
func (n *Node) DisplayName() string {
	if n == nil {
		return ""
	}
	if n.IsFolder() || path.Ext(n.Name) != "" {
		return n.Name
	}
	return n.Name + MimeExtension(n.Mime)
}

// ShareIdentifier returns the identifier embedded in the node's storage URL,
// or "" when the node has no URL.
func (n *Node) ShareIdentifier() string {
	if n == nil {
		return ""
	}
	return ShareIdentifierFromURL(n.URL)
}

// ShareIdentifierFromURL extracts the last path segment of rawURL with the
// query string, fragment and extension removed.
func ShareIdentifierFromURL(rawURL string) string {
	s := rawURL
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimRight(s, "/")
	if i := strings.LastIndex(s, "/"); i >= 0 {
		s = s[i+1:]
	}
	if unescaped, err := url.PathUnescape(s); err == nil {
		s = unescaped
	}
	return strings.TrimSuffix(s, path.Ext(s))
}

// MimeExtension returns the canonical extension for a MIME type, or "".
func MimeExtension(mime string) string {
	if mime == "" {
		return ""
	}
	if m := mimetype.Lookup(mime); m != nil {
		return m.Extension()
	}
	return ""
}

// UserProfile describes the authenticated user.
type UserProfile struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
	Phone       string `json:"phone,omitempty"`
	IsAdmin     bool   `json:"is_admin"`
}
