package navigator

import (
	"net/url"
	"strings"
	"sync"

	"github.com/fruitsalade/docnav/pkg/models"
)

// reservedPrefix is an address family owned by another view.
const reservedPrefix = "/video/"

// Location is the externally visible address.
type Location interface {
	// Path returns the path portion of the current address.
	Path() string
	// Replace rewrites the current history entry.
	Replace(path string)
	// Assign navigates away to an absolute URL.
	Assign(url string)
}

// MemoryLocation is an in-process Location.
type MemoryLocation struct {
	mu           sync.Mutex
	path         string
	history      int
	replacements int
	assigned     string
}

// NewMemoryLocation starts at path.
func NewMemoryLocation(path string) *MemoryLocation {
	if path == "" {
		path = "/"
	}
	return &MemoryLocation{path: path, history: 1}
}

func (l *MemoryLocation) Path() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.path
}

func (l *MemoryLocation) Replace(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.path = path
	l.replacements++
}

func (l *MemoryLocation) Assign(url string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.assigned = url
	l.history++
}

// Assigned returns the last hard-navigation target, or "".
func (l *MemoryLocation) Assigned() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.assigned
}

// Replacements counts history replacements.
func (l *MemoryLocation) Replacements() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.replacements
}

// HistoryLength counts history entries. Replacements never add one.
func (l *MemoryLocation) HistoryLength() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.history
}

// IsReserved reports whether path belongs to the reserved address family.
func IsReserved(path string) bool {
	return strings.HasPrefix(path, reservedPrefix)
}

// ParseIdentifier returns the candidate node identifier in path: the first
// segment, url-decoded. ok is false for reserved addresses.
func ParseIdentifier(path string) (identifier string, ok bool) {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if IsReserved(path) {
		return "", false
	}
	seg := strings.TrimPrefix(path, "/")
	if i := strings.Index(seg, "/"); i >= 0 {
		seg = seg[:i]
	}
	if dec, err := url.PathUnescape(seg); err == nil {
		seg = dec
	}
	return seg, true
}

// Selection is the open folder and, optionally, the selected file. A selected
// file drives the content pane.
type Selection struct {
	FolderID string `json:"folder_id"`
	FileID   string `json:"file_id,omitempty"`
}

// RootSelection opens the root folder with nothing selected.
func RootSelection() Selection {
	return Selection{FolderID: models.RootID}
}

// TargetPath is the address reflecting sel.
func TargetPath(sel Selection) string {
	switch {
	case sel.FileID != "":
		return "/" + url.PathEscape(sel.FileID)
	case sel.FolderID != "" && sel.FolderID != models.RootID:
		return "/" + url.PathEscape(sel.FolderID)
	}
	return "/"
}

// Synchronizer binds the address to the selection. Inbound reads go through
// the gate; outbound writes stay disabled until the tree is loaded and the
// inbound pass has completed.
type Synchronizer struct {
	loc         Location
	treeLoaded  bool
	inboundDone bool
}

// NewSynchronizer wraps loc.
func NewSynchronizer(loc Location) *Synchronizer {
	return &Synchronizer{loc: loc}
}

// Identifier parses the current address.
func (s *Synchronizer) Identifier() (string, bool) {
	return ParseIdentifier(s.loc.Path())
}

// TreeLoaded marks the first successful tree load.
func (s *Synchronizer) TreeLoaded() {
	s.treeLoaded = true
}

// InboundDone enables outbound writes.
func (s *Synchronizer) InboundDone() {
	s.inboundDone = true
}

// IsInboundDone reports whether the first inbound pass has completed.
func (s *Synchronizer) IsInboundDone() bool {
	return s.inboundDone
}

// Outbound writes the address for sel. It returns true when the address changed.
func (s *Synchronizer) Outbound(sel Selection) bool {
	if !s.treeLoaded || !s.inboundDone {
		return false
	}
	current := s.loc.Path()
	if IsReserved(current) {
		return false
	}
	target := TargetPath(sel)
	if current == target {
		return false
	}
	s.loc.Replace(target)
	return true
}

// Navigate performs a hard navigation.
func (s *Synchronizer) Navigate(url string) {
	s.loc.Assign(url)
}
