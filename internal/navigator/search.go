package navigator

import (
	"strings"
	"time"

	"github.com/fruitsalade/docnav/pkg/cache"
	"github.com/fruitsalade/docnav/pkg/models"
	"github.com/fruitsalade/docnav/pkg/tree"
)

// Mode selects the search source.
type Mode string

const (
	ModeLocal    Mode = "local"
	ModeExternal Mode = "external"
)

// DefaultDebounce is the quiet period before an external search is sent.
const DefaultDebounce = 500 * time.Millisecond

// AfterFunc schedules f after d and returns a function that cancels it.
type AfterFunc func(d time.Duration, f func()) (stop func() bool)

func timerAfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// SearchState is the visible search state.
type SearchState struct {
	Query   string         `json:"query"`
	Mode    Mode           `json:"mode"`
	Results []*models.Node `json:"results,omitempty"`
	Loading bool           `json:"loading"`
	Error   string         `json:"error,omitempty"`
}

// Active reports whether a non-blank query filters the display.
func (s SearchState) Active() bool {
	return strings.TrimSpace(s.Query) != ""
}

// searchRequest captures what an external request was issued for.
type searchRequest struct {
	seq   uint64
	query string
}

// Search merges the local and external result sources. It is not safe for
// concurrent use; the session serializes access.
type Search struct {
	state    SearchState
	debounce time.Duration
	cache    *cache.Cache

	// timerGen invalidates debounce timers that already fired.
	timerGen  uint64
	stopTimer func() bool
	// seq is bumped on every dispatch and every mode switch.
	seq uint64
}

// NewSearch starts in local mode with an empty query.
func NewSearch(debounce time.Duration, results *cache.Cache) *Search {
	return &Search{
		state:    SearchState{Mode: ModeLocal},
		debounce: debounce,
		cache:    results,
	}
}

// State returns a copy of the visible state.
func (s *Search) State() SearchState {
	st := s.state
	st.Results = append([]*models.Node(nil), s.state.Results...)
	return st
}

// SetQuery updates the query text. It returns the timer generation to
// schedule a debounced dispatch for, or 0 when nothing should be sent.
func (s *Search) SetQuery(q string) uint64 {
	s.cancelTimer()
	s.state.Query = q
	if s.state.Mode != ModeExternal {
		return 0
	}
	s.state.Results = nil
	s.state.Error = ""
	if strings.TrimSpace(q) == "" {
		s.state.Loading = false
		return 0
	}
	s.state.Loading = true
	return s.timerGen
}

// SetMode switches the source. In-flight external results lose their claim
// on the display; nothing is re-issued. A cached result for the current query
// is shown when switching to external.
func (s *Search) SetMode(m Mode) bool {
	if m != ModeLocal && m != ModeExternal {
		return false
	}
	if m == s.state.Mode {
		return false
	}
	s.cancelTimer()
	s.seq++
	s.state.Mode = m
	s.state.Results = nil
	s.state.Loading = false
	s.state.Error = ""
	if m == ModeExternal && s.state.Active() {
		if cached, ok := s.cache.Get(s.state.Query); ok {
			s.state.Results = cached
		}
	}
	return true
}

// arm records a scheduled timer.
func (s *Search) arm(stop func() bool) {
	s.stopTimer = stop
}

func (s *Search) cancelTimer() {
	s.timerGen++
	if s.stopTimer != nil {
		s.stopTimer()
		s.stopTimer = nil
	}
}

// begin issues a request for the current query if gen is still the live
// timer generation (or 0 for an explicit retrigger).
func (s *Search) begin(gen uint64) (searchRequest, bool) {
	if gen != 0 && gen != s.timerGen {
		return searchRequest{}, false
	}
	if s.state.Mode != ModeExternal || !s.state.Active() {
		return searchRequest{}, false
	}
	s.stopTimer = nil
	s.seq++
	s.state.Loading = true
	s.state.Error = ""
	s.state.Results = nil
	return searchRequest{seq: s.seq, query: s.state.Query}, true
}

// complete applies a finished request. Successful results are cached even
// when stale. It returns false when the completion was dropped.
func (s *Search) complete(req searchRequest, results []*models.Node, err error) bool {
	if err == nil {
		s.cache.Put(req.query, results)
	}
	if req.seq != s.seq || req.query != s.state.Query || s.state.Mode != ModeExternal {
		return false
	}
	s.state.Loading = false
	if err != nil {
		s.state.Error = err.Error()
		s.state.Results = nil
		return true
	}
	s.state.Error = ""
	s.state.Results = results
	return true
}

// Displayed returns the nodes to list for the open folder.
func (s *Search) Displayed(root *models.Node, folderID string) []*models.Node {
	st := s.state
	if !st.Active() {
		return folderChildren(root, folderID)
	}
	if st.Mode == ModeLocal {
		return tree.MatchingFiles(root, st.Query)
	}
	if st.Loading {
		return nil
	}
	if st.Error != "" {
		return folderChildren(root, folderID)
	}
	var files []*models.Node
	for _, n := range st.Results {
		if n.IsFile() {
			files = append(files, n)
		}
	}
	return files
}

func folderChildren(root *models.Node, folderID string) []*models.Node {
	folder := tree.FindByID(root, folderID)
	if !folder.IsFolder() {
		folder = root
	}
	return append([]*models.Node(nil), tree.Children(folder)...)
}
