// Package navigator is the tree navigation and synchronization engine: it
// holds the document tree, resolves deep links through the access gate, keeps
// the address and selection consistent, plans drag-and-drop moves and merges
// local and external search results.
package navigator

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/fruitsalade/docnav/internal/logging"
	"github.com/fruitsalade/docnav/internal/metrics"
	"github.com/fruitsalade/docnav/pkg/cache"
	"github.com/fruitsalade/docnav/pkg/client"
	"github.com/fruitsalade/docnav/pkg/models"
	"github.com/fruitsalade/docnav/pkg/protocol"
	"github.com/fruitsalade/docnav/pkg/tree"
)

// Backend is the backing API. *client.Client implements it.
type Backend interface {
	FetchTree(ctx context.Context, publicOnly bool) (*models.Node, error)
	Search(ctx context.Context, query string) ([]*models.Node, error)
	Move(ctx context.Context, req protocol.MoveRequest) error
	Rename(ctx context.Context, id, newName string) error
	SetAccess(ctx context.Context, id string, access models.Access) error
	CreateFolder(ctx context.Context, parentID, name string) (*models.Node, error)
	Delete(ctx context.Context, id string) error
	ExchangeSession(ctx context.Context, artifact string) (*protocol.TokenResponse, error)
	Profile(ctx context.Context) (*models.UserProfile, error)
	SetAuthToken(token string)
}

// Credentials is the local credential storage. *credentials.Store implements it.
type Credentials interface {
	Token() string
	SessionCookie() string
	SaveToken(token string, user models.UserProfile, expiresAt time.Time) error
	ClearToken() error
	ClearSession() error
}

// Options configures a Session.
type Options struct {
	Backend     Backend
	Credentials Credentials
	Location    Location

	LoginURL string
	AppURL   string

	SearchDebounce  time.Duration
	SearchCacheSize int
	// AfterFunc schedules debounced searches; nil uses time.AfterFunc.
	AfterFunc AfterFunc

	Logger *zap.Logger
}

// AuthState is the visible authentication state.
type AuthState struct {
	Authenticated bool                `json:"authenticated"`
	User          *models.UserProfile `json:"user,omitempty"`
}

// DragState is the ephemeral drag-and-drop state.
type DragState struct {
	DraggedID string `json:"dragged_id,omitempty"`
	HoverID   string `json:"hover_id,omitempty"`
}

// Snapshot is an immutable view of a session.
type Snapshot struct {
	Root      *models.Node   `json:"root,omitempty"`
	Selection Selection      `json:"selection"`
	Search    SearchState    `json:"search"`
	Auth      AuthState      `json:"auth"`
	Gate      GateState      `json:"gate"`
	Displayed []*models.Node `json:"displayed"`
	TreeError string         `json:"tree_error,omitempty"`
	Expanded  []string       `json:"expanded,omitempty"`
	Drag      DragState      `json:"drag"`
	Terminal  bool           `json:"terminal"`
	Address   string         `json:"address"`
}

// SelectedNode returns the node driving the content pane: the selected file
// if any, else the open folder.
func (s Snapshot) SelectedNode() *models.Node {
	if s.Selection.FileID != "" {
		return tree.FindByID(s.Root, s.Selection.FileID)
	}
	return tree.FindByID(s.Root, s.Selection.FolderID)
}

// Session owns the tree snapshot and every piece of navigation state. All
// mutations run under one mutex; network calls run outside it and their
// outcomes are applied afterwards.
type Session struct {
	backend   Backend
	creds     Credentials
	loc       Location
	afterFunc AfterFunc
	log       *zap.Logger

	mu       sync.Mutex
	baseCtx  context.Context
	gate     *Gate
	sync     *Synchronizer
	search   *Search
	root     *models.Node
	sel      Selection
	token    string
	user     *models.UserProfile
	expanded map[string]bool
	drag     DragState
	treeErr  string
	terminal bool

	// treeSeq orders tree fetches; older completions are dropped.
	treeSeq     uint64
	treeApplied uint64

	subs map[chan struct{}]struct{}
}

// NewSession creates an idle session.
func NewSession(opts Options) *Session {
	if opts.Location == nil {
		opts.Location = NewMemoryLocation("/")
	}
	if opts.SearchDebounce == 0 {
		opts.SearchDebounce = DefaultDebounce
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = timerAfterFunc
	}
	return &Session{
		backend:   opts.Backend,
		creds:     opts.Credentials,
		loc:       opts.Location,
		afterFunc: opts.AfterFunc,
		log:       logging.OrGlobal(opts.Logger).Named("navigator"),
		baseCtx:   context.Background(),
		gate:      NewGate(opts.LoginURL, opts.AppURL),
		sync:      NewSynchronizer(opts.Location),
		search:    NewSearch(opts.SearchDebounce, cache.New(opts.SearchCacheSize)),
		sel:       RootSelection(),
		expanded:  make(map[string]bool),
		subs:      make(map[chan struct{}]struct{}),
	}
}

// Start validates the stored token, loads the tree, resolves the address,
// completes a pending login return and finally enables address writes.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = context.WithoutCancel(ctx)
	s.mu.Unlock()

	s.restoreToken(ctx)
	s.loadTree(ctx)
	s.resolveInbound()

	if artifact := s.creds.SessionCookie(); artifact != "" {
		s.mu.Lock()
		armed := !s.terminal && s.gate.ArmReturn()
		s.mu.Unlock()
		if armed {
			if err := s.completeLogin(ctx, artifact); err != nil {
				s.log.Warn("login return failed", zap.Error(err))
			}
		}
	}

	s.mu.Lock()
	if s.root != nil && !s.terminal {
		s.sync.InboundDone()
		s.sync.Outbound(s.sel)
	}
	s.mu.Unlock()
	s.notify()
	return nil
}

// restoreToken applies the stored token if the profile endpoint accepts it.
func (s *Session) restoreToken(ctx context.Context) {
	token := s.creds.Token()
	if token == "" {
		return
	}
	s.backend.SetAuthToken(token)
	user, err := s.backend.Profile(ctx)
	if err != nil {
		s.backend.SetAuthToken("")
		if errors.Is(err, client.ErrUnauthorized) {
			if cerr := s.creds.ClearToken(); cerr != nil {
				s.log.Warn("clear rejected token", zap.Error(cerr))
			}
			metrics.RecordAuthTransition("token_discarded")
		}
		s.log.Info("stored token not usable, continuing anonymously", zap.Error(err))
		return
	}

	s.mu.Lock()
	s.token = token
	s.user = user
	s.mu.Unlock()
	metrics.RecordAuthTransition("token_restored")
}

// loadTree fetches the tree, authenticated when a token is held, falling back
// to the public projection. It reports whether a tree was applied.
func (s *Session) loadTree(ctx context.Context) bool {
	s.mu.Lock()
	s.treeSeq++
	seq := s.treeSeq
	authed := s.token != ""
	s.mu.Unlock()

	var root *models.Node
	var err error
	if authed {
		root, err = s.backend.FetchTree(ctx, false)
		metrics.RecordTreeFetch("auth", err == nil)
		if err != nil {
			s.log.Warn("authenticated tree fetch failed, falling back to public", zap.Error(err))
		}
	}
	if root == nil {
		root, err = s.backend.FetchTree(ctx, true)
		metrics.RecordTreeFetch("public", err == nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if seq < s.treeApplied {
		return false
	}
	s.treeApplied = seq
	if err != nil {
		s.treeErr = err.Error()
		s.log.Error("tree fetch failed", zap.Error(err))
		return false
	}
	s.root = root
	s.treeErr = ""
	s.sync.TreeLoaded()
	s.revalidateLocked()
	s.log.Debug("tree loaded", zap.Int("nodes", tree.CountNodes(root)), zap.Bool("authenticated", authed))
	return true
}

// revalidateLocked keeps the selection pointing at existing nodes.
func (s *Session) revalidateLocked() {
	if !tree.FindByID(s.root, s.sel.FolderID).IsFolder() {
		s.sel.FolderID = models.RootID
	}
	if s.sel.FileID != "" && !tree.FindByID(s.root, s.sel.FileID).IsFile() {
		s.sel.FileID = ""
	}
	if s.drag.DraggedID != "" && tree.FindByID(s.root, s.drag.DraggedID) == nil {
		s.drag = DragState{}
	}
}

// resolveInbound runs the gate for the current address if it will accept a pass.
func (s *Session) resolveInbound() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.root == nil || s.terminal || !s.gate.CanResolve() {
		return
	}
	ident, ok := s.sync.Identifier()
	if !ok {
		return
	}

	// A stored token counts even when the profile check could not reach the
	// server; only a rejected token is removed from the store.
	ev := Evidence{Token: s.creds.Token(), SessionCookie: s.creds.SessionCookie()}
	d, ran := s.gate.Resolve(s.root, ident, ev)
	if !ran {
		return
	}
	metrics.RecordGateOutcome(d.State.String())

	switch d.State {
	case GateRedirecting:
		s.log.Info("redirecting for authentication", zap.String("identifier", ident))
		s.terminal = true
		s.sync.Navigate(d.RedirectURL)
	case GateGranted:
		if d.Node != nil {
			s.log.Debug("deep link granted", logging.NodeID(d.Node.ID))
			s.applyNodeLocked(d.Node)
		}
	case GateNotFound:
		s.log.Info("deep link not found", zap.String("identifier", ident))
	}
}

// applyNodeLocked selects a resolved node.
func (s *Session) applyNodeLocked(n *models.Node) {
	switch {
	case n.IsFile():
		s.sel.FileID = n.ID
		s.expandAncestorsLocked(n.ID)
	case n.IsFolder() && !n.IsRoot():
		s.sel = Selection{FolderID: n.ID}
		s.expandAncestorsLocked(n.ID)
	}
}

func (s *Session) expandAncestorsLocked(id string) {
	path, ok := tree.AncestorPath(s.root, id)
	if !ok {
		return
	}
	for _, fid := range path {
		s.expanded[fid] = true
	}
}

// Refresh replaces the tree wholesale. Selection is re-validated and the
// expanded set survives.
func (s *Session) Refresh(ctx context.Context) error {
	if s.isTerminal() {
		return nil
	}
	if !s.loadTree(ctx) {
		return s.treeError()
	}
	s.resolveInbound()

	s.mu.Lock()
	if !s.sync.IsInboundDone() && !s.terminal {
		s.sync.InboundDone()
	}
	s.outboundLocked()
	s.mu.Unlock()
	s.notify()
	return nil
}

func (s *Session) treeError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.treeErr == "" {
		return nil
	}
	return errors.New(s.treeErr)
}

func (s *Session) isTerminal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminal
}

func (s *Session) outboundLocked() {
	if s.terminal {
		return
	}
	s.sync.Outbound(s.sel)
}

// SelectFolder opens a folder and clears the file selection.
func (s *Session) SelectFolder(id string) {
	s.mu.Lock()
	if s.terminal || !tree.FindByID(s.root, id).IsFolder() {
		s.mu.Unlock()
		return
	}
	s.sel = Selection{FolderID: id}
	s.outboundLocked()
	s.mu.Unlock()
	s.notify()
}

// SelectFile selects a file and expands the folders above it. The open
// folder does not change.
func (s *Session) SelectFile(id string) {
	s.mu.Lock()
	if s.terminal || !tree.FindByID(s.root, id).IsFile() {
		s.mu.Unlock()
		return
	}
	s.sel.FileID = id
	s.expandAncestorsLocked(id)
	s.outboundLocked()
	s.mu.Unlock()
	s.notify()
}

// ClearFile deselects the file, leaving the open folder.
func (s *Session) ClearFile() {
	s.mu.Lock()
	if s.terminal || s.sel.FileID == "" {
		s.mu.Unlock()
		return
	}
	s.sel.FileID = ""
	s.outboundLocked()
	s.mu.Unlock()
	s.notify()
}

// ToggleExpanded flips a folder's expansion in the sidebar.
func (s *Session) ToggleExpanded(id string) {
	s.mu.Lock()
	if !tree.FindByID(s.root, id).IsFolder() {
		s.mu.Unlock()
		return
	}
	if s.expanded[id] {
		delete(s.expanded, id)
	} else {
		s.expanded[id] = true
	}
	s.mu.Unlock()
	s.notify()
}

// SetSearch updates the query. In external mode a request is sent after the
// debounce period if no further keystroke arrives.
func (s *Session) SetSearch(query string) {
	s.mu.Lock()
	if s.terminal {
		s.mu.Unlock()
		return
	}
	if gen := s.search.SetQuery(query); gen != 0 {
		s.search.arm(s.afterFunc(s.search.debounce, func() {
			s.dispatchSearch(gen)
		}))
	}
	s.mu.Unlock()
	s.notify()
}

// SetSearchMode switches between local and external search.
func (s *Session) SetSearchMode(m Mode) {
	s.mu.Lock()
	changed := !s.terminal && s.search.SetMode(m)
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

// RetriggerSearch sends the current external query immediately and waits
// for its completion.
func (s *Session) RetriggerSearch(ctx context.Context) {
	s.mu.Lock()
	if s.terminal {
		s.mu.Unlock()
		return
	}
	s.search.cancelTimer()
	req, ok := s.search.begin(0)
	s.mu.Unlock()
	if ok {
		s.runSearch(ctx, req)
	}
}

func (s *Session) dispatchSearch(gen uint64) {
	s.mu.Lock()
	if s.terminal {
		s.mu.Unlock()
		return
	}
	req, ok := s.search.begin(gen)
	ctx := s.baseCtx
	s.mu.Unlock()
	if ok {
		s.runSearch(ctx, req)
	}
}

func (s *Session) runSearch(ctx context.Context, req searchRequest) {
	s.notify()
	s.log.Debug("external search dispatched", logging.Query(req.query))

	results, err := s.backend.Search(ctx, req.query)
	metrics.RecordSearchRequest(err == nil)

	s.mu.Lock()
	applied := s.search.complete(req, results, err)
	s.mu.Unlock()

	if !applied {
		metrics.RecordSearchStaleDrop()
		s.log.Debug("stale search result dropped", logging.Query(req.query))
		return
	}
	if err != nil {
		s.log.Warn("external search failed", logging.Query(req.query), zap.Error(err))
	}
	s.notify()
}

// BeginDrag starts dragging a file. Folders are not draggable.
func (s *Session) BeginDrag(id string) {
	s.mu.Lock()
	if s.terminal || !s.nodeLocked(id).IsFile() {
		s.mu.Unlock()
		return
	}
	s.drag = DragState{DraggedID: id}
	s.mu.Unlock()
	s.notify()
}

// HoverDrop records the current drop target.
func (s *Session) HoverDrop(id string) {
	s.mu.Lock()
	if s.drag.DraggedID == "" {
		s.mu.Unlock()
		return
	}
	s.drag.HoverID = id
	s.mu.Unlock()
	s.notify()
}

// EndDrag discards the drag state.
func (s *Session) EndDrag() {
	s.mu.Lock()
	s.drag = DragState{}
	s.mu.Unlock()
	s.notify()
}

// nodeLocked finds id in the tree or the displayed list.
func (s *Session) nodeLocked(id string) *models.Node {
	if n := tree.FindByID(s.root, id); n != nil {
		return n
	}
	for _, n := range s.search.Displayed(s.root, s.sel.FolderID) {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// Drop releases the drag over a node of the displayed list. It returns
// whether an instruction was sent.
func (s *Session) Drop(ctx context.Context, targetID string) (bool, error) {
	s.mu.Lock()
	d := Drop{
		DraggedID:    s.drag.DraggedID,
		TargetID:     targetID,
		Displayed:    s.search.Displayed(s.root, s.sel.FolderID),
		OpenFolderID: s.sel.FolderID,
		SearchActive: s.search.State().Active(),
		Root:         s.root,
	}
	s.drag = DragState{}
	terminal := s.terminal
	s.mu.Unlock()

	if terminal {
		return false, nil
	}
	req, ok := PlanDrop(d)
	return s.sendMove(ctx, req, ok)
}

// DropOnEmptyArea moves the dragged file to the end of the open folder.
func (s *Session) DropOnEmptyArea(ctx context.Context) (bool, error) {
	s.mu.Lock()
	dragged, folder, root, terminal := s.drag.DraggedID, s.sel.FolderID, s.root, s.terminal
	s.drag = DragState{}
	s.mu.Unlock()

	if terminal {
		return false, nil
	}
	req, ok := PlanDropOnEmptyArea(root, dragged, folder)
	return s.sendMove(ctx, req, ok)
}

// DropOnTreeFolder moves the dragged file into a sidebar folder.
func (s *Session) DropOnTreeFolder(ctx context.Context, folderID string) (bool, error) {
	s.mu.Lock()
	dragged, root, terminal := s.drag.DraggedID, s.root, s.terminal
	s.drag = DragState{}
	s.mu.Unlock()

	if terminal {
		return false, nil
	}
	req, ok := PlanTreeDrop(root, dragged, folderID)
	return s.sendMove(ctx, req, ok)
}

func (s *Session) sendMove(ctx context.Context, req protocol.MoveRequest, ok bool) (bool, error) {
	defer s.notify()
	if !ok {
		metrics.RecordMovePlan("noop")
		return false, nil
	}
	kind := "reparent"
	if req.IsReorder() {
		kind = "reorder"
	}
	metrics.RecordMovePlan(kind)
	s.log.Info("move planned",
		logging.NodeID(req.ID),
		zap.String("kind", kind),
		zap.String("new_parent", req.NewParentID),
		zap.String("after", req.AfterID),
		zap.String("before", req.BeforeID),
	)

	if err := s.backend.Move(ctx, req); err != nil {
		return false, errors.Wrap(err, "move")
	}
	return true, s.Refresh(ctx)
}

// Rename renames a node. The root cannot be renamed.
func (s *Session) Rename(ctx context.Context, id, newName string) error {
	newName = strings.TrimSpace(newName)
	if id == models.RootID || newName == "" || s.isTerminal() {
		return nil
	}
	if err := s.backend.Rename(ctx, id, newName); err != nil {
		return errors.Wrap(err, "rename")
	}
	return s.Refresh(ctx)
}

// SetAccess changes a node's access flag. The root has no access flag.
func (s *Session) SetAccess(ctx context.Context, id string, access models.Access) error {
	if id == models.RootID || s.isTerminal() {
		return nil
	}
	if err := s.backend.SetAccess(ctx, id, access); err != nil {
		return errors.Wrap(err, "set access")
	}
	return s.Refresh(ctx)
}

// CreateFolder creates a folder inside the open folder.
func (s *Session) CreateFolder(ctx context.Context, name string) (*models.Node, error) {
	name = strings.TrimSpace(name)
	s.mu.Lock()
	parent, terminal := s.sel.FolderID, s.terminal
	s.mu.Unlock()
	if name == "" || terminal {
		return nil, nil
	}

	node, err := s.backend.CreateFolder(ctx, parent, name)
	if err != nil {
		return nil, errors.Wrap(err, "create folder")
	}
	return node, s.Refresh(ctx)
}

// Delete removes a node. Deleting the root is a no-op.
func (s *Session) Delete(ctx context.Context, id string) error {
	if id == "" || id == models.RootID || s.isTerminal() {
		return nil
	}
	if err := s.backend.Delete(ctx, id); err != nil {
		return errors.Wrap(err, "delete")
	}
	return s.Refresh(ctx)
}

// CompleteLogin exchanges a session artifact produced by the login service,
// reloads the tree as the new user and, the first time, re-resolves the
// address so the originally requested document opens.
func (s *Session) CompleteLogin(ctx context.Context, artifact string) error {
	s.mu.Lock()
	if s.terminal {
		s.mu.Unlock()
		return nil
	}
	s.gate.ArmReturn()
	s.mu.Unlock()

	err := s.completeLogin(ctx, artifact)
	s.mu.Lock()
	if s.root != nil && !s.sync.IsInboundDone() {
		s.sync.InboundDone()
	}
	s.outboundLocked()
	s.mu.Unlock()
	s.notify()
	return err
}

func (s *Session) completeLogin(ctx context.Context, artifact string) error {
	resp, err := s.backend.ExchangeSession(ctx, artifact)
	if err != nil {
		metrics.RecordAuthTransition("exchange_failed")
		return err
	}

	s.backend.SetAuthToken(resp.Token)
	user, err := s.backend.Profile(ctx)
	if err != nil {
		s.backend.SetAuthToken("")
		metrics.RecordAuthTransition("exchange_failed")
		return errors.Wrap(err, "profile after login")
	}
	expires := time.Time{}
	if resp.ExpiresAt > 0 {
		expires = time.Unix(resp.ExpiresAt, 0)
	}
	if err := s.creds.SaveToken(resp.Token, *user, expires); err != nil {
		s.log.Warn("persist token", zap.Error(err))
	}
	if err := s.creds.ClearSession(); err != nil {
		s.log.Warn("clear session artifact", zap.Error(err))
	}

	s.mu.Lock()
	s.token = resp.Token
	s.user = user
	s.mu.Unlock()
	metrics.RecordAuthTransition("login")
	s.log.Info("logged in", zap.String("user", user.Username))

	s.loadTree(ctx)
	s.resolveInbound()
	return nil
}

// Logout forgets every credential and reloads the public tree.
func (s *Session) Logout(ctx context.Context) error {
	if s.isTerminal() {
		return nil
	}
	if err := s.creds.ClearToken(); err != nil {
		return errors.Wrap(err, "clear token")
	}
	if err := s.creds.ClearSession(); err != nil {
		return errors.Wrap(err, "clear session")
	}
	s.backend.SetAuthToken("")

	s.mu.Lock()
	s.token = ""
	s.user = nil
	s.mu.Unlock()
	metrics.RecordAuthTransition("logout")
	s.log.Info("logged out")

	return s.Refresh(ctx)
}

// Snapshot returns an immutable view of the session.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	expanded := make([]string, 0, len(s.expanded))
	for id := range s.expanded {
		expanded = append(expanded, id)
	}
	sort.Strings(expanded)

	var user *models.UserProfile
	if s.user != nil {
		u := *s.user
		user = &u
	}

	return Snapshot{
		Root:      s.root,
		Selection: s.sel,
		Search:    s.search.State(),
		Auth:      AuthState{Authenticated: s.token != "", User: user},
		Gate:      s.gate.State(),
		Displayed: s.search.Displayed(s.root, s.sel.FolderID),
		TreeError: s.treeErr,
		Expanded:  expanded,
		Drag:      s.drag,
		Terminal:  s.terminal,
		Address:   s.loc.Path(),
	}
}

// Subscribe returns a channel signalled after state changes. Signals
// coalesce; read Snapshot for the current state.
func (s *Session) Subscribe() chan struct{} {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber.
func (s *Session) Unsubscribe(ch chan struct{}) {
	s.mu.Lock()
	delete(s.subs, ch)
	s.mu.Unlock()
}

func (s *Session) notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
