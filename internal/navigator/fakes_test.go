package navigator

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/fruitsalade/docnav/pkg/client"
	"github.com/fruitsalade/docnav/pkg/models"
	"github.com/fruitsalade/docnav/pkg/protocol"
	"github.com/fruitsalade/docnav/pkg/tree"
)

// fakeBackend serves a tree from memory, the way the reference server does.
type fakeBackend struct {
	mu        sync.Mutex
	root      *models.Node
	token     string
	users     map[string]models.UserProfile // token -> user
	artifacts map[string]string             // artifact -> token

	failTree     error
	failAuthTree error
	failProfile  error
	searchFn     func(q string) ([]*models.Node, error)

	treeFetches []bool // publicOnly per call
	searches    []string
	moves       []protocol.MoveRequest
	renames     []string
	deletes     []string
}

func newFakeBackend(root *models.Node) *fakeBackend {
	return &fakeBackend{
		root:      root,
		users:     map[string]models.UserProfile{},
		artifacts: map[string]string{},
	}
}

func (f *fakeBackend) SetAuthToken(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = token
}

func (f *fakeBackend) authedLocked() bool {
	_, ok := f.users[f.token]
	return ok
}

func (f *fakeBackend) FetchTree(ctx context.Context, publicOnly bool) (*models.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.treeFetches = append(f.treeFetches, publicOnly)
	if f.failTree != nil {
		return nil, f.failTree
	}
	if publicOnly {
		return tree.FilterPublic(f.root), nil
	}
	if f.failAuthTree != nil {
		return nil, f.failAuthTree
	}
	if !f.authedLocked() {
		return nil, &client.APIError{Status: 401, Message: "invalid token"}
	}
	return tree.Clone(f.root), nil
}

func (f *fakeBackend) Search(ctx context.Context, q string) ([]*models.Node, error) {
	f.mu.Lock()
	f.searches = append(f.searches, q)
	fn := f.searchFn
	f.mu.Unlock()
	if fn != nil {
		return fn(q)
	}
	return nil, nil
}

func (f *fakeBackend) Move(ctx context.Context, req protocol.MoveRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moves = append(f.moves, req)
	node := tree.FindByID(f.root, req.ID)
	oldParent := tree.FindParent(f.root, req.ID)
	newParent := tree.FindByID(f.root, req.NewParentID)
	if node == nil || oldParent == nil || !newParent.IsFolder() {
		return &client.APIError{Status: 404, Message: "not found"}
	}
	removeChild(oldParent, req.ID)
	newParent.Children = append(newParent.Children, node)
	return nil
}

func (f *fakeBackend) Rename(ctx context.Context, id, newName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renames = append(f.renames, id+"="+newName)
	if n := tree.FindByID(f.root, id); n != nil {
		n.Name = newName
	}
	return nil
}

func (f *fakeBackend) SetAccess(ctx context.Context, id string, access models.Access) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n := tree.FindByID(f.root, id); n != nil {
		n.Access = models.AccessOf(access)
	}
	return nil
}

func (f *fakeBackend) CreateFolder(ctx context.Context, parentID, name string) (*models.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	parent := tree.FindByID(f.root, parentID)
	if !parent.IsFolder() {
		return nil, &client.APIError{Status: 404}
	}
	n := &models.Node{ID: "new-" + name, Name: name, Kind: models.KindFolder}
	parent.Children = append(parent.Children, n)
	return n, nil
}

func (f *fakeBackend) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, id)
	if parent := tree.FindParent(f.root, id); parent != nil {
		removeChild(parent, id)
	}
	return nil
}

func (f *fakeBackend) ExchangeSession(ctx context.Context, artifact string) (*protocol.TokenResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	token, ok := f.artifacts[artifact]
	if !ok {
		return nil, &client.APIError{Status: 401, Message: "unknown session"}
	}
	return &protocol.TokenResponse{Token: token, User: f.users[token]}, nil
}

func (f *fakeBackend) Profile(ctx context.Context) (*models.UserProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failProfile != nil {
		return nil, f.failProfile
	}
	u, ok := f.users[f.token]
	if !ok {
		return nil, &client.APIError{Status: 401, Message: "invalid token"}
	}
	return &u, nil
}

func (f *fakeBackend) searchCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.searches...)
}

func removeChild(parent *models.Node, id string) {
	for i, c := range parent.Children {
		if c.ID == id {
			parent.Children = append(parent.Children[:i], parent.Children[i+1:]...)
			return
		}
	}
}

// memCredentials keeps credentials in memory.
type memCredentials struct {
	mu      sync.Mutex
	token   string
	session string
	user    models.UserProfile
}

func (m *memCredentials) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

func (m *memCredentials) SessionCookie() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

func (m *memCredentials) SaveToken(token string, user models.UserProfile, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token, m.user = token, user
	return nil
}

func (m *memCredentials) ClearToken() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = ""
	return nil
}

func (m *memCredentials) ClearSession() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = ""
	return nil
}

// fakeClock holds scheduled functions until fired explicitly.
type fakeClock struct {
	mu      sync.Mutex
	pending []*fakeTimer
}

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) func() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	c.pending = append(c.pending, t)
	return func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		was := !t.stopped
		t.stopped = true
		return was
	}
}

// Active counts scheduled functions that were not stopped.
func (c *fakeClock) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.pending {
		if !t.stopped {
			n++
		}
	}
	return n
}

// FireAll runs every live scheduled function.
func (c *fakeClock) FireAll() {
	c.mu.Lock()
	var due []*fakeTimer
	for _, t := range c.pending {
		if !t.stopped {
			t.stopped = true
			due = append(due, t)
		}
	}
	c.pending = nil
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

// FireStale runs a function even though it was stopped, as a timer that
// already fired would.
func (c *fakeClock) FireStale(i int) {
	c.mu.Lock()
	t := c.pending[i]
	c.mu.Unlock()
	t.f()
}

var errTransport = errors.New("connection refused")

// guidesTree is root -> Guides -> Onboarding.md, plus a private folder.
func guidesTree(onboardingAccess models.Access) *models.Node {
	return &models.Node{ID: models.RootID, Name: "root", Kind: models.KindFolder, Children: []*models.Node{
		{ID: "guides", Name: "Guides", Kind: models.KindFolder, Access: models.AccessOf(models.AccessPublic), Children: []*models.Node{
			{ID: "onboarding.md", Name: "Onboarding.md", Kind: models.KindFile, Access: models.AccessOf(onboardingAccess)},
			{ID: "style", Name: "Style Guide", Kind: models.KindFile, Mime: "application/pdf",
				URL: "https://cdn.example.com/d/StyleGuide-v2.pdf"},
		}},
		{ID: "hr", Name: "HR", Kind: models.KindFolder, Access: models.AccessOf(models.AccessPrivate), Children: []*models.Node{
			{ID: "salaries", Name: "Salaries.xlsx", Kind: models.KindFile, Access: models.AccessOf(models.AccessPrivate)},
		}},
		{ID: "a", Name: "A.md", Kind: models.KindFile},
		{ID: "b", Name: "B.md", Kind: models.KindFile},
		{ID: "c", Name: "C.md", Kind: models.KindFile},
		{ID: "d", Name: "D.md", Kind: models.KindFile},
	}}
}
