package metadata

import (
	"context"
	"os"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/fruitsalade/docnav/pkg/models"
	"github.com/fruitsalade/docnav/pkg/protocol"
	"github.com/fruitsalade/docnav/pkg/tree"
)

// MemoryStore keeps the tree in process.
type MemoryStore struct {
	mu   sync.RWMutex
	root *models.Node
	now  func() time.Time
}

// NewMemoryStore copies root. A nil root starts an empty tree.
func NewMemoryStore(root *models.Node) *MemoryStore {
	if root == nil {
		root = &models.Node{ID: models.RootID, Name: "root", Kind: models.KindFolder}
	}
	return &MemoryStore{root: tree.Clone(root), now: time.Now}
}

// LoadSeed reads a tree from a JSON file, either a bare node or a
// {"root": ...} document.
func LoadSeed(path string) (*models.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read seed")
	}
	var doc protocol.TreeResponse
	if err := json.Unmarshal(data, &doc); err == nil && doc.Root != nil {
		return checkSeed(doc.Root)
	}
	var root models.Node
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, errors.Wrap(err, "parse seed")
	}
	return checkSeed(&root)
}

func checkSeed(root *models.Node) (*models.Node, error) {
	if root.ID != models.RootID || !root.IsFolder() {
		return nil, errors.Errorf("seed root must be a folder with id %q", models.RootID)
	}
	seen := make(map[string]bool)
	var dup string
	tree.Walk(root, func(n *models.Node) bool {
		if seen[n.ID] {
			dup = n.ID
			return false
		}
		seen[n.ID] = true
		return true
	})
	if dup != "" {
		return nil, errors.Errorf("seed has duplicate id %q", dup)
	}
	return root, nil
}

func (m *MemoryStore) Tree(ctx context.Context) (*models.Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return tree.Clone(m.root), nil
}

func (m *MemoryStore) Move(ctx context.Context, req protocol.MoveRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ValidateMove(m.root, req); err != nil {
		return err
	}
	node := tree.FindByID(m.root, req.ID)
	detach(tree.FindParent(m.root, req.ID), req.ID)

	parent := tree.FindByID(m.root, req.NewParentID)
	ids := make([]string, len(parent.Children))
	for i, c := range parent.Children {
		ids[i] = c.ID
	}
	at := InsertIndex(ids, req)
	parent.Children = append(parent.Children, nil)
	copy(parent.Children[at+1:], parent.Children[at:])
	parent.Children[at] = node

	node.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) Rename(ctx context.Context, id, newName string) error {
	name, err := ValidName(newName)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n, err := m.mutable(id)
	if err != nil {
		return err
	}
	n.Name = name
	n.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) SetAccess(ctx context.Context, id string, access models.Access) error {
	if access != models.AccessPublic && access != models.AccessPrivate {
		return errors.Wrapf(ErrInvalid, "access %d", access)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n, err := m.mutable(id)
	if err != nil {
		return err
	}
	n.Access = models.AccessOf(access)
	n.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) CreateFolder(ctx context.Context, parentID, name string) (*models.Node, error) {
	name, err := ValidName(name)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	parent := tree.FindByID(m.root, parentID)
	if parent == nil {
		return nil, errors.Wrapf(ErrNotFound, "parent %s", parentID)
	}
	if !parent.IsFolder() {
		return nil, errors.Wrapf(ErrInvalid, "%s is not a folder", parentID)
	}
	now := m.now()
	n := &models.Node{
		ID:        uuid.NewString(),
		Name:      name,
		Kind:      models.KindFolder,
		Access:    models.AccessOf(models.AccessPublic),
		CreatedAt: now,
		UpdatedAt: now,
	}
	parent.Children = append(parent.Children, n)
	return tree.Clone(n), nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.mutable(id); err != nil {
		return err
	}
	detach(tree.FindParent(m.root, id), id)
	return nil
}

func (m *MemoryStore) Close() error { return nil }

// mutable finds a non-root node.
func (m *MemoryStore) mutable(id string) (*models.Node, error) {
	if id == models.RootID {
		return nil, errors.Wrap(ErrInvalid, "root cannot be modified")
	}
	n := tree.FindByID(m.root, id)
	if n == nil {
		return nil, errors.Wrapf(ErrNotFound, "node %s", id)
	}
	return n, nil
}

func detach(parent *models.Node, id string) {
	if parent == nil {
		return
	}
	for i, c := range parent.Children {
		if c.ID == id {
			parent.Children = append(parent.Children[:i], parent.Children[i+1:]...)
			return
		}
	}
}
