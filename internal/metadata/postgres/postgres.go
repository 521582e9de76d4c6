// Package postgres provides a PostgreSQL-backed metadata store with metrics.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"io/fs"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/fruitsalade/docnav/internal/logging"
	"github.com/fruitsalade/docnav/internal/metadata"
	"github.com/fruitsalade/docnav/internal/metrics"
	"github.com/fruitsalade/docnav/pkg/models"
	"github.com/fruitsalade/docnav/pkg/protocol"
	"github.com/fruitsalade/docnav/pkg/tree"
)

//go:embed migrations/*.up.sql
var migrations embed.FS

// Store is a PostgreSQL metadata store.
type Store struct {
	db  *sql.DB
	log *zap.Logger
}

var _ metadata.Store = (*Store)(nil)

// nodeRow maps to the nodes table.
type nodeRow struct {
	ID          string
	ParentID    sql.NullString
	Name        string
	Kind        string
	Access      sql.NullInt64
	Mime        string
	URL         string
	IndexStatus string
	SortOrder   int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// New creates a new PostgreSQL metadata store.
func New(databaseURL string, log *zap.Logger) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping database")
	}

	return &Store{db: db, log: logging.OrGlobal(log).Named("postgres")}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate runs the embedded migration files in name order.
func (s *Store) Migrate(ctx context.Context) error {
	files, err := fs.Glob(migrations, "migrations/*.up.sql")
	if err != nil {
		return errors.Wrap(err, "glob migrations")
	}
	sort.Strings(files)

	for _, f := range files {
		s.log.Info("running migration", zap.String("file", f))
		content, err := migrations.ReadFile(f)
		if err != nil {
			return errors.Wrapf(err, "read migration %s", f)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return errors.Wrapf(err, "exec migration %s", f)
		}
	}
	return nil
}

// Seed loads root into an empty store. It reports whether anything was written.
func (s *Store) Seed(ctx context.Context, root *models.Node) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM nodes WHERE id <> 'root'`).Scan(&count); err != nil {
		return false, errors.Wrap(err, "count nodes")
	}
	if count > 0 {
		return false, nil
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var insert func(parent string, children []*models.Node) error
		insert = func(parent string, children []*models.Node) error {
			for i, n := range children {
				if n == nil {
					continue
				}
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO nodes (id, parent_id, name, kind, access, mime, url, index_status, sort_order)
					 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
					n.ID, parent, n.Name, string(n.Kind), accessValue(n.Access), n.Mime, n.URL, n.IndexStatus, i); err != nil {
					return errors.Wrapf(err, "insert %s", n.ID)
				}
				if n.IsFolder() {
					if err := insert(n.ID, n.Children); err != nil {
						return err
					}
				}
			}
			return nil
		}
		return insert(models.RootID, root.Children)
	})
	if err != nil {
		return false, err
	}
	s.log.Info("seeded metadata", zap.Int("nodes", tree.CountNodes(root)-1))
	return true, nil
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Tree builds the full tree from the database.
func (s *Store) Tree(ctx context.Context) (*models.Node, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("build_tree", time.Since(start)) }()
	return readTree(ctx, s.db)
}

func readTree(ctx context.Context, q querier) (*models.Node, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, parent_id, name, kind, access, mime, url, index_status, sort_order, created_at, updated_at
		 FROM nodes ORDER BY sort_order, name`)
	if err != nil {
		return nil, errors.Wrap(err, "query nodes")
	}
	defer rows.Close()

	nodeMap := make(map[string]*models.Node)
	var all []nodeRow
	for rows.Next() {
		var r nodeRow
		if err := rows.Scan(&r.ID, &r.ParentID, &r.Name, &r.Kind, &r.Access, &r.Mime,
			&r.URL, &r.IndexStatus, &r.SortOrder, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "scan row")
		}
		all = append(all, r)
		nodeMap[r.ID] = rowToNode(&r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows error")
	}

	root := nodeMap[models.RootID]
	if root == nil {
		root = &models.Node{ID: models.RootID, Name: "root", Kind: models.KindFolder}
	}
	// Rows are already in sibling order, so appending keeps it.
	for _, r := range all {
		if !r.ParentID.Valid {
			continue
		}
		if parent, ok := nodeMap[r.ParentID.String]; ok && parent.IsFolder() {
			parent.Children = append(parent.Children, nodeMap[r.ID])
		}
	}
	return root, nil
}

// Move reparents a node and rewrites the sort order of its new siblings.
func (s *Store) Move(ctx context.Context, req protocol.MoveRequest) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("move", time.Since(start)) }()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		// Moves serialize on this lock so the cycle check sees every
		// committed reparent. Plain reads are not blocked.
		if _, err := tx.ExecContext(ctx, `LOCK TABLE nodes IN SHARE ROW EXCLUSIVE MODE`); err != nil {
			return errors.Wrap(err, "lock nodes")
		}
		root, err := readTree(ctx, tx)
		if err != nil {
			return err
		}
		if err := metadata.ValidateMove(root, req); err != nil {
			return err
		}

		siblings, err := siblingIDs(ctx, tx, req.NewParentID, req.ID)
		if err != nil {
			return err
		}
		at := metadata.InsertIndex(siblings, req)
		ordered := make([]string, 0, len(siblings)+1)
		ordered = append(ordered, siblings[:at]...)
		ordered = append(ordered, req.ID)
		ordered = append(ordered, siblings[at:]...)

		if _, err := tx.ExecContext(ctx,
			`UPDATE nodes SET parent_id = $1, updated_at = NOW() WHERE id = $2`,
			req.NewParentID, req.ID); err != nil {
			return errors.Wrap(err, "reparent")
		}
		return renumber(ctx, tx, ordered)
	})
}

func siblingIDs(ctx context.Context, tx *sql.Tx, parentID, exclude string) ([]string, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM nodes WHERE parent_id = $1 AND id <> $2 ORDER BY sort_order, name FOR UPDATE`,
		parentID, exclude)
	if err != nil {
		return nil, errors.Wrap(err, "query siblings")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan sibling")
		}
		ids = append(ids, id)
	}
	return ids, errors.Wrap(rows.Err(), "siblings")
}

// renumber assigns sort_order 0..n-1 following ids.
func renumber(ctx context.Context, tx *sql.Tx, ids []string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE nodes SET sort_order = o.ord - 1
		 FROM unnest($1::text[]) WITH ORDINALITY AS o(id, ord)
		 WHERE nodes.id = o.id`,
		pq.Array(ids))
	return errors.Wrap(err, "renumber siblings")
}

func (s *Store) Rename(ctx context.Context, id, newName string) error {
	name, err := metadata.ValidName(newName)
	if err != nil {
		return err
	}
	return s.update(ctx, "rename", id,
		`UPDATE nodes SET name = $2, updated_at = NOW() WHERE id = $1`, name)
}

func (s *Store) SetAccess(ctx context.Context, id string, access models.Access) error {
	if access != models.AccessPublic && access != models.AccessPrivate {
		return errors.Wrapf(metadata.ErrInvalid, "access %d", access)
	}
	return s.update(ctx, "set_access", id,
		`UPDATE nodes SET access = $2, updated_at = NOW() WHERE id = $1`, int(access))
}

func (s *Store) CreateFolder(ctx context.Context, parentID, name string) (*models.Node, error) {
	name, err := metadata.ValidName(name)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() { metrics.RecordDBQuery("create_folder", time.Since(start)) }()

	var kind string
	err = s.db.QueryRowContext(ctx, `SELECT kind FROM nodes WHERE id = $1`, parentID).Scan(&kind)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(metadata.ErrNotFound, "parent %s", parentID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "query parent")
	}
	if kind != string(models.KindFolder) {
		return nil, errors.Wrapf(metadata.ErrInvalid, "%s is not a folder", parentID)
	}

	r := nodeRow{ID: uuid.NewString(), Name: name, Kind: string(models.KindFolder)}
	r.Access = sql.NullInt64{Int64: int64(models.AccessPublic), Valid: true}
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO nodes (id, parent_id, name, kind, access, sort_order)
		 VALUES ($1, $2, $3, 'folder', 0,
		         (SELECT COALESCE(MAX(sort_order) + 1, 0) FROM nodes WHERE parent_id = $2))
		 RETURNING sort_order, created_at, updated_at`,
		r.ID, parentID, name).Scan(&r.SortOrder, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "foreign_key_violation" {
			return nil, errors.Wrapf(metadata.ErrNotFound, "parent %s", parentID)
		}
		return nil, errors.Wrap(err, "insert folder")
	}
	return rowToNode(&r), nil
}

// Delete removes a node; the foreign key cascades to its subtree.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.update(ctx, "delete", id, `DELETE FROM nodes WHERE id = $1`)
}

func (s *Store) update(ctx context.Context, op, id, query string, args ...any) error {
	if id == models.RootID {
		return errors.Wrapf(metadata.ErrInvalid, "root cannot %s", op)
	}
	start := time.Now()
	defer func() { metrics.RecordDBQuery(op, time.Since(start)) }()

	res, err := s.db.ExecContext(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return errors.Wrap(err, op)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, op)
	}
	if n == 0 {
		return errors.Wrapf(metadata.ErrNotFound, "node %s", id)
	}
	return nil
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "commit")
}

func rowToNode(r *nodeRow) *models.Node {
	n := &models.Node{
		ID:          r.ID,
		Name:        r.Name,
		Kind:        models.Kind(r.Kind),
		Mime:        r.Mime,
		URL:         r.URL,
		IndexStatus: r.IndexStatus,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.Access.Valid {
		n.Access = models.AccessOf(models.Access(r.Access.Int64))
	}
	return n
}

func accessValue(a *models.Access) any {
	if a == nil {
		return nil
	}
	return int(*a)
}
