// Package objserver is a reference implementation of the object-store protocol:
// an SQLite-backed, Git-compatible content-addressed store with compare-and-swap
// refs, and an HTTP handler exposing any objstore.Store.
package objserver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	_ "modernc.org/sqlite"

	"github.com/matsen/atomicpush/internal/objstore"
	"github.com/matsen/atomicpush/internal/tree"
)

// DB is an object store persisted in SQLite.
type DB struct {
	db *sql.DB
}

// Open opens or creates a store database at the given path.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite doesn't support concurrent writes
	db.SetMaxOpenConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &DB{db: db}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// createSchema creates the database schema if it doesn't exist.
func createSchema(db *sql.DB) error {
	schema := `
		-- Immutable objects keyed by content hash; data is the canonical Git body
		CREATE TABLE IF NOT EXISTS objects (
			hash TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			data BLOB
		);

		-- The only mutable state
		CREATE TABLE IF NOT EXISTS refs (
			name TEXT PRIMARY KEY,
			hash TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);
	`

	_, err := db.Exec(schema)
	return err
}

// put stores an object; storing existing content is a no-op.
func (d *DB) put(ctx context.Context, obj *encoded) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO objects (hash, type, data) VALUES (?, ?, ?)`,
		string(obj.hash), obj.kind.String(), obj.data)
	if err != nil {
		return fmt.Errorf("storing %s %s: %w", obj.kind, obj.hash, err)
	}
	return nil
}

// get loads the raw body of an object of the given type.
func (d *DB) get(ctx context.Context, hash objstore.Hash, kind plumbing.ObjectType) ([]byte, error) {
	var data []byte
	err := d.db.QueryRowContext(ctx,
		`SELECT data FROM objects WHERE hash = ? AND type = ?`,
		string(hash), kind.String()).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s %s", objstore.ErrNotFound, kind, hash)
	}
	if err != nil {
		return nil, fmt.Errorf("loading %s %s: %w", kind, hash, err)
	}
	return data, nil
}

func (d *DB) exists(ctx context.Context, hash objstore.Hash, kind plumbing.ObjectType) (bool, error) {
	var n int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM objects WHERE hash = ? AND type = ?`,
		string(hash), kind.String()).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking %s %s: %w", kind, hash, err)
	}
	return n > 0, nil
}

// ReadRef returns the commit a ref points at.
func (d *DB) ReadRef(ctx context.Context, name string) (objstore.Hash, error) {
	var hash string
	err := d.db.QueryRowContext(ctx, `SELECT hash FROM refs WHERE name = ?`, name).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", objstore.ErrRefNotFound, name)
	}
	if err != nil {
		return "", fmt.Errorf("reading ref %s: %w", name, err)
	}
	return objstore.Hash(hash), nil
}

// ListRefs returns all refs ordered by name.
func (d *DB) ListRefs(ctx context.Context) ([]objstore.Ref, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT name, hash FROM refs ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing refs: %w", err)
	}
	defer rows.Close()

	var refs []objstore.Ref
	for rows.Next() {
		var name, hash string
		if err := rows.Scan(&name, &hash); err != nil {
			return nil, fmt.Errorf("scanning ref: %w", err)
		}
		refs = append(refs, objstore.Ref{Name: name, Hash: objstore.Hash(hash)})
	}
	return refs, rows.Err()
}

// ReadCommit returns a commit.
func (d *DB) ReadCommit(ctx context.Context, hash objstore.Hash) (*objstore.Commit, error) {
	data, err := d.get(ctx, hash, plumbing.CommitObject)
	if err != nil {
		return nil, err
	}
	return decodeCommit(data)
}

// ReadTree returns the recursive listing of a tree, directories included.
func (d *DB) ReadTree(ctx context.Context, hash objstore.Hash) ([]objstore.TreeEntry, error) {
	var out []objstore.TreeEntry
	if err := d.walkTree(ctx, hash, "", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (d *DB) walkTree(ctx context.Context, hash objstore.Hash, prefix string, out *[]objstore.TreeEntry) error {
	data, err := d.get(ctx, hash, plumbing.TreeObject)
	if err != nil {
		return err
	}
	t, err := decodeTree(data)
	if err != nil {
		return err
	}

	for _, e := range t.Entries {
		entry := objstore.TreeEntry{
			Path: prefix + e.Name,
			Mode: fromGitMode(e.Mode),
			Type: typeForMode(e.Mode),
			Hash: objstore.Hash(e.Hash.String()),
		}
		*out = append(*out, entry)
		if entry.Type == objstore.TypeTree {
			if err := d.walkTree(ctx, entry.Hash, entry.Path+"/", out); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReadBlob returns the content of a blob.
func (d *DB) ReadBlob(ctx context.Context, hash objstore.Hash) (string, error) {
	data, err := d.get(ctx, hash, plumbing.BlobObject)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// CreateBlob stores content.
func (d *DB) CreateBlob(ctx context.Context, content string) (objstore.Hash, error) {
	obj := encodeBlob(content)
	if err := d.put(ctx, obj); err != nil {
		return "", err
	}
	return obj.hash, nil
}

// CreateTree stores the tree made of base overridden by entries. Entries are
// leaves with full paths; intermediate trees are created as needed.
func (d *DB) CreateTree(ctx context.Context, base objstore.Hash, entries []objstore.TreeEntry) (objstore.Hash, error) {
	for _, e := range entries {
		if e.IsDir() {
			return "", &objstore.PathConflictError{Path: e.Path, Reason: "tree entries must be files"}
		}
		if e.Type == "" || e.Type == objstore.TypeBlob {
			ok, err := d.exists(ctx, e.Hash, plumbing.BlobObject)
			if err != nil {
				return "", err
			}
			if !ok {
				return "", fmt.Errorf("%w: blob %s for %s", objstore.ErrNotFound, e.Hash, e.Path)
			}
		}
	}

	var baseEntries []objstore.TreeEntry
	if !base.IsZero() {
		var err error
		if baseEntries, err = d.ReadTree(ctx, base); err != nil {
			return "", err
		}
	}

	comp, err := tree.Compose(baseEntries, entries)
	if err != nil {
		return "", err
	}

	objs, err := encodeTrees(buildNodes(comp.Entries))
	if err != nil {
		return "", err
	}
	for _, obj := range objs {
		if err := d.put(ctx, obj); err != nil {
			return "", err
		}
	}
	return objs[len(objs)-1].hash, nil
}

// CreateCommit stores a commit after checking that its tree and parents exist.
func (d *DB) CreateCommit(ctx context.Context, nc objstore.NewCommit) (objstore.Hash, error) {
	if ok, err := d.exists(ctx, nc.Tree, plumbing.TreeObject); err != nil {
		return "", err
	} else if !ok {
		return "", fmt.Errorf("%w: tree %s", objstore.ErrNotFound, nc.Tree)
	}
	for _, p := range nc.Parents {
		if ok, err := d.exists(ctx, p, plumbing.CommitObject); err != nil {
			return "", err
		} else if !ok {
			return "", fmt.Errorf("%w: parent commit %s", objstore.ErrNotFound, p)
		}
	}

	obj, err := encodeCommit(nc)
	if err != nil {
		return "", err
	}
	if err := d.put(ctx, obj); err != nil {
		return "", err
	}
	return obj.hash, nil
}

// UpdateRef moves a ref from expectedOld to newHash in a single conditional
// UPDATE, which is the store's only atomicity point.
func (d *DB) UpdateRef(ctx context.Context, name string, expectedOld, newHash objstore.Hash) error {
	if ok, err := d.exists(ctx, newHash, plumbing.CommitObject); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("%w: commit %s", objstore.ErrNotFound, newHash)
	}

	res, err := d.db.ExecContext(ctx,
		`UPDATE refs SET hash = ?, updated_at = ? WHERE name = ? AND hash = ?`,
		string(newHash), time.Now().Unix(), name, string(expectedOld))
	if err != nil {
		return fmt.Errorf("updating ref %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating ref %s: %w", name, err)
	}
	if n == 1 {
		return nil
	}

	current, err := d.ReadRef(ctx, name)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s is at %s, expected %s", objstore.ErrConflict, name, current.Short(), expectedOld.Short())
}

// CreateRef creates a new ref. It fails with ErrConflict if the ref exists.
func (d *DB) CreateRef(ctx context.Context, name string, hash objstore.Hash) error {
	if ok, err := d.exists(ctx, hash, plumbing.CommitObject); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("%w: commit %s", objstore.ErrNotFound, hash)
	}

	_, err := d.db.ExecContext(ctx,
		`INSERT INTO refs (name, hash, updated_at) VALUES (?, ?, ?)`,
		name, string(hash), time.Now().Unix())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return fmt.Errorf("%w: ref %s already exists", objstore.ErrConflict, name)
		}
		return fmt.Errorf("creating ref %s: %w", name, err)
	}
	return nil
}

// InitRef makes sure a ref exists, creating a root commit with an empty tree if
// it does not. It returns the commit the ref points at.
func (d *DB) InitRef(ctx context.Context, name string, author objstore.Signature) (objstore.Hash, error) {
	if hash, err := d.ReadRef(ctx, name); err == nil {
		return hash, nil
	} else if !errors.Is(err, objstore.ErrRefNotFound) {
		return "", err
	}

	emptyTree, err := d.CreateTree(ctx, "", nil)
	if err != nil {
		return "", err
	}
	if author.When.IsZero() {
		author.When = time.Now().UTC().Truncate(time.Second)
	}
	commit, err := d.CreateCommit(ctx, objstore.NewCommit{
		Tree:    emptyTree,
		Message: "Initial commit\n",
		Author:  author,
	})
	if err != nil {
		return "", err
	}
	if err := d.CreateRef(ctx, name, commit); err != nil {
		return "", err
	}
	return commit, nil
}

var _ objstore.Store = (*DB)(nil)
