package push_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/matsen/atomicpush/internal/objserver"
	"github.com/matsen/atomicpush/internal/objstore"
)

var initAuthor = objstore.Signature{
	Name:  "init",
	Email: "init@example.com",
	When:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
}

// faultStore wraps the SQLite store, counts calls, and lets a test inject
// failures into individual operations.
type faultStore struct {
	*objserver.DB

	mu    sync.Mutex
	calls map[string]int

	// blobHook runs before each CreateBlob; a non-nil error is returned
	// instead of storing the blob.
	blobHook func(ctx context.Context, content string) error
	// readRefHook runs before each ReadRef.
	readRefHook func() error
	// updateRefHook wraps UpdateRef; apply performs the real update.
	updateRefHook func(apply func() error) error
}

func newFaultStore(t *testing.T) *faultStore {
	t.Helper()
	db, err := objserver.Open(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("objserver.Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.InitRef(context.Background(), "main", initAuthor); err != nil {
		t.Fatalf("InitRef() error: %v", err)
	}
	return &faultStore{DB: db, calls: map[string]int{}}
}

func (s *faultStore) count(op string) {
	s.mu.Lock()
	s.calls[op]++
	s.mu.Unlock()
}

func (s *faultStore) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *faultStore) ReadRef(ctx context.Context, name string) (objstore.Hash, error) {
	s.count("ReadRef")
	if s.readRefHook != nil {
		if err := s.readRefHook(); err != nil {
			return "", err
		}
	}
	return s.DB.ReadRef(ctx, name)
}

func (s *faultStore) CreateBlob(ctx context.Context, content string) (objstore.Hash, error) {
	s.count("CreateBlob")
	if s.blobHook != nil {
		if err := s.blobHook(ctx, content); err != nil {
			return "", err
		}
	}
	return s.DB.CreateBlob(ctx, content)
}

func (s *faultStore) CreateTree(ctx context.Context, base objstore.Hash, entries []objstore.TreeEntry) (objstore.Hash, error) {
	s.count("CreateTree")
	return s.DB.CreateTree(ctx, base, entries)
}

func (s *faultStore) CreateCommit(ctx context.Context, nc objstore.NewCommit) (objstore.Hash, error) {
	s.count("CreateCommit")
	return s.DB.CreateCommit(ctx, nc)
}

func (s *faultStore) UpdateRef(ctx context.Context, name string, expectedOld, newHash objstore.Hash) error {
	s.count("UpdateRef")
	apply := func() error { return s.DB.UpdateRef(ctx, name, expectedOld, newHash) }
	if s.updateRefHook != nil {
		return s.updateRefHook(apply)
	}
	return apply()
}

// failTimes returns a blob hook failing content with err n times.
func failTimes(content string, n int, err error) func(context.Context, string) error {
	var mu sync.Mutex
	left := n
	return func(_ context.Context, c string) error {
		if c != content {
			return nil
		}
		mu.Lock()
		defer mu.Unlock()
		if left == 0 {
			return nil
		}
		left--
		return err
	}
}

// tipFiles reads every file at the tip of ref.
func tipFiles(t *testing.T, store objstore.Store, ref string) (objstore.Hash, map[string]string) {
	t.Helper()
	ctx := context.Background()
	tip, err := store.ReadRef(ctx, ref)
	if err != nil {
		t.Fatalf("ReadRef() error: %v", err)
	}
	commit, err := store.ReadCommit(ctx, tip)
	if err != nil {
		t.Fatalf("ReadCommit() error: %v", err)
	}
	entries, err := store.ReadTree(ctx, commit.Tree)
	if err != nil {
		t.Fatalf("ReadTree() error: %v", err)
	}
	files := map[string]string{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		content, err := store.ReadBlob(ctx, e.Hash)
		if err != nil {
			t.Fatalf("ReadBlob(%s) error: %v", e.Path, err)
		}
		files[e.Path] = content
	}
	return tip, files
}
