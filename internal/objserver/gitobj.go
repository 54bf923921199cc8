package objserver

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/matsen/atomicpush/internal/objstore"
)

// encoded is a Git object ready to be stored.
type encoded struct {
	hash objstore.Hash
	kind plumbing.ObjectType
	data []byte
}

// encode serializes a go-git object into its canonical Git form.
func encode(obj interface {
	Encode(plumbing.EncodedObject) error
}) (*encoded, error) {
	mem := &plumbing.MemoryObject{}
	if err := obj.Encode(mem); err != nil {
		return nil, err
	}
	r, err := mem.Reader()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return &encoded{hash: objstore.Hash(mem.Hash().String()), kind: mem.Type(), data: data}, nil
}

// memoryObject wraps raw object data for decoding.
func memoryObject(kind plumbing.ObjectType, data []byte) (*plumbing.MemoryObject, error) {
	mem := &plumbing.MemoryObject{}
	mem.SetType(kind)
	if _, err := mem.Write(data); err != nil {
		return nil, err
	}
	return mem, nil
}

func encodeBlob(content string) *encoded {
	data := []byte(content)
	return &encoded{
		hash: objstore.Hash(plumbing.ComputeHash(plumbing.BlobObject, data).String()),
		kind: plumbing.BlobObject,
		data: data,
	}
}

func toGitMode(m objstore.Mode) (filemode.FileMode, error) {
	fm, err := filemode.New(string(m))
	if err != nil {
		return filemode.Empty, fmt.Errorf("invalid mode %q: %w", m, err)
	}
	return fm, nil
}

func fromGitMode(fm filemode.FileMode) objstore.Mode {
	return objstore.Mode(fmt.Sprintf("%06o", uint32(fm)))
}

func typeForMode(fm filemode.FileMode) objstore.ObjectType {
	switch fm {
	case filemode.Dir:
		return objstore.TypeTree
	case filemode.Submodule:
		return objstore.TypeCommit
	default:
		return objstore.TypeBlob
	}
}

func parseHash(h objstore.Hash) (plumbing.Hash, error) {
	if !plumbing.IsHash(string(h)) {
		return plumbing.ZeroHash, fmt.Errorf("%w: malformed hash %q", objstore.ErrNotFound, h)
	}
	return plumbing.NewHash(string(h)), nil
}

// node is a directory being assembled from flat leaf paths.
type node struct {
	leaves map[string]objstore.TreeEntry
	dirs   map[string]*node
}

func newNode() *node {
	return &node{leaves: map[string]objstore.TreeEntry{}, dirs: map[string]*node{}}
}

// buildNodes turns a flat leaf listing into a directory hierarchy.
func buildNodes(leaves []objstore.TreeEntry) *node {
	root := newNode()
	for _, e := range leaves {
		n := root
		segs := strings.Split(e.Path, "/")
		for _, seg := range segs[:len(segs)-1] {
			child, ok := n.dirs[seg]
			if !ok {
				child = newNode()
				n.dirs[seg] = child
			}
			n = child
		}
		n.leaves[segs[len(segs)-1]] = e
	}
	return root
}

// encodeTrees encodes n and all of its subtrees, children first. The root is last.
func encodeTrees(n *node) ([]*encoded, error) {
	var out []*encoded
	var entries []object.TreeEntry

	for name, child := range n.dirs {
		sub, err := encodeTrees(child)
		if err != nil {
			return nil, err
		}
		out = append(out, sub...)
		entries = append(entries, object.TreeEntry{
			Name: name,
			Mode: filemode.Dir,
			Hash: plumbing.NewHash(string(sub[len(sub)-1].hash)),
		})
	}

	for name, leaf := range n.leaves {
		fm, err := toGitMode(leaf.Mode)
		if err != nil {
			return nil, err
		}
		h, err := parseHash(leaf.Hash)
		if err != nil {
			return nil, err
		}
		entries = append(entries, object.TreeEntry{Name: name, Mode: fm, Hash: h})
	}

	sortGitEntries(entries)
	enc, err := encode(&object.Tree{Entries: entries})
	if err != nil {
		return nil, fmt.Errorf("encoding tree: %w", err)
	}
	return append(out, enc), nil
}

// sortGitEntries orders entries the way Git does: by name, with directories
// compared as if their name ended in "/".
func sortGitEntries(entries []object.TreeEntry) {
	key := func(e object.TreeEntry) string {
		if e.Mode == filemode.Dir {
			return e.Name + "/"
		}
		return e.Name
	}
	sort.Slice(entries, func(i, j int) bool {
		return key(entries[i]) < key(entries[j])
	})
}

func decodeTree(data []byte) (*object.Tree, error) {
	mem, err := memoryObject(plumbing.TreeObject, data)
	if err != nil {
		return nil, err
	}
	var t object.Tree
	if err := t.Decode(mem); err != nil {
		return nil, fmt.Errorf("decoding tree: %w", err)
	}
	return &t, nil
}

func encodeCommit(nc objstore.NewCommit) (*encoded, error) {
	treeHash, err := parseHash(nc.Tree)
	if err != nil {
		return nil, err
	}
	parents := make([]plumbing.Hash, len(nc.Parents))
	for i, p := range nc.Parents {
		if parents[i], err = parseHash(p); err != nil {
			return nil, err
		}
	}

	sig := object.Signature{Name: nc.Author.Name, Email: nc.Author.Email, When: nc.Author.When}
	return encode(&object.Commit{
		Author:       sig,
		Committer:    sig,
		Message:      nc.Message,
		TreeHash:     treeHash,
		ParentHashes: parents,
	})
}

func decodeCommit(data []byte) (*objstore.Commit, error) {
	mem, err := memoryObject(plumbing.CommitObject, data)
	if err != nil {
		return nil, err
	}
	var c object.Commit
	if err := c.Decode(mem); err != nil {
		return nil, fmt.Errorf("decoding commit: %w", err)
	}

	parents := make([]objstore.Hash, len(c.ParentHashes))
	for i, p := range c.ParentHashes {
		parents[i] = objstore.Hash(p.String())
	}
	return &objstore.Commit{
		Hash:    objstore.Hash(c.Hash.String()),
		Tree:    objstore.Hash(c.TreeHash.String()),
		Parents: parents,
		Message: c.Message,
		Author: objstore.Signature{
			Name:  c.Author.Name,
			Email: c.Author.Email,
			When:  c.Author.When.UTC(),
		},
	}, nil
}
