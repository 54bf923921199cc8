package github

import (
	"fmt"
	"time"

	"github.com/matsen/atomicpush/internal/objstore"
)

type refResponse struct {
	Ref    string `json:"ref"`
	Object struct {
		SHA  objstore.Hash `json:"sha"`
		Type string        `json:"type"`
	} `json:"object"`
}

type shaRef struct {
	SHA objstore.Hash `json:"sha"`
}

type shaResponse struct {
	SHA objstore.Hash `json:"sha"`
}

func (r shaResponse) check() (objstore.Hash, error) {
	if r.SHA.IsZero() {
		return "", fmt.Errorf("%w: missing sha", objstore.ErrInvalidResponse)
	}
	return r.SHA, nil
}

type signature struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Date  string `json:"date"`
}

type commitObject struct {
	SHA     objstore.Hash `json:"sha"`
	Tree    shaRef        `json:"tree"`
	Parents []shaRef      `json:"parents"`
	Message string        `json:"message"`
	Author  signature     `json:"author"`
}

func (c commitObject) toCommit() *objstore.Commit {
	parents := make([]objstore.Hash, len(c.Parents))
	for i, p := range c.Parents {
		parents[i] = p.SHA
	}
	when, _ := time.Parse(time.RFC3339, c.Author.Date)
	return &objstore.Commit{
		Hash:    c.SHA,
		Tree:    c.Tree.SHA,
		Parents: parents,
		Message: c.Message,
		Author:  objstore.Signature{Name: c.Author.Name, Email: c.Author.Email, When: when.UTC()},
	}
}

type treeEntry struct {
	Path string              `json:"path"`
	Mode objstore.Mode       `json:"mode"`
	Type objstore.ObjectType `json:"type"`
	SHA  objstore.Hash       `json:"sha"`
}

type treeResponse struct {
	SHA       objstore.Hash `json:"sha"`
	Tree      []treeEntry   `json:"tree"`
	Truncated bool          `json:"truncated"`
}

type blobObject struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

type createTreeRequest struct {
	BaseTree objstore.Hash `json:"base_tree,omitempty"`
	Tree     []treeEntry   `json:"tree"`
}

type createCommitRequest struct {
	Message   string          `json:"message"`
	Tree      objstore.Hash   `json:"tree"`
	Parents   []objstore.Hash `json:"parents"`
	Author    signature       `json:"author"`
	Committer signature       `json:"committer"`
}

type updateRefRequest struct {
	SHA   objstore.Hash `json:"sha"`
	Force bool          `json:"force"`
}
