package github

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/matsen/atomicpush/internal/objserver"
	"github.com/matsen/atomicpush/internal/objstore"
)

// fakeGitHub serves the subset of the Git Data API the client uses, backed by
// the SQLite reference store so hashes are real Git hashes.
type fakeGitHub struct {
	db        *objserver.DB
	truncated bool

	mu       sync.Mutex
	requests []string
	auth     []string
}

func newFakeGitHub(t *testing.T) (*fakeGitHub, *httptest.Server) {
	t.Helper()
	db, err := objserver.Open(filepath.Join(t.TempDir(), "gh.db"))
	if err != nil {
		t.Fatalf("objserver.Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	f := &fakeGitHub{db: db}
	mux := http.NewServeMux()
	const prefix = "/repos/octo/site/git"
	mux.HandleFunc("GET "+prefix+"/ref/{ref...}", f.getRef)
	mux.HandleFunc("PATCH "+prefix+"/refs/{ref...}", f.patchRef)
	mux.HandleFunc("GET "+prefix+"/commits/{sha}", f.getCommit)
	mux.HandleFunc("POST "+prefix+"/commits", f.postCommit)
	mux.HandleFunc("GET "+prefix+"/trees/{sha}", f.getTree)
	mux.HandleFunc("POST "+prefix+"/trees", f.postTree)
	mux.HandleFunc("GET "+prefix+"/blobs/{sha}", f.getBlob)
	mux.HandleFunc("POST "+prefix+"/blobs", f.postBlob)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.requests = append(f.requests, r.Method+" "+strings.TrimPrefix(r.URL.Path, prefix))
		f.auth = append(f.auth, r.Header.Get("Authorization"))
		f.mu.Unlock()
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeGitHub) count(method, pathPrefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.requests {
		if strings.HasPrefix(r, method+" "+pathPrefix) {
			n++
		}
	}
	return n
}

func reply(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func replyErr(w http.ResponseWriter, err error) {
	var pc *objstore.PathConflictError
	switch {
	case errors.As(err, &pc):
		reply(w, http.StatusUnprocessableEntity, errorBody{Message: "GitHub rejected tree: " + pc.Error()})
	case errors.Is(err, objstore.ErrNotFound), errors.Is(err, objstore.ErrRefNotFound):
		reply(w, http.StatusNotFound, errorBody{Message: "Not Found"})
	default:
		reply(w, http.StatusInternalServerError, errorBody{Message: err.Error()})
	}
}

func branch(r *http.Request) string {
	return strings.TrimPrefix(r.PathValue("ref"), "heads/")
}

func (f *fakeGitHub) getRef(w http.ResponseWriter, r *http.Request) {
	hash, err := f.db.ReadRef(r.Context(), branch(r))
	if err != nil {
		replyErr(w, err)
		return
	}
	var resp refResponse
	resp.Ref = "refs/" + r.PathValue("ref")
	resp.Object.SHA = hash
	resp.Object.Type = "commit"
	reply(w, http.StatusOK, resp)
}

func (f *fakeGitHub) patchRef(w http.ResponseWriter, r *http.Request) {
	var req updateRefRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		reply(w, http.StatusBadRequest, errorBody{Message: "Problems parsing JSON"})
		return
	}
	name := branch(r)
	current, err := f.db.ReadRef(r.Context(), name)
	if err != nil {
		replyErr(w, err)
		return
	}
	commit, err := f.db.ReadCommit(r.Context(), req.SHA)
	if err != nil {
		reply(w, http.StatusUnprocessableEntity, errorBody{Message: "Object does not exist"})
		return
	}
	fastForward := false
	for _, p := range commit.Parents {
		if p == current {
			fastForward = true
		}
	}
	if !fastForward && !req.Force {
		reply(w, http.StatusUnprocessableEntity, errorBody{Message: "Update is not a fast forward"})
		return
	}
	if err := f.db.UpdateRef(r.Context(), name, current, req.SHA); err != nil {
		replyErr(w, err)
		return
	}
	var resp refResponse
	resp.Ref = "refs/" + r.PathValue("ref")
	resp.Object.SHA = req.SHA
	reply(w, http.StatusOK, resp)
}

func (f *fakeGitHub) getCommit(w http.ResponseWriter, r *http.Request) {
	c, err := f.db.ReadCommit(r.Context(), objstore.Hash(r.PathValue("sha")))
	if err != nil {
		replyErr(w, err)
		return
	}
	resp := commitObject{
		SHA:     c.Hash,
		Tree:    shaRef{SHA: c.Tree},
		Message: c.Message,
		Author:  signature{Name: c.Author.Name, Email: c.Author.Email, Date: c.Author.When.Format(time.RFC3339)},
	}
	for _, p := range c.Parents {
		resp.Parents = append(resp.Parents, shaRef{SHA: p})
	}
	reply(w, http.StatusOK, resp)
}

func (f *fakeGitHub) postCommit(w http.ResponseWriter, r *http.Request) {
	var req createCommitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		reply(w, http.StatusBadRequest, errorBody{Message: "Problems parsing JSON"})
		return
	}
	when, err := time.Parse(time.RFC3339, req.Author.Date)
	if err != nil {
		reply(w, http.StatusUnprocessableEntity, errorBody{Message: "Invalid author date"})
		return
	}
	hash, err := f.db.CreateCommit(r.Context(), objstore.NewCommit{
		Tree:    req.Tree,
		Parents: req.Parents,
		Message: req.Message,
		Author:  objstore.Signature{Name: req.Author.Name, Email: req.Author.Email, When: when},
	})
	if err != nil {
		replyErr(w, err)
		return
	}
	reply(w, http.StatusCreated, shaResponse{SHA: hash})
}

func (f *fakeGitHub) getTree(w http.ResponseWriter, r *http.Request) {
	hash := objstore.Hash(r.PathValue("sha"))
	entries, err := f.db.ReadTree(r.Context(), hash)
	if err != nil {
		replyErr(w, err)
		return
	}
	resp := treeResponse{SHA: hash, Tree: []treeEntry{}, Truncated: f.truncated}
	for _, e := range entries {
		resp.Tree = append(resp.Tree, treeEntry{Path: e.Path, Mode: e.Mode, Type: e.Type, SHA: e.Hash})
	}
	reply(w, http.StatusOK, resp)
}

func (f *fakeGitHub) postTree(w http.ResponseWriter, r *http.Request) {
	var req createTreeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		reply(w, http.StatusBadRequest, errorBody{Message: "Problems parsing JSON"})
		return
	}
	entries := make([]objstore.TreeEntry, len(req.Tree))
	for i, e := range req.Tree {
		entries[i] = objstore.TreeEntry{Path: e.Path, Mode: e.Mode, Type: e.Type, Hash: e.SHA}
	}
	hash, err := f.db.CreateTree(r.Context(), req.BaseTree, entries)
	if err != nil {
		replyErr(w, err)
		return
	}
	reply(w, http.StatusCreated, shaResponse{SHA: hash})
}

func (f *fakeGitHub) getBlob(w http.ResponseWriter, r *http.Request) {
	content, err := f.db.ReadBlob(r.Context(), objstore.Hash(r.PathValue("sha")))
	if err != nil {
		replyErr(w, err)
		return
	}
	// GitHub wraps base64 content at 60 columns.
	enc := base64.StdEncoding.EncodeToString([]byte(content))
	var lines []string
	for len(enc) > 60 {
		lines = append(lines, enc[:60])
		enc = enc[60:]
	}
	lines = append(lines, enc)
	reply(w, http.StatusOK, blobObject{Content: strings.Join(lines, "\n") + "\n", Encoding: "base64"})
}

func (f *fakeGitHub) postBlob(w http.ResponseWriter, r *http.Request) {
	var req blobObject
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Encoding != "utf-8" {
		reply(w, http.StatusBadRequest, errorBody{Message: "Problems parsing JSON"})
		return
	}
	hash, err := f.db.CreateBlob(r.Context(), req.Content)
	if err != nil {
		replyErr(w, err)
		return
	}
	reply(w, http.StatusCreated, shaResponse{SHA: hash})
}
