package objserver

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/matsen/atomicpush/internal/objstore"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 32 << 20

// HandlerOption configures the HTTP handler.
type HandlerOption func(*handler)

// WithToken requires every request to carry "Authorization: Bearer <token>".
func WithToken(token string) HandlerOption {
	return func(h *handler) {
		h.token = token
	}
}

// WithRequestLog writes one line per request to w.
func WithRequestLog(w io.Writer) HandlerOption {
	return func(h *handler) {
		h.logOut = w
	}
}

type handler struct {
	store  objstore.Store
	token  string
	logOut io.Writer
}

// NewHandler exposes store over the object-store HTTP protocol.
func NewHandler(store objstore.Store, opts ...HandlerOption) http.Handler {
	h := &handler{store: store}
	for _, opt := range opts {
		opt(h)
	}

	r := chi.NewRouter()
	if h.logOut != nil {
		r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
			Logger:  log.New(h.logOut, "", log.LstdFlags),
			NoColor: true,
		}))
	}
	r.Use(middleware.Recoverer)
	r.Use(h.authenticate)

	r.Get("/refs/*", h.getRef)
	r.Patch("/refs/*", h.updateRef)
	r.Get("/commits/{hash}", h.getCommit)
	r.Post("/commits", h.createCommit)
	r.Get("/trees/{hash}", h.getTree)
	r.Post("/trees", h.createTree)
	r.Get("/blobs/{hash}", h.getBlob)
	r.Post("/blobs", h.createBlob)

	return r
}

func (h *handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.token != "" {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) != 1 {
				writeError(w, http.StatusUnauthorized, objstore.ErrorBody{
					Error: "invalid or expired token",
					Code:  objstore.CodeUnauthorized,
				})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, body objstore.ErrorBody) {
	writeJSON(w, status, body)
}

// writeStoreError maps a store error onto the protocol's status codes.
func writeStoreError(w http.ResponseWriter, err error) {
	var pc *objstore.PathConflictError
	switch {
	case errors.As(err, &pc):
		writeError(w, http.StatusUnprocessableEntity, objstore.ErrorBody{
			Error: pc.Reason,
			Code:  objstore.CodePathConflict,
			Path:  pc.Path,
		})
	case errors.Is(err, objstore.ErrRefNotFound):
		writeError(w, http.StatusNotFound, objstore.ErrorBody{Error: err.Error(), Code: objstore.CodeRefNotFound})
	case errors.Is(err, objstore.ErrNotFound):
		writeError(w, http.StatusNotFound, objstore.ErrorBody{Error: err.Error(), Code: objstore.CodeNotFound})
	case errors.Is(err, objstore.ErrConflict):
		writeError(w, http.StatusConflict, objstore.ErrorBody{Error: err.Error(), Code: objstore.CodeConflict})
	default:
		writeError(w, http.StatusInternalServerError, objstore.ErrorBody{Error: err.Error(), Code: objstore.CodeInternal})
	}
}

// decode reads a JSON request body into v, writing a 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, objstore.ErrorBody{Error: "invalid request body: " + err.Error(), Code: objstore.CodeBadRequest})
		return false
	}
	return true
}

func refName(r *http.Request) string {
	name := chi.URLParam(r, "*")
	if unescaped, err := url.PathUnescape(name); err == nil {
		return unescaped
	}
	return name
}

func (h *handler) getRef(w http.ResponseWriter, r *http.Request) {
	name := refName(r)
	hash, err := h.store.ReadRef(r.Context(), name)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, objstore.Ref{Name: name, Hash: hash})
}

func (h *handler) updateRef(w http.ResponseWriter, r *http.Request) {
	var req objstore.UpdateRefRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ExpectedOld.IsZero() || req.New.IsZero() {
		writeError(w, http.StatusBadRequest, objstore.ErrorBody{Error: "expected_old_hash and new_hash are required", Code: objstore.CodeBadRequest})
		return
	}

	name := refName(r)
	if err := h.store.UpdateRef(r.Context(), name, req.ExpectedOld, req.New); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, objstore.Ref{Name: name, Hash: req.New})
}

func (h *handler) getCommit(w http.ResponseWriter, r *http.Request) {
	commit, err := h.store.ReadCommit(r.Context(), objstore.Hash(chi.URLParam(r, "hash")))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, commit)
}

func (h *handler) createCommit(w http.ResponseWriter, r *http.Request) {
	var req objstore.NewCommit
	if !decode(w, r, &req) {
		return
	}
	if req.Tree.IsZero() {
		writeError(w, http.StatusBadRequest, objstore.ErrorBody{Error: "tree_hash is required", Code: objstore.CodeBadRequest})
		return
	}
	hash, err := h.store.CreateCommit(r.Context(), req)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, objstore.HashResponse{Hash: hash})
}

func (h *handler) getTree(w http.ResponseWriter, r *http.Request) {
	hash := objstore.Hash(chi.URLParam(r, "hash"))
	entries, err := h.store.ReadTree(r.Context(), hash)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if entries == nil {
		entries = []objstore.TreeEntry{}
	}
	writeJSON(w, http.StatusOK, objstore.TreeResponse{Hash: hash, Entries: entries})
}

func (h *handler) createTree(w http.ResponseWriter, r *http.Request) {
	var req objstore.CreateTreeRequest
	if !decode(w, r, &req) {
		return
	}
	hash, err := h.store.CreateTree(r.Context(), req.BaseTree, req.Entries)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, objstore.HashResponse{Hash: hash})
}

func (h *handler) getBlob(w http.ResponseWriter, r *http.Request) {
	hash := objstore.Hash(chi.URLParam(r, "hash"))
	content, err := h.store.ReadBlob(r.Context(), hash)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, objstore.BlobBody{Hash: hash, Content: content})
}

func (h *handler) createBlob(w http.ResponseWriter, r *http.Request) {
	var req objstore.BlobBody
	if !decode(w, r, &req) {
		return
	}
	hash, err := h.store.CreateBlob(r.Context(), req.Content)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, objstore.HashResponse{Hash: hash})
}
