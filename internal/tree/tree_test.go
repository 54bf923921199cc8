package tree

import (
	"errors"
	"reflect"
	"testing"

	"github.com/matsen/atomicpush/internal/objstore"
)

func blob(path, hash string) objstore.TreeEntry {
	return objstore.TreeEntry{Path: path, Mode: objstore.ModeRegular, Type: objstore.TypeBlob, Hash: objstore.Hash(hash)}
}

func dir(path, hash string) objstore.TreeEntry {
	return objstore.TreeEntry{Path: path, Mode: objstore.ModeTree, Type: objstore.TypeTree, Hash: objstore.Hash(hash)}
}

func listing(entries []objstore.TreeEntry) map[string]string {
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		out[e.Path] = string(e.Hash)
	}
	return out
}

func TestCompose_MergeOverridesAndAdds(t *testing.T) {
	base := []objstore.TreeEntry{blob("a", "1"), blob("b", "2")}
	blobs := []objstore.TreeEntry{blob("b", "3"), blob("c", "4")}

	got, err := Compose(base, blobs)
	if err != nil {
		t.Fatalf("Compose() error: %v", err)
	}

	want := map[string]string{"a": "1", "b": "3", "c": "4"}
	if !reflect.DeepEqual(listing(got.Entries), want) {
		t.Errorf("Entries = %v, want %v", listing(got.Entries), want)
	}

	wantChanged := map[string]string{"b": "3", "c": "4"}
	if !reflect.DeepEqual(listing(got.Changed), wantChanged) {
		t.Errorf("Changed = %v, want %v", listing(got.Changed), wantChanged)
	}
}

func TestCompose_OrderIndependent(t *testing.T) {
	base := []objstore.TreeEntry{blob("a", "1"), dir("docs", "d"), blob("docs/x.md", "2"), blob("z", "9")}
	blobs := []objstore.TreeEntry{blob("docs/y.md", "3"), blob("a", "4"), blob("new/file", "5")}

	first, err := Compose(base, blobs)
	if err != nil {
		t.Fatalf("Compose() error: %v", err)
	}

	reversedBase := []objstore.TreeEntry{base[3], base[2], base[1], base[0]}
	reversedBlobs := []objstore.TreeEntry{blobs[2], blobs[1], blobs[0]}
	second, err := Compose(reversedBase, reversedBlobs)
	if err != nil {
		t.Fatalf("Compose() reversed error: %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Errorf("Compose depends on input order:\n%v\n%v", first, second)
	}

	wantPaths := []string{"a", "docs/x.md", "docs/y.md", "new/file", "z"}
	var gotPaths []string
	for _, e := range first.Entries {
		gotPaths = append(gotPaths, e.Path)
	}
	if !reflect.DeepEqual(gotPaths, wantPaths) {
		t.Errorf("entry paths = %v, want %v", gotPaths, wantPaths)
	}
}

func TestCompose_UnchangedBlobNotInChanged(t *testing.T) {
	base := []objstore.TreeEntry{blob("README.md", "1")}
	got, err := Compose(base, []objstore.TreeEntry{blob("README.md", "1")})
	if err != nil {
		t.Fatalf("Compose() error: %v", err)
	}
	if len(got.Changed) != 0 {
		t.Errorf("Changed = %v, want empty", got.Changed)
	}
	if len(got.Entries) != 1 {
		t.Errorf("Entries = %v, want one entry", got.Entries)
	}
}

func TestCompose_DefaultsModeAndType(t *testing.T) {
	got, err := Compose(nil, []objstore.TreeEntry{{Path: "f.txt", Hash: "1"}})
	if err != nil {
		t.Fatalf("Compose() error: %v", err)
	}
	e := got.Entries[0]
	if e.Mode != objstore.ModeRegular || e.Type != objstore.TypeBlob {
		t.Errorf("entry = %+v, want regular blob", e)
	}
}

func TestCompose_PathConflicts(t *testing.T) {
	tests := []struct {
		name     string
		base     []objstore.TreeEntry
		blobs    []objstore.TreeEntry
		wantPath string
	}{
		{
			name:     "blob over directory",
			base:     []objstore.TreeEntry{dir("docs", "d"), blob("docs/guide.md", "1")},
			blobs:    []objstore.TreeEntry{blob("docs", "2")},
			wantPath: "docs",
		},
		{
			name:     "blob over implied directory",
			base:     []objstore.TreeEntry{blob("docs/guide.md", "1")},
			blobs:    []objstore.TreeEntry{blob("docs", "2")},
			wantPath: "docs",
		},
		{
			name:     "blob below a file",
			base:     []objstore.TreeEntry{blob("notes", "1")},
			blobs:    []objstore.TreeEntry{blob("notes/today.md", "2")},
			wantPath: "notes/today.md",
		},
		{
			name:     "new blobs collide with each other",
			blobs:    []objstore.TreeEntry{blob("a", "1"), blob("a/b", "2")},
			wantPath: "a",
		},
		{
			name:     "invalid path",
			blobs:    []objstore.TreeEntry{blob("../escape", "1")},
			wantPath: "../escape",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compose(tt.base, tt.blobs)
			if !errors.Is(err, objstore.ErrPathConflict) {
				t.Fatalf("Compose() error = %v, want ErrPathConflict", err)
			}
			var pc *objstore.PathConflictError
			if !errors.As(err, &pc) {
				t.Fatalf("error %T is not *PathConflictError", err)
			}
			if pc.Path != tt.wantPath {
				t.Errorf("conflict path = %q, want %q", pc.Path, tt.wantPath)
			}
		})
	}
}

func TestValidatePath(t *testing.T) {
	tests := []struct {
		path    string
		wantErr bool
	}{
		{"manifest.json", false},
		{"src/popup/popup.html", false},
		{".github/workflows/ci.yml", false},
		{"", true},
		{"/etc/passwd", true},
		{"dir/", true},
		{"a//b", true},
		{"./a", true},
		{"a/../b", true},
		{"..", true},
		{"a\\b", true},
		{".git/config", true},
		{"sub/.GIT/HEAD", true},
		{"nul\x00byte", true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			err := ValidatePath(tt.path)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePath(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, objstore.ErrPathConflict) {
				t.Errorf("ValidatePath(%q) error = %v, want ErrPathConflict class", tt.path, err)
			}
		})
	}
}
