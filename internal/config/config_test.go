package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestFindWorkspace(t *testing.T) {
	root := t.TempDir()
	if err := (&Workspace{Branch: "dev"}).Save(root); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	nested := filepath.Join(root, "src", "popup")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	got, err := FindWorkspace(nested)
	if err != nil {
		t.Fatalf("FindWorkspace() error: %v", err)
	}
	want, _ := filepath.Abs(root)
	if got != want {
		t.Errorf("FindWorkspace() = %q, want %q", got, want)
	}

	if _, err := FindWorkspace(t.TempDir()); !errors.Is(err, ErrNoWorkspace) {
		t.Errorf("FindWorkspace() outside workspace error = %v, want ErrNoWorkspace", err)
	}
}

func TestWorkspace_SaveLoad(t *testing.T) {
	root := t.TempDir()
	ws := &Workspace{Remote: "gh", Branch: "publish", Prefix: "extension/", Exclude: []string{"NOTES.md"}}
	if err := ws.Save(root); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	got, err := Load(root)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !reflect.DeepEqual(got, ws) {
		t.Errorf("Load() = %+v, want %+v", got, ws)
	}
}

func TestLoad_InvalidPrefix(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(WorkspacePath(root), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(ConfigPath(root), []byte(`{"prefix": "../outside"}`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(root); err == nil {
		t.Error("Load() accepted a prefix with ..")
	}
}

func TestLoadOrEmpty(t *testing.T) {
	ws, root, err := LoadOrEmpty(t.TempDir())
	if err != nil || root != "" || !reflect.DeepEqual(ws, &Workspace{}) {
		t.Errorf("LoadOrEmpty() outside workspace = %+v, %q, %v", ws, root, err)
	}
}

func TestJoinPrefix(t *testing.T) {
	tests := []struct {
		prefix, path, want string
	}{
		{"", "a.txt", "a.txt"},
		{"ext", "a.txt", "ext/a.txt"},
		{"ext/", "dir/a.txt", "ext/dir/a.txt"},
	}
	for _, tt := range tests {
		if got := JoinPrefix(tt.prefix, tt.path); got != tt.want {
			t.Errorf("JoinPrefix(%q, %q) = %q, want %q", tt.prefix, tt.path, got, tt.want)
		}
	}
}

func TestResolve(t *testing.T) {
	g := &GlobalConfig{
		DefaultRemote: "origin",
		Remotes: map[string]Remote{
			"origin": {URL: "http://localhost:8420", Branch: "publish"},
			"gh":     {Dialect: DialectGitHub, Repo: "octo/site"},
		},
		Push: PushSettings{Exclude: []string{"CLAUDE.md"}},
	}

	tests := []struct {
		name       string
		ws         *Workspace
		o          Overrides
		wantRemote string
		wantBranch string
		wantPrefix string
		wantErr    bool
	}{
		{name: "defaults", wantRemote: "origin", wantBranch: "publish"},
		{name: "workspace remote", ws: &Workspace{Remote: "gh"}, wantRemote: "gh", wantBranch: "main"},
		{name: "workspace branch over remote", ws: &Workspace{Branch: "dev"}, wantRemote: "origin", wantBranch: "dev"},
		{name: "flags over workspace", ws: &Workspace{Remote: "gh", Branch: "dev", Prefix: "a"}, o: Overrides{Remote: "origin", Branch: "hotfix", Prefix: "b"}, wantRemote: "origin", wantBranch: "hotfix", wantPrefix: "b"},
		{name: "unknown remote", o: Overrides{Remote: "nope"}, wantErr: true},
		{name: "bad prefix", o: Overrides{Prefix: "/abs"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target, err := Resolve(g, tt.ws, tt.o)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Resolve() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if target.RemoteName != tt.wantRemote || target.Branch != tt.wantBranch || target.Prefix != tt.wantPrefix {
				t.Errorf("Resolve() = %s/%s prefix %q, want %s/%s prefix %q",
					target.RemoteName, target.Branch, target.Prefix, tt.wantRemote, tt.wantBranch, tt.wantPrefix)
			}
		})
	}

	target, _ := Resolve(g, &Workspace{Exclude: []string{"*.tmp"}}, Overrides{})
	if want := []string{"CLAUDE.md", "*.tmp"}; !reflect.DeepEqual(target.Exclude, want) {
		t.Errorf("Exclude = %v, want %v", target.Exclude, want)
	}
}
