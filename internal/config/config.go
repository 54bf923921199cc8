package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/matsen/atomicpush/internal/tree"
)

// Workspace is per-directory configuration stored in .apush/config.json.
type Workspace struct {
	Remote  string   `json:"remote,omitempty"`  // Remote name from the global config
	Branch  string   `json:"branch,omitempty"`  // Branch to push to
	Prefix  string   `json:"prefix,omitempty"`  // Directory in the remote tree files are placed under
	Exclude []string `json:"exclude,omitempty"` // Extra exclusion patterns
}

const (
	WorkspaceDir = ".apush"
	ConfigFile   = "config.json"
)

// ErrNoWorkspace is returned when no .apush directory is found.
var ErrNoWorkspace = errors.New("not in an apush workspace (no .apush directory found)")

// WorkspacePath returns the path to the .apush directory from a root path.
func WorkspacePath(root string) string {
	return filepath.Join(root, WorkspaceDir)
}

// ConfigPath returns the path to config.json from a root path.
func ConfigPath(root string) string {
	return filepath.Join(root, WorkspaceDir, ConfigFile)
}

// IsWorkspace checks if the given path contains an .apush directory.
func IsWorkspace(root string) bool {
	info, err := os.Stat(WorkspacePath(root))
	return err == nil && info.IsDir()
}

// FindWorkspace walks up from the given path to find a workspace.
// Returns the workspace root path or ErrNoWorkspace.
func FindWorkspace(start string) (string, error) {
	abs, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}

	for {
		if IsWorkspace(abs) {
			return abs, nil
		}

		parent := filepath.Dir(abs)
		if parent == abs {
			return "", ErrNoWorkspace
		}
		abs = parent
	}
}

// Load reads the workspace configuration at the given root.
func Load(root string) (*Workspace, error) {
	data, err := os.ReadFile(ConfigPath(root))
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var ws Workspace
	if err := json.Unmarshal(data, &ws); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := ValidatePrefix(ws.Prefix); err != nil {
		return nil, err
	}

	return &ws, nil
}

// LoadOrEmpty finds the workspace above start and loads it. Outside a
// workspace it returns an empty configuration and an empty root.
func LoadOrEmpty(start string) (*Workspace, string, error) {
	root, err := FindWorkspace(start)
	if errors.Is(err, ErrNoWorkspace) {
		return &Workspace{}, "", nil
	}
	if err != nil {
		return nil, "", err
	}
	ws, err := Load(root)
	if err != nil {
		return nil, "", err
	}
	return ws, root, nil
}

// Save writes the workspace configuration at the given root.
func (w *Workspace) Save(root string) error {
	data, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.MkdirAll(WorkspacePath(root), 0755); err != nil {
		return fmt.Errorf("creating %s: %w", WorkspaceDir, err)
	}
	if err := os.WriteFile(ConfigPath(root), data, 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}

// ValidatePrefix checks that a prefix is a valid directory path in the remote
// tree. A trailing slash is allowed.
func ValidatePrefix(prefix string) error {
	if prefix == "" {
		return nil
	}
	if err := tree.ValidatePath(strings.TrimSuffix(prefix, "/")); err != nil {
		return fmt.Errorf("invalid prefix: %w", err)
	}
	return nil
}

// JoinPrefix places a slash-separated path under prefix.
func JoinPrefix(prefix, path string) string {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		return path
	}
	return prefix + "/" + path
}

// ExpandPath expands ~ to the user's home directory.
// Returns the original path unchanged if it doesn't start with ~.
func ExpandPath(path string) string {
	if len(path) == 0 || path[0] != '~' {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path // Return original if we can't get home directory
	}

	return filepath.Join(home, path[1:])
}
