// Package config handles global and workspace configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/matsen/atomicpush/internal/github"
)

// Remote dialects.
const (
	DialectStore  = "store"
	DialectGitHub = "github"
)

// DefaultTokenEnv is read when a remote sets neither token nor token_env.
const DefaultTokenEnv = "APUSH_TOKEN"

// DefaultBranch is pushed to when nothing else names a branch.
const DefaultBranch = "main"

// GlobalConfig represents configuration stored in ~/.config/apush/config.yml.
type GlobalConfig struct {
	DefaultRemote string            `yaml:"default_remote,omitempty"`
	Remotes       map[string]Remote `yaml:"remotes,omitempty"`
	Push          PushSettings      `yaml:"push,omitempty"`
	Author        Author            `yaml:"author,omitempty"`
}

// Remote is one configured object store.
type Remote struct {
	Dialect  string `yaml:"dialect,omitempty"`
	URL      string `yaml:"url,omitempty"`
	Repo     string `yaml:"repo,omitempty"` // owner/name, github dialect only
	Token    string `yaml:"token,omitempty"`
	TokenEnv string `yaml:"token_env,omitempty"`
	Branch   string `yaml:"branch,omitempty"`
}

// PushSettings tune the push pipeline. Zero values mean "use the default".
type PushSettings struct {
	Workers     int           `yaml:"workers,omitempty" json:"workers,omitempty"`
	MaxAttempts int           `yaml:"max_attempts,omitempty" json:"max_attempts,omitempty"`
	CallTimeout time.Duration `yaml:"call_timeout,omitempty" json:"call_timeout,omitempty"`
	Backoff     time.Duration `yaml:"backoff,omitempty" json:"backoff,omitempty"`
	RateLimit   float64       `yaml:"rate_limit,omitempty" json:"rate_limit,omitempty"`
	Exclude     []string      `yaml:"exclude,omitempty" json:"exclude,omitempty"`
}

// Author signs commits.
type Author struct {
	Name  string `yaml:"name,omitempty" json:"name,omitempty"`
	Email string `yaml:"email,omitempty" json:"email,omitempty"`
}

const (
	// GlobalConfigDir is the directory name under XDG_CONFIG_HOME.
	GlobalConfigDir = "apush"
	// GlobalConfigFile is the config file name.
	GlobalConfigFile = "config.yml"
)

// Errors.
var (
	ErrNoRemote      = errors.New("no remote configured")
	ErrUnknownRemote = errors.New("unknown remote")
	ErrInvalidRemote = errors.New("invalid remote")
)

// globalConfigCache caches the loaded global config.
var globalConfigCache *GlobalConfig

// GlobalConfigPath returns the path to the global config file.
// Respects XDG_CONFIG_HOME, defaults to ~/.config/apush/config.yml.
func GlobalConfigPath() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, GlobalConfigDir, GlobalConfigFile)
}

// LoadGlobalConfig loads the global configuration file.
// Returns an empty config (not an error) if the file doesn't exist.
func LoadGlobalConfig() (*GlobalConfig, error) {
	if globalConfigCache != nil {
		return globalConfigCache, nil
	}

	path := GlobalConfigPath()
	if path == "" {
		return &GlobalConfig{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &GlobalConfig{}, nil
		}
		return nil, fmt.Errorf("reading global config: %w", err)
	}

	var cfg GlobalConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing global config: %w", err)
	}
	for name, r := range cfg.Remotes {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("remote %q: %w", name, err)
		}
	}

	globalConfigCache = &cfg
	return &cfg, nil
}

// ResetGlobalConfigCache clears the cached global config.
// Useful for testing.
func ResetGlobalConfigCache() {
	globalConfigCache = nil
}

// RemoteNames returns the configured remote names, sorted.
func (c *GlobalConfig) RemoteNames() []string {
	names := make([]string, 0, len(c.Remotes))
	for name := range c.Remotes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Remote returns the named remote. An empty name selects default_remote, or
// the only remote if exactly one is configured.
func (c *GlobalConfig) Remote(name string) (string, Remote, error) {
	if name == "" {
		name = c.DefaultRemote
	}
	if name == "" {
		switch len(c.Remotes) {
		case 0:
			return "", Remote{}, ErrNoRemote
		case 1:
			name = c.RemoteNames()[0]
		default:
			return "", Remote{}, fmt.Errorf("%w: several remotes and no default_remote", ErrNoRemote)
		}
	}
	r, ok := c.Remotes[name]
	if !ok {
		return "", Remote{}, fmt.Errorf("%w: %s", ErrUnknownRemote, name)
	}
	return name, r, nil
}

// DialectOrDefault returns the remote's dialect, "store" if unset.
func (r Remote) DialectOrDefault() string {
	if r.Dialect == "" {
		return DialectStore
	}
	return r.Dialect
}

// Validate checks that the remote has what its dialect needs.
func (r Remote) Validate() error {
	switch r.DialectOrDefault() {
	case DialectStore:
		if r.URL == "" {
			return fmt.Errorf("%w: store remote needs a url", ErrInvalidRemote)
		}
	case DialectGitHub:
		if _, _, err := github.ParseGitHubURL(r.Repo); err != nil {
			return fmt.Errorf("%w: github remote needs repo as owner/name: %v", ErrInvalidRemote, err)
		}
	default:
		return fmt.Errorf("%w: unknown dialect %q", ErrInvalidRemote, r.Dialect)
	}
	return nil
}

// ResolveToken returns the remote's bearer token: token if set, otherwise the
// environment variable named by token_env (APUSH_TOKEN by default). GitHub
// remotes also fall back to GITHUB_TOKEN.
func (r Remote) ResolveToken() string {
	if r.Token != "" {
		return r.Token
	}
	env := r.TokenEnv
	if env == "" {
		env = DefaultTokenEnv
	}
	if tok := os.Getenv(env); tok != "" {
		return tok
	}
	if r.DialectOrDefault() == DialectGitHub {
		return os.Getenv("GITHUB_TOKEN")
	}
	return ""
}

// HelpfulConfigMessage returns a helpful message when no remote is configured.
func HelpfulConfigMessage() string {
	configPath := GlobalConfigPath()
	return fmt.Sprintf(`No remote configured.

Tip: Create %s with a remote:
  mkdir -p %s
  cat > %s <<'YAML'
  default_remote: origin
  remotes:
    origin:
      url: http://localhost:8420
      token_env: APUSH_TOKEN
  YAML`,
		configPath,
		filepath.Dir(configPath),
		configPath)
}
