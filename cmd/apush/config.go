package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/matsen/atomicpush/internal/config"
	"github.com/matsen/atomicpush/internal/github"
)

func init() {
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show configuration",
	Long: `Show configuration.

Usage:
  apush config path   # Print config file locations
  apush config show   # Print the effective configuration (tokens redacted)`,
}

// ConfigPathResponse is the JSON output of config path.
type ConfigPathResponse struct {
	Global    string `json:"global"`
	Workspace string `json:"workspace,omitempty"`
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print config file locations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, root := mustLoadWorkspace()
		resp := ConfigPathResponse{Global: config.GlobalConfigPath()}
		if root != "" {
			resp.Workspace = config.ConfigPath(root)
		}
		if humanOutput {
			outputHuman("global:    %s\n", resp.Global)
			if resp.Workspace != "" {
				outputHuman("workspace: %s\n", resp.Workspace)
			}
			return nil
		}
		return outputJSON(resp)
	},
}

// RemoteView is a remote as shown by config show.
type RemoteView struct {
	Name     string `json:"name"`
	Dialect  string `json:"dialect"`
	URL      string `json:"url,omitempty"`
	Repo     string `json:"repo,omitempty"`
	Branch   string `json:"branch,omitempty"`
	HasToken bool   `json:"has_token"`
}

// ConfigShowResponse is the JSON output of config show.
type ConfigShowResponse struct {
	DefaultRemote string              `json:"default_remote,omitempty"`
	Remotes       []RemoteView        `json:"remotes"`
	Push          config.PushSettings `json:"push"`
	Author        config.Author       `json:"author"`
	Workspace     *config.Workspace   `json:"workspace,omitempty"`
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		g := mustLoadGlobalConfig()
		ws, root := mustLoadWorkspace()

		resp := ConfigShowResponse{
			DefaultRemote: g.DefaultRemote,
			Remotes:       []RemoteView{},
			Push:          g.Push,
			Author:        g.Author,
		}
		if root != "" {
			resp.Workspace = ws
		}
		for _, name := range g.RemoteNames() {
			resp.Remotes = append(resp.Remotes, remoteView(name, g.Remotes[name]))
		}

		if humanOutput {
			printConfigHuman(resp)
			return nil
		}
		return outputJSON(resp)
	},
}

// remoteView redacts a remote for display. GitHub repos are shown as their
// canonical https URL.
func remoteView(name string, r config.Remote) RemoteView {
	v := RemoteView{
		Name:     name,
		Dialect:  r.DialectOrDefault(),
		URL:      r.URL,
		Repo:     r.Repo,
		Branch:   r.Branch,
		HasToken: r.ResolveToken() != "",
	}
	if v.Dialect == config.DialectGitHub {
		if u, err := github.NormalizeGitHubURL(r.Repo); err == nil {
			v.Repo = u
		}
	}
	return v
}

func printConfigHuman(c ConfigShowResponse) {
	if len(c.Remotes) == 0 {
		fmt.Fprintln(os.Stderr, config.HelpfulConfigMessage())
	}
	for _, r := range c.Remotes {
		marker := " "
		if r.Name == c.DefaultRemote {
			marker = "*"
		}
		where := r.URL
		if r.Dialect == config.DialectGitHub {
			where = r.Repo
		}
		token := "no token"
		if r.HasToken {
			token = "token set"
		}
		outputHuman("%s %-10s %-7s %s (%s)\n", marker, r.Name, r.Dialect, where, token)
	}
	outputHuman("workers: %d  max_attempts: %d  call_timeout: %s  backoff: %s\n",
		c.Push.Workers, c.Push.MaxAttempts, c.Push.CallTimeout, c.Push.Backoff)
	if c.Workspace != nil {
		outputHuman("workspace: remote=%q branch=%q prefix=%q\n", c.Workspace.Remote, c.Workspace.Branch, c.Workspace.Prefix)
	}
}
