// Package main provides the apush CLI entry point.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/matsen/atomicpush/internal/config"
)

// Version is set at build time via ldflags
var Version = "dev"

// humanOutput controls whether to use human-readable output
var humanOutput bool

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Print the error since we have SilenceErrors: true
		// This ensures Cobra errors (like missing required flags) are visible
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(ExitError)
	}
}

var rootCmd = &cobra.Command{
	Use:   "apush",
	Short: "Publish files to a remote store as one atomic commit",
	Long: `apush publishes a set of text files to a remote Git-compatible object store
as a single commit.

Blobs are uploaded in parallel, a tree is composed on top of the branch tip,
and the branch is moved with a compare-and-swap. Either every file lands in one
commit or the branch is left untouched.

Remotes are configured in ~/.config/apush/config.yml; a workspace can pin a
remote, branch and prefix in .apush/config.json.
All commands output JSON by default for agent integration.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	// Tokens are commonly kept in a .env next to the workspace.
	_ = godotenv.Load()

	rootCmd.PersistentFlags().BoolVar(&humanOutput, "human", false, "Use human-readable output instead of JSON")
	rootCmd.Version = Version
}

// mustLoadGlobalConfig loads the global configuration, exits on error.
func mustLoadGlobalConfig() *config.GlobalConfig {
	cfg, err := config.LoadGlobalConfig()
	if err != nil {
		exitWithError(ExitConfigError, "loading global config: %v", err)
	}
	return cfg
}

// mustLoadWorkspace loads the workspace above the current directory, if any.
func mustLoadWorkspace() (*config.Workspace, string) {
	cwd, err := os.Getwd()
	if err != nil {
		exitWithError(ExitError, "getting current directory: %v", err)
	}
	ws, root, err := config.LoadOrEmpty(cwd)
	if err != nil {
		exitWithError(ExitConfigError, "loading workspace config: %v", err)
	}
	return ws, root
}

// mustResolveTarget resolves where a command operates, exits on error.
// It also returns the workspace root, empty outside a workspace.
func mustResolveTarget(g *config.GlobalConfig, o config.Overrides) (*config.Target, string) {
	ws, root := mustLoadWorkspace()
	target, err := config.Resolve(g, ws, o)
	if err != nil {
		if humanOutput {
			fmt.Fprintln(os.Stderr, config.HelpfulConfigMessage())
		}
		exitWithError(ExitConfigError, "resolving remote: %v", err)
	}
	return target, root
}
