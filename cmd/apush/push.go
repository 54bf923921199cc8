package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matsen/atomicpush/internal/config"
	"github.com/matsen/atomicpush/internal/objstore"
	"github.com/matsen/atomicpush/internal/push"
)

var (
	pushDir     string
	pushRemote  string
	pushBranch  string
	pushPrefix  string
	pushMessage string
	pushVerbose bool
)

func init() {
	pushCmd.Flags().StringVar(&pushDir, "dir", "", "Directory paths are relative to (default: workspace root or current directory)")
	pushCmd.Flags().StringVar(&pushRemote, "remote", "", "Remote name from the global config")
	pushCmd.Flags().StringVar(&pushBranch, "branch", "", "Branch to push to")
	pushCmd.Flags().StringVar(&pushPrefix, "prefix", "", "Directory in the remote tree to place files under")
	pushCmd.Flags().StringVarP(&pushMessage, "message", "m", "", "Commit message (required)")
	pushCmd.Flags().BoolVarP(&pushVerbose, "verbose", "v", false, "Print each push step to stderr")
	_ = pushCmd.MarkFlagRequired("message")
	rootCmd.AddCommand(pushCmd)
}

var pushCmd = &cobra.Command{
	Use:   "push [files...]",
	Short: "Publish files as one commit",
	Long: `Publish files as one commit on a remote branch.

With no arguments every file under the directory is pushed (.git and .apush are
skipped). Arguments may name files or directories. Paths in the remote tree are
relative to --dir, placed under --prefix.

The push is atomic: if anything fails, including a concurrent change to the
branch, nothing is committed and the branch does not move.

Examples:
  apush push -m "Add extension files"
  apush push manifest.json popup.html -m "Update popup" --branch dev
  apush push --dir build --prefix site -m "Publish site"`,
	RunE: runPush,
}

func runPush(cmd *cobra.Command, args []string) error {
	g := mustLoadGlobalConfig()
	target, wsRoot := mustResolveTarget(g, config.Overrides{Remote: pushRemote, Branch: pushBranch, Prefix: pushPrefix})

	cwd, err := os.Getwd()
	if err != nil {
		exitWithError(ExitError, "getting current directory: %v", err)
	}
	dir, err := filepath.Abs(firstNonEmpty(pushDir, wsRoot, cwd))
	if err != nil {
		exitWithError(ExitError, "resolving --dir: %v", err)
	}

	// Arguments are relative to where the command runs, not to dir.
	for i, arg := range args {
		if !filepath.IsAbs(arg) {
			args[i] = filepath.Join(cwd, arg)
		}
	}

	files, err := collectFiles(dir, args, target.Prefix)
	if err != nil {
		exitWithError(ExitError, "collecting files: %v", err)
	}

	store, err := newStore(target, g.Push)
	if err != nil {
		exitWithError(ExitConfigError, "opening remote %s: %v", target.RemoteName, err)
	}

	pusher, err := newPusher(store, target, g)
	if err != nil {
		exitWithError(ExitConfigError, "%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	message := pushMessage
	if !strings.HasSuffix(message, "\n") {
		message += "\n"
	}
	result, err := pusher.Push(ctx, push.Request{Files: files, Ref: target.Branch, Message: message})
	if err != nil {
		exitWithPushError(err)
	}

	if humanOutput {
		printPushResultHuman(target, result)
	} else {
		outputJSON(PushResponse{Remote: target.RemoteName, Result: result})
	}
	return nil
}

// newPusher configures a Pusher from the global config and target.
func newPusher(store objstore.Store, target *config.Target, g *config.GlobalConfig) (*push.Pusher, error) {
	filter, err := push.NewFilter(target.Exclude...)
	if err != nil {
		return nil, err
	}

	opts := []push.Option{
		push.WithExclude(filter),
		push.WithWorkers(g.Push.Workers),
		push.WithMaxAttempts(g.Push.MaxAttempts),
		push.WithCallTimeout(g.Push.CallTimeout),
		push.WithAuthor(g.Author.Name, g.Author.Email),
	}
	if creds := credentialsFor(target.Remote); creds != nil {
		opts = append(opts, push.WithCredentials(creds))
	}
	if g.Push.Backoff > 0 {
		opts = append(opts, push.WithBackoff(g.Push.Backoff))
	}
	if pushVerbose {
		if patterns := filter.Patterns(); len(patterns) > 0 {
			fmt.Fprintf(os.Stderr, "apush: excluding %s\n", strings.Join(patterns, ", "))
		}
		opts = append(opts, push.WithObserver(func(s push.State) {
			fmt.Fprintf(os.Stderr, "apush: %s\n", s)
		}))
	}
	return push.New(store, opts...), nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// PushResponse is the JSON output of a successful push.
type PushResponse struct {
	Remote string `json:"remote"`
	*push.Result
}

func printPushResultHuman(target *config.Target, r *push.Result) {
	if r.Unchanged {
		outputHuman("%s/%s already up to date at %s\n", target.RemoteName, r.Ref, r.CommitHash.Short())
	} else {
		outputHuman("Pushed %d file(s) to %s/%s\n", len(r.PathsWritten), target.RemoteName, r.Ref)
		outputHuman("  %s -> %s (%d blob(s) uploaded)\n", r.ParentHash.Short(), r.CommitHash.Short(), r.Uploaded)
	}
	for _, p := range r.PathsWritten {
		outputHuman("  %s\n", p)
	}
	if len(r.Excluded) > 0 {
		outputHuman("Excluded: %s\n", strings.Join(r.Excluded, ", "))
	}
}
