package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/matsen/atomicpush/internal/config"
	"github.com/matsen/atomicpush/internal/objstore"
)

var (
	readRemote string
	readBranch string
)

func init() {
	for _, c := range []*cobra.Command{catCmd, lsCmd} {
		c.Flags().StringVar(&readRemote, "remote", "", "Remote name from the global config")
		c.Flags().StringVar(&readBranch, "branch", "", "Branch to read")
		rootCmd.AddCommand(c)
	}
}

var catCmd = &cobra.Command{
	Use:   "cat <path>",
	Short: "Print a file at the branch tip",
	Args:  cobra.ExactArgs(1),
	RunE:  runCat,
}

// CatResponse is the JSON output of cat.
type CatResponse struct {
	Ref     string        `json:"ref"`
	Commit  objstore.Hash `json:"commit"`
	Path    string        `json:"path"`
	Hash    objstore.Hash `json:"hash"`
	Content string        `json:"content"`
}

func runCat(cmd *cobra.Command, args []string) error {
	target, store := mustOpenStore(config.Overrides{Remote: readRemote, Branch: readBranch})
	ctx := context.Background()

	tip, entries, err := readTip(ctx, store, target.Branch)
	if err != nil {
		exitWithPushError(err)
	}

	path := args[0]
	for _, e := range entries {
		if e.Path != path {
			continue
		}
		if e.IsDir() {
			exitWithError(ExitError, "%s is a directory", path)
		}
		content, err := store.ReadBlob(ctx, e.Hash)
		if err != nil {
			exitWithPushError(err)
		}
		if humanOutput {
			fmt.Print(content)
		} else {
			outputJSON(CatResponse{Ref: target.Branch, Commit: tip, Path: path, Hash: e.Hash, Content: content})
		}
		return nil
	}

	exitWithError(ExitError, "%s not found at %s (%s)", path, target.Branch, tip.Short())
	return nil
}

// readTip returns the commit a branch points at and its recursive listing.
func readTip(ctx context.Context, store objstore.Store, branch string) (objstore.Hash, []objstore.TreeEntry, error) {
	tip, err := store.ReadRef(ctx, branch)
	if err != nil {
		return "", nil, err
	}
	commit, err := store.ReadCommit(ctx, tip)
	if err != nil {
		return "", nil, err
	}
	entries, err := store.ReadTree(ctx, commit.Tree)
	if err != nil {
		return "", nil, err
	}
	return tip, entries, nil
}

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List the files at the branch tip",
	Args:  cobra.NoArgs,
	RunE:  runLs,
}

// LsResponse is the JSON output of ls.
type LsResponse struct {
	Ref     string               `json:"ref"`
	Commit  objstore.Hash        `json:"commit"`
	Entries []objstore.TreeEntry `json:"entries"`
}

func runLs(cmd *cobra.Command, args []string) error {
	target, store := mustOpenStore(config.Overrides{Remote: readRemote, Branch: readBranch})

	tip, entries, err := readTip(context.Background(), store, target.Branch)
	if err != nil {
		exitWithPushError(err)
	}

	if humanOutput {
		fmt.Fprintf(os.Stderr, "%s at %s\n", target.Branch, tip.Short())
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			outputHuman("%s %s  %s\n", e.Mode, e.Hash.Short(), e.Path)
		}
		return nil
	}

	if entries == nil {
		entries = []objstore.TreeEntry{}
	}
	outputJSON(LsResponse{Ref: target.Branch, Commit: tip, Entries: entries})
	return nil
}
