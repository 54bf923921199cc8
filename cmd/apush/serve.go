package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/matsen/atomicpush/internal/config"
	"github.com/matsen/atomicpush/internal/objserver"
	"github.com/matsen/atomicpush/internal/objstore"
)

var (
	serveDB         string
	serveAddr       string
	serveToken      string
	serveInitBranch string
)

func init() {
	serveCmd.Flags().StringVar(&serveDB, "db", "apush-store.db", "SQLite database file")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "127.0.0.1:8420", "Address to listen on")
	serveCmd.Flags().StringVar(&serveToken, "token", "", "Bearer token clients must send (default: $"+config.DefaultTokenEnv+")")
	serveCmd.Flags().StringVar(&serveInitBranch, "init-branch", config.DefaultBranch, "Branch to create with an empty root commit if missing (empty to skip)")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reference object store",
	Long: `Run an HTTP object store backed by SQLite.

Objects are stored as Git objects, so hashes match what git would compute.
Refs are updated with compare-and-swap. Without a token, requests are not
authenticated, and store remotes with no token configured connect as is.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	g := mustLoadGlobalConfig()

	token := serveToken
	if token == "" {
		token = os.Getenv(config.DefaultTokenEnv)
	}
	if token == "" {
		fmt.Fprintln(os.Stderr, "warning: serving without authentication")
	}

	db, err := objserver.Open(config.ExpandPath(serveDB))
	if err != nil {
		exitWithError(ExitError, "opening store: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if serveInitBranch != "" {
		author := objstore.Signature{Name: g.Author.Name, Email: g.Author.Email}
		if author.Name == "" {
			author.Name = "apush"
		}
		if _, err := db.InitRef(ctx, serveInitBranch, author); err != nil {
			exitWithError(ExitError, "initializing %s: %v", serveInitBranch, err)
		}
	}

	refs, err := db.ListRefs(ctx)
	if err != nil {
		exitWithError(ExitError, "listing refs: %v", err)
	}
	for _, ref := range refs {
		fmt.Fprintf(os.Stderr, "%s at %s\n", ref.Name, ref.Hash.Short())
	}

	srv := &http.Server{
		Addr:              serveAddr,
		Handler:           objserver.NewHandler(db, objserver.WithToken(token), objserver.WithRequestLog(os.Stderr)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "listening on http://%s\n", serveAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			exitWithError(ExitError, "serving: %v", err)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			exitWithError(ExitError, "shutting down: %v", err)
		}
	}
	return nil
}
