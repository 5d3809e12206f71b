package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/novik133/novasearch/internal"
	"github.com/novik133/novasearch/internal/apperr"
	"github.com/novik133/novasearch/internal/paths"
	"github.com/novik133/novasearch/internal/statusfile"
	"github.com/novik133/novasearch/internal/store"
)

const version = "0.2.0"

func main() {
	cmd := &cli.Command{
		Name:  "novasearch",
		Usage: "Filesystem indexing daemon with usage-ranked search",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: paths.ConfigPath(),
				Sources:     cli.EnvVars("NOVASEARCH_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "start",
				Usage:  "Run the indexing daemon in the foreground",
				Action: runStart,
			},
			{
				Name:   "status",
				Usage:  "Report daemon and index status",
				Action: runStatus,
			},
			{
				Name:   "reindex",
				Usage:  "Ask the running daemon for a full re-scan",
				Action: runReindex,
			},
			{
				Name:  "version",
				Usage: "Print version information",
				Action: func(context.Context, *cli.Command) error {
					fmt.Printf("novasearch %s\n", version)
					return nil
				},
			},
			{
				Name:   "about",
				Usage:  "Print project information",
				Action: runAbout,
			},
			{
				Name:   "author",
				Usage:  "Print author information",
				Action: runAuthor,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		var exit cli.ExitCoder
		if errors.As(err, &exit) {
			if msg := err.Error(); msg != "" {
				fmt.Fprintln(os.Stderr, msg)
			}
			os.Exit(exit.ExitCode())
		}
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func runStart(ctx context.Context, cmd *cli.Command) error {
	opts := []internal.Option{}
	if p := cmd.String("config"); p != "" {
		opts = append(opts, internal.WithConfigPath(p))
	}
	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("daemon failed: %w", err)
	}
	return nil
}

// runStatus prints the daemon's last snapshot and the index row count.
// Exit codes: 0 healthy, 1 stopped, 2 degraded.
func runStatus(_ context.Context, _ *cli.Command) error {
	st, ok, err := statusfile.Read(paths.StatusPath())
	if err != nil {
		return cli.Exit(fmt.Sprintf("status unreadable: %v", err), 2)
	}
	if !ok || st.Stale() || st.State == internal.StateStopped {
		fmt.Println("novasearch: stopped")
		return cli.Exit("", 1)
	}

	fmt.Printf("State:         %s\n", st.State)
	fmt.Printf("Indexed files: %d\n", st.FilesIndexed)
	fmt.Printf("Pending ops:   %d\n", st.PendingOps)
	if !st.LastScan.IsZero() {
		fmt.Printf("Last scan:     %s\n", st.LastScan.Format(time.RFC3339))
	}
	fmt.Printf("Roots:\n")
	for _, r := range st.Roots {
		fmt.Printf("  %s\n", r)
	}

	if rs, err := store.OpenReadOnly(paths.IndexPath()); err == nil {
		if n, err := rs.CountFiles(); err == nil {
			fmt.Printf("Index rows:    %d\n", n)
		}
		rs.Close()
	} else if !errors.Is(err, apperr.ErrNotAvailable) {
		fmt.Printf("Index:         unreadable (%v)\n", err)
		return cli.Exit("", 2)
	}

	if st.LastError != "" {
		fmt.Printf("Last error:    %s\n", st.LastError)
		return cli.Exit("", 2)
	}
	return nil
}

// runReindex signals the running daemon through the control file.
func runReindex(_ context.Context, _ *cli.Command) error {
	if err := paths.EnsureDataDir(); err != nil {
		return err
	}
	f, err := os.Create(paths.ReindexRequestPath())
	if err != nil {
		return fmt.Errorf("request re-index: %w", err)
	}
	f.Close()
	fmt.Println("re-index requested")
	return nil
}

func runAbout(context.Context, *cli.Command) error {
	fmt.Println("NovaSearch: fast system-wide file search for Linux.")
	fmt.Println()
	fmt.Println("The daemon keeps a SQLite index of files and desktop")
	fmt.Println("applications in sync with the filesystem and ranks search")
	fmt.Println("results by how often you launch them.")
	fmt.Println()
	fmt.Printf("Version: %s\nLicense: GPL-3.0\n", version)
	fmt.Println("Website: https://github.com/novik133/NovaSearch")
	return nil
}

func runAuthor(context.Context, *cli.Command) error {
	fmt.Println("Created by Kamil 'Novik' Nowicki")
	fmt.Println("GitHub: https://github.com/novik133")
	fmt.Println("License: GPL-3.0")
	return nil
}
