// docnav browses a remote document hierarchy from the terminal.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fruitsalade/docnav/internal/config"
	"github.com/fruitsalade/docnav/internal/credentials"
	"github.com/fruitsalade/docnav/internal/logging"
	"github.com/fruitsalade/docnav/internal/navigator"
	"github.com/fruitsalade/docnav/pkg/client"
)

// Version is set at build time.
var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// app carries what every command shares.
type app struct {
	cfgFile string
	verbose bool
	jsonOut bool
	cfg     *config.Config
	log     *zap.Logger
	api     *client.Client
	creds   *credentials.Store
	out     *printer
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "docnav",
		Short: "Browse a document tree",
		Long: `docnav browses the document hierarchy served by a docnav server.

Addresses are the path part of a document link, e.g. "/" for the root or
"/Handbook" for the node whose share identifier is "Handbook".`,
		Version:      Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Verbose output (shows debug messages)")
	rootCmd.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "Print the session snapshot as JSON")

	rootCmd.AddCommand(
		newOpenCmd(a),
		newTreeCmd(a),
		newStatusCmd(a),
		newSearchCmd(a),
		newMoveCmd(a),
		newMkdirCmd(a),
		newRenameCmd(a),
		newChmodCmd(a),
		newRmCmd(a),
		newLoginCmd(a),
		newLogoutCmd(a),
		newWatchCmd(a),
	)

	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		logging.Sync()
	}
	return rootCmd
}

func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return err
	}
	if err := cfg.ValidateClient(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	a.cfg = cfg

	level := cfg.LogLevel
	if a.verbose {
		level = "debug"
	} else if level == "info" {
		level = "warn"
	}
	if err := logging.Init(logging.Config{Level: level, Format: "console", OutputPath: "stderr"}); err != nil {
		return errors.Wrap(err, "init logging")
	}
	a.log = logging.L()

	a.api = client.New(client.Config{
		BaseURL:  cfg.APIURL,
		Timeout:  cfg.Timeout,
		RetryMax: cfg.RetryMax,
		Logger:   a.log,
	})
	a.creds = credentials.New(cfg.CredentialsDir, cfg.APIURL, a.log)
	a.out = newPrinter(cmd.OutOrStdout(), a.jsonOut)
	return nil
}

// session builds a session whose address starts at path.
func (a *app) session(path string) (*navigator.Session, *navigator.MemoryLocation) {
	if path == "" {
		path = "/"
	}
	loc := navigator.NewMemoryLocation(path)
	s := navigator.NewSession(navigator.Options{
		Backend:         a.api,
		Credentials:     a.creds,
		Location:        loc,
		LoginURL:        a.cfg.LoginURL,
		AppURL:          a.cfg.AppURL,
		SearchDebounce:  a.cfg.SearchDebounce,
		SearchCacheSize: a.cfg.SearchCacheSize,
		Logger:          a.log,
	})
	return s, loc
}

// start builds and starts a session, failing when the tree did not load or
// the address requires a login.
func (a *app) start(ctx context.Context, path string) (*navigator.Session, error) {
	s, loc := a.session(path)
	if err := s.Start(ctx); err != nil {
		return nil, err
	}
	snap := s.Snapshot()
	if snap.Terminal {
		return nil, errors.Errorf("login required: %s", loc.Assigned())
	}
	if snap.TreeError != "" {
		return nil, errors.New(snap.TreeError)
	}
	return s, nil
}
