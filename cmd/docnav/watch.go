package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fruitsalade/docnav/internal/metrics"
	"github.com/fruitsalade/docnav/internal/navigator"
	"github.com/fruitsalade/docnav/pkg/client"
	"github.com/fruitsalade/docnav/pkg/protocol"
)

func newWatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [address]",
		Short: "Open an address and follow changes",
		Long: `Watch opens an address and reprints it whenever the tree changes on the
server. A login completed by "docnav login" in another terminal is picked
up without restarting.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := &watcher{app: a, path: pathArg(args), online: true}
			return w.run(cmd.Context())
		},
	}
}

// watcher keeps one live session, replacing it when a login arrives after
// the previous one stopped at the login redirect.
type watcher struct {
	app  *app
	path string

	mu     sync.Mutex
	s      *navigator.Session
	stop   context.CancelFunc
	online bool
}

func (w *watcher) run(ctx context.Context) error {
	log := w.app.log.Named("watch")

	if addr := w.app.cfg.MetricsAddr; addr != "" {
		metricsServer := &http.Server{Addr: addr, Handler: metrics.Handler()}
		go func() {
			log.Info("metrics server listening", zap.String("addr", addr))
			if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
				log.Error("metrics server error", zap.Error(err))
			}
		}()
		defer metricsServer.Close()
	}

	w.open(ctx)

	go func() {
		if err := w.app.creds.WatchSession(ctx, func(artifact string) {
			w.onSession(ctx, artifact)
		}); err != nil {
			log.Warn("credentials watch stopped", zap.Error(err))
		}
	}()

	events, errs := client.NewSSEClient(w.app.api).Subscribe(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			w.setOnline(true)
			if ev.Type != protocol.EventTreeChanged {
				continue
			}
			log.Debug("tree changed", zap.String("node", ev.NodeID), zap.String("action", ev.Action))
			if err := w.current().Refresh(ctx); err != nil {
				log.Warn("refresh failed", zap.Error(err))
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.Debug("event stream error", zap.Error(err))
			w.setOnline(w.app.status(ctx).Online)
		}
	}
}

// open starts a fresh session at the watched address and prints it on every
// change.
func (w *watcher) open(ctx context.Context) {
	s, loc := w.app.session(w.path)
	if err := s.Start(ctx); err != nil {
		w.app.log.Warn("start failed", zap.Error(err))
	}

	subCtx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	if w.stop != nil {
		w.stop()
	}
	w.s, w.stop = s, cancel
	w.mu.Unlock()

	w.print(s, loc)
	ch := s.Subscribe()
	go func() {
		defer s.Unsubscribe(ch)
		for {
			select {
			case <-subCtx.Done():
				return
			case <-ch:
				w.print(s, loc)
			}
		}
	}()
}

func (w *watcher) print(s *navigator.Session, loc *navigator.MemoryLocation) {
	snap := s.Snapshot()
	w.mu.Lock()
	defer w.mu.Unlock()
	if snap.Terminal {
		fmt.Fprintf(w.app.out.w, "login required: %s\n", loc.Assigned())
		return
	}
	fmt.Fprintln(w.app.out.w, "---")
	w.app.out.Snapshot(snap)
}

// setOnline prints a line when the server's reachability changes.
func (w *watcher) setOnline(online bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if online == w.online {
		return
	}
	w.online = online
	state := "offline"
	if online {
		state = "online"
	}
	fmt.Fprintf(w.app.out.w, "server %s: %s\n", state, w.app.api.BaseURL())
}

func (w *watcher) current() *navigator.Session {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.s
}

// onSession reacts to a session artifact written by another process.
func (w *watcher) onSession(ctx context.Context, artifact string) {
	s := w.current()
	if s.Snapshot().Terminal {
		w.open(ctx)
		return
	}
	if err := s.CompleteLogin(ctx, artifact); err != nil {
		w.app.log.Warn("login failed", zap.Error(err))
	}
}
