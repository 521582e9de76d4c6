package credentials

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// WatchSession calls onSession with the artifact each time a session file
// appears or is rewritten, until ctx is done.
func (s *Store) WatchSession(ctx context.Context, onSession func(artifact string)) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return errors.Wrap(err, "create credentials dir")
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create watcher")
	}
	defer w.Close()

	if err := w.Add(s.dir); err != nil {
		return errors.Wrapf(err, "watch %s", s.dir)
	}
	s.log.Debug("watching credentials", zap.String("dir", s.dir))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != sessionFile {
				continue
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if artifact := s.SessionCookie(); artifact != "" {
				s.log.Info("session artifact detected")
				onSession(artifact)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.log.Warn("credentials watcher error", zap.Error(err))
		}
	}
}
