package server

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/jakobhellermann/wasm-server-runner/internal/watch"
)

// startWatcher reloads every connected page when the serve directory changes.
func (s *Server) startWatcher(ctx context.Context, g *errgroup.Group) error {
	w, err := watch.New(s.opts.Directory, s.opts.Tunables.DebounceDuration, s.logger, func(e watch.Event) {
		pages := s.hub.Broadcast("reload")
		s.logger.Info("reloading pages", "changed", e.Name, "pages", pages)
	})
	if err != nil {
		return err
	}
	g.Go(func() error { return w.Run(ctx) })
	return nil
}
