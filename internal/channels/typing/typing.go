// Package typing runs a keepalive ticker for chat "typing..." indicators.
// Telegram's typing status expires after roughly 5 seconds, so a streaming
// turn that runs longer needs the action resent periodically; this package
// owns that ticker so the channel adapter doesn't have to.
package typing

import (
	"context"
	"log/slog"
	"time"
)

// Options configures one controller. Action is called once immediately and
// then every Interval until the controller is stopped, ctx is done, or a
// ticked call returns an error.
type Options struct {
	Action   func(ctx context.Context) error
	Interval time.Duration
}

// Controller runs Action on a ticker until Stop is called, its context
// ends, or a ticked Action fails, whichever comes first.
type Controller struct {
	opts   Options
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Controller bound to ctx; call Start to begin ticking.
func New(ctx context.Context, opts Options) *Controller {
	if opts.Interval <= 0 {
		opts.Interval = 4 * time.Second
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Controller{opts: opts, ctx: ctx, cancel: cancel, done: make(chan struct{})}
}

// Start fires Action immediately and then on every tick until Stop is
// called, the bound context ends, or a ticked Action returns an error (an
// error from the first, immediate call is only logged).
func (c *Controller) Start() {
	go func() {
		defer close(c.done)
		if err := c.opts.Action(c.ctx); err != nil {
			slog.Debug("typing keepalive action failed", "error", err)
		}
		ticker := time.NewTicker(c.opts.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.ctx.Done():
				return
			case <-ticker.C:
				if err := c.opts.Action(c.ctx); err != nil {
					slog.Debug("typing keepalive action failed", "error", err)
					return
				}
			}
		}
	}()
}

// Stop ends the keepalive loop. Safe to call more than once.
func (c *Controller) Stop() {
	c.cancel()
	<-c.done
}
