// Package app contains the top-level orchestration for the relay and client
// roles.
package app

import (
	"context"
	"fmt"
	"net"

	"github.com/pterm/pterm"
	"golang.org/x/sync/errgroup"

	"github.com/1ureka/wavelength/internal/config"
	"github.com/1ureka/wavelength/internal/relay"
	"github.com/1ureka/wavelength/internal/util"
	"github.com/1ureka/wavelength/internal/wavelength"
)

// managerOptions maps the [relay] section onto a Manager.
func managerOptions(cfg *config.Config) relay.Options {
	return relay.Options{
		ListenHost:    cfg.Relay.ListenHost,
		Path:          cfg.Relay.Path,
		GraceDelay:    cfg.GraceDelay(),
		WriteTimeout:  cfg.WriteTimeout(),
		OutboxSize:    cfg.Relay.OutboxSize,
		MaxFrameBytes: cfg.Relay.MaxFrameBytes,
	}
}

// Relay is a running relay listener with its frequency router.
type Relay struct {
	m      *relay.Manager
	router *wavelength.Router
	path   string
}

// StartRelay binds the relay listener on cfg.Relay.Port.
func StartRelay(cfg *config.Config) (*Relay, error) {
	m := relay.NewManager(managerOptions(cfg))
	router := wavelength.NewRouter(m)

	if !m.StartListener(cfg.Relay.Port) {
		m.Close()
		return nil, fmt.Errorf("failed to start relay listener on port %d", cfg.Relay.Port)
	}
	return &Relay{m: m, router: router, path: cfg.Relay.Path}, nil
}

// Addr returns the bound listener address.
func (r *Relay) Addr() net.Addr { return r.m.ListenAddr() }

// Router returns the frequency router.
func (r *Relay) Router() *wavelength.Router { return r.router }

// Serve routes peers until ctx is cancelled, then closes every peer
// gracefully and releases the listener.
func (r *Relay) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// Returns once the Manager closes below.
		return r.router.Run(context.Background())
	})
	g.Go(func() error {
		<-gctx.Done()
		r.m.StopListener()
		r.m.Close()
		return nil
	})

	return g.Wait()
}

// RunRelay starts the relay and blocks until ctx is cancelled.
func RunRelay(ctx context.Context, cfg *config.Config) error {
	r, err := StartRelay(cfg)
	if err != nil {
		return err
	}

	addr := r.Addr().(*net.TCPAddr)
	pterm.DefaultBox.WithTitle("Wavelength Relay").Println(fmt.Sprintf(
		"Port : %d\nPath : %s\nJoin : wavelength connect <host>:%d",
		addr.Port, r.path, addr.Port))
	pterm.Println()

	util.StartStatsReporter(ctx, cfg.StatsInterval())
	util.LogSuccess("relay ready, waiting for peers")

	if err := r.Serve(ctx); err != nil {
		return err
	}
	util.LogInfo("relay stopped")
	return nil
}
