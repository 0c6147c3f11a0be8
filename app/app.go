// Package app wires a configured Manager into a runnable application
// with signal-driven shutdown around the poll loop.
package app

import (
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/evnet-io/evnet/config"
	"github.com/evnet-io/evnet/core"
)

// App is one application instance: a Manager plus its poll loop.
type App struct {
	cfg     *config.Config
	manager *core.Manager
	done    atomic.Bool
}

// New creates an application instance from configuration.
func New(cfg *config.Config) (*App, error) {
	mgr, err := core.NewManager(&core.Options{
		EnableWakeup:     cfg.EnableWakeup,
		RecvCeiling:      cfg.RecvCeiling,
		MaxWSFrame:       cfg.MaxWSFrame,
		MaxMQTTRemaining: cfg.MaxMQTTPacket,
		TLS: &core.TLSOpts{
			CA:   cfg.TLSCA,
			Cert: cfg.TLSCert,
			Key:  cfg.TLSKey,
		},
	})
	if err != nil {
		return nil, err
	}
	return &App{cfg: cfg, manager: mgr}, nil
}

// Manager returns the underlying manager for listener registration.
func (a *App) Manager() *core.Manager { return a.manager }

// Run polls until a termination signal arrives, then closes the
// manager. The short poll timeout bounds shutdown latency.
func (a *App) Run() {
	go a.awaitSignal()

	log.Printf("runtime starting [%s], poll timeout %dms", a.cfg.Env, a.cfg.PollTimeout)

	for !a.done.Load() {
		if err := a.manager.Poll(a.cfg.PollTimeout); err != nil {
			log.Printf("poll: %v", err)
			break
		}
	}
	a.manager.Close()
	log.Printf("runtime stopped")
}

// Stop asks the loop to exit after the current tick.
func (a *App) Stop() { a.done.Store(true) }

func (a *App) awaitSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Printf("signal received: %v, shutting down", sig)
	a.Stop()
}
