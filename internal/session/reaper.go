package session

import (
	"context"
	"time"

	"github.com/sboxrun/sandboxd/internal/blockingpool"
	"github.com/sboxrun/sandboxd/internal/log"
)

// Destroyer tears down everything a reaped session owns: its sandbox
// root and any background processes it left running. It's satisfied by
// internal/sandbox in production and faked in tests.
type Destroyer interface {
	DestroySandbox(root string) error
	KillBackgroundPID(pid int) error
}

// Reaper periodically scans the registry and evicts sessions idle
// longer than TTL, handing destruction of their sandbox root and
// background PIDs to a blocking worker so a reap never stalls the tick
// loop.
type Reaper struct {
	registry *Registry
	destroy  Destroyer
	pool     *blockingpool.Pool
	ttl      time.Duration
	interval time.Duration

	stop chan struct{}
	done chan struct{}
}

// NewReaper constructs a Reaper. Call Run to start its periodic tick.
func NewReaper(registry *Registry, destroy Destroyer, pool *blockingpool.Pool, ttl, interval time.Duration) *Reaper {
	return &Reaper{
		registry: registry,
		destroy:  destroy,
		pool:     pool,
		ttl:      ttl,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run blocks, ticking every interval until Stop is called.
func (r *Reaper) Run(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

// Stop signals Run to return and waits for it to do so.
func (r *Reaper) Stop() {
	close(r.stop)
	<-r.done
}

// tick scans every session once and reaps those idle past the TTL. A
// failure destroying one session's resources is logged and does not
// prevent the others from being reaped.
func (r *Reaper) tick(ctx context.Context) {
	now := time.Now()
	for _, s := range r.registry.Values() {
		if now.Sub(s.LastUsed) <= r.ttl {
			continue
		}
		r.reap(ctx, s)
	}
}

func (r *Reaper) reap(ctx context.Context, s Session) {
	r.registry.Remove(s.ID)

	err := blockingpool.Do(ctx, r.pool, func() error {
		for _, pid := range s.BackgroundPIDs {
			if err := r.destroy.KillBackgroundPID(pid); err != nil {
				log.Warn("reaper: killing background pid failed", "session_id", s.ID, "pid", pid, "err", err)
			}
		}
		return r.destroy.DestroySandbox(s.SandboxRoot)
	})
	if err != nil {
		log.Warn("reaper: destroying sandbox root failed", "session_id", s.ID, "root", s.SandboxRoot, "err", err)
		return
	}
	log.Info("reaper: reaped idle session", "session_id", s.ID)
}
