package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Connectivity is the terminal's online/offline signal. Subscribers receive
// transitions asynchronously; a slow subscriber only ever sees the latest
// value. Transitions never cancel calls already in flight.
type Connectivity struct {
	mu     sync.Mutex
	online bool
	subs   []chan bool
}

func NewConnectivity(online bool) *Connectivity {
	return &Connectivity{online: online}
}

func (c *Connectivity) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

// Set records the current state and notifies subscribers when it changed.
func (c *Connectivity) Set(online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.online == online {
		return
	}
	c.online = online
	for _, ch := range c.subs {
		select {
		case ch <- online:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- online
		}
	}
}

func (c *Connectivity) Subscribe() <-chan bool {
	ch := make(chan bool, 1)
	c.mu.Lock()
	c.subs = append(c.subs, ch)
	c.mu.Unlock()
	return ch
}

type HealthChecker interface {
	Health(ctx context.Context) error
}

// Prober polls the backend health endpoint and feeds Connectivity.
type Prober struct {
	checker  HealthChecker
	conn     *Connectivity
	interval time.Duration
	timeout  time.Duration
	log      zerolog.Logger
}

func NewProber(checker HealthChecker, conn *Connectivity, interval time.Duration, timeout time.Duration, logger zerolog.Logger) *Prober {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if timeout <= 0 || timeout > interval {
		timeout = interval
	}
	return &Prober{
		checker:  checker,
		conn:     conn,
		interval: interval,
		timeout:  timeout,
		log:      logger.With().Str("component", "prober").Logger(),
	}
}

// ProbeOnce checks the backend once and returns the resulting state.
func (p *Prober) ProbeOnce(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.checker.Health(ctx)
	online := err == nil
	if was := p.conn.Online(); was != online {
		ev := p.log.Info().Bool("online", online)
		if err != nil {
			ev = ev.Err(err)
		}
		ev.Msg("connectivity changed")
	}
	p.conn.Set(online)
	return online
}

func (p *Prober) Run(ctx context.Context) {
	p.ProbeOnce(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ProbeOnce(ctx)
		}
	}
}
