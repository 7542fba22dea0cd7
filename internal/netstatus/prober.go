package netstatus

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// Pinger is anything that can check reachability, e.g. *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Prober derives the Signal from periodic pings of the remote store.
type Prober struct {
	*broadcaster
	pinger   Pinger
	interval time.Duration
	timeout  time.Duration
	clock    clockwork.Clock
	log      zerolog.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewProber creates a Prober. It reports offline until the first successful ping.
func NewProber(pinger Pinger, interval time.Duration, clock clockwork.Clock, log zerolog.Logger) *Prober {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Prober{
		broadcaster: newBroadcaster(false),
		pinger:      pinger,
		interval:    interval,
		timeout:     interval / 2,
		clock:       clock,
		log:         log.With().Str("component", "network_prober").Logger(),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Start probes once synchronously, then keeps probing in the background until Stop.
func (p *Prober) Start() {
	p.Probe(context.Background())
	go p.loop()
}

func (p *Prober) loop() {
	defer close(p.done)

	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.Chan():
			p.Probe(context.Background())
		}
	}
}

// Probe pings once and updates the signal.
func (p *Prober) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.pinger.Ping(ctx)
	online := err == nil
	if online != p.Online() {
		if online {
			p.log.Info().Msg("Remote store reachable")
		} else {
			p.log.Warn().Err(err).Msg("Remote store unreachable")
		}
	}
	p.set(online)
	return online
}

// Stop ends background probing. Safe to call more than once.
func (p *Prober) Stop() {
	p.stopOnce.Do(func() {
		close(p.stop)
	})
}
