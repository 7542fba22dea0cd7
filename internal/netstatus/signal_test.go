package netstatus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

func TestManualNotifiesOnTransitionOnly(t *testing.T) {
	m := NewManual(true)

	var got []bool
	unsubscribe := m.Subscribe(func(v bool) { got = append(got, v) })

	m.Set(true)
	m.Set(false)
	m.Set(false)
	m.Set(true)

	if len(got) != 2 || got[0] != false || got[1] != true {
		t.Fatalf("notifications = %v, want [false true]", got)
	}

	unsubscribe()
	unsubscribe()
	m.Set(false)
	if len(got) != 2 {
		t.Fatalf("notified after unsubscribe: %v", got)
	}
	if m.Online() {
		t.Fatal("Online() should be false")
	}
}

type flakyPinger struct {
	mu  sync.Mutex
	err error
}

func (p *flakyPinger) Ping(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *flakyPinger) set(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

func TestProberFollowsPings(t *testing.T) {
	pinger := &flakyPinger{}
	p := NewProber(pinger, time.Second, clockwork.NewFakeClock(), zerolog.Nop())

	changes := make(chan bool, 4)
	p.Subscribe(func(v bool) { changes <- v })

	if !p.Probe(context.Background()) {
		t.Fatal("first probe should be online")
	}
	pinger.set(errors.New("connection refused"))
	if p.Probe(context.Background()) {
		t.Fatal("second probe should be offline")
	}

	if v := <-changes; !v {
		t.Fatal("first change should be online")
	}
	if v := <-changes; v {
		t.Fatal("second change should be offline")
	}
}

func TestProberStopIsIdempotent(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := NewProber(&flakyPinger{}, time.Second, clock, zerolog.Nop())
	p.Start()
	p.Stop()
	p.Stop()

	select {
	case <-p.done:
	case <-time.After(time.Second):
		t.Fatal("probe loop did not exit")
	}
}
