package outbox

import (
	"context"
	"log"
	"sync"
	"time"
)

// Monitor reports connectivity to the API and notifies on transitions.
type Monitor interface {
	Online() bool
	// OnChange registers fn for every online/offline transition and returns
	// a function that unregisters it.
	OnChange(fn func(online bool)) (cancel func())
}

// StaticMonitor is a settable Monitor.
type StaticMonitor struct {
	mu     sync.Mutex
	online bool
	next   int
	subs   map[int]func(bool)
}

// NewStaticMonitor starts in the given state.
func NewStaticMonitor(online bool) *StaticMonitor {
	return &StaticMonitor{online: online, subs: make(map[int]func(bool))}
}

func (m *StaticMonitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

func (m *StaticMonitor) OnChange(fn func(online bool)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.next
	m.next++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// Set changes the state; subscribers run only on an actual transition.
func (m *StaticMonitor) Set(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	fns := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(online)
	}
}

// ProbeMonitor polls a health check and flips state on the result.
type ProbeMonitor struct {
	*StaticMonitor
	probe    func(ctx context.Context) error
	interval time.Duration
	timeout  time.Duration
}

// NewProbeMonitor starts offline until the first Check.
func NewProbeMonitor(probe func(ctx context.Context) error, interval time.Duration) *ProbeMonitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	timeout := interval / 2
	if timeout > 5*time.Second {
		timeout = 5 * time.Second
	}
	return &ProbeMonitor{
		StaticMonitor: NewStaticMonitor(false),
		probe:         probe,
		interval:      interval,
		timeout:       timeout,
	}
}

// Check runs the probe once and records the result.
func (p *ProbeMonitor) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	err := p.probe(ctx)
	online := err == nil
	if was := p.Online(); was != online {
		if online {
			log.Printf("outbox: api reachable")
		} else {
			log.Printf("outbox: api unreachable: %v", err)
		}
	}
	p.Set(online)
	return online
}

// Run checks immediately, then on every interval until ctx is done.
func (p *ProbeMonitor) Run(ctx context.Context) {
	p.Check(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Check(ctx)
		}
	}
}
