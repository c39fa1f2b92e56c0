// Package metrics tracks lightweight in-process traffic counters for
// Kestrel and drives the periodic housekeeping (idle transport eviction,
// stats logging) that a long-running proxy needs. Grounded on the
// teacher's internal/metrics/manager.go, trimmed from its multi-node
// bucket/realtime-ring machinery down to what a single-upstream-per-request
// forward proxy actually needs to report.
package metrics

import (
	"log"
	"sync/atomic"

	"github.com/robfig/cron/v3"
)

// Evictor is implemented by the upstream transport pool; it is invoked
// periodically to close idle upstream connections.
type Evictor interface {
	CloseIdle()
}

// Counters holds the atomic traffic/request counters Manager maintains.
type Counters struct {
	ForwardRequests atomic.Int64
	ConnectTunnels  atomic.Int64
	Failures        atomic.Int64
	IngressBytes    atomic.Int64
	EgressBytes     atomic.Int64
}

// Manager owns the cron scheduler that drives periodic stats logging and
// idle-transport eviction.
type Manager struct {
	Counters *Counters

	evictor  Evictor
	cron     *cron.Cron
	interval string
}

// NewManager builds a Manager. evictor may be nil (no periodic eviction).
// interval is a standard cron expression; "" defaults to every 5 minutes.
func NewManager(evictor Evictor, interval string) *Manager {
	if interval == "" {
		interval = "*/5 * * * *"
	}
	return &Manager{
		Counters: &Counters{},
		evictor:  evictor,
		cron:     cron.New(),
		interval: interval,
	}
}

// Start schedules the periodic job and begins running it.
func (m *Manager) Start() error {
	_, err := m.cron.AddFunc(m.interval, m.tick)
	if err != nil {
		return err
	}
	m.cron.Start()
	return nil
}

// Stop waits for any in-flight tick to finish, then stops the scheduler.
func (m *Manager) Stop() {
	<-m.cron.Stop().Done()
}

func (m *Manager) tick() {
	if m.evictor != nil {
		m.evictor.CloseIdle()
	}
	log.Printf(
		"kestrel: forward=%d connect=%d failures=%d ingress=%dB egress=%dB",
		m.Counters.ForwardRequests.Load(),
		m.Counters.ConnectTunnels.Load(),
		m.Counters.Failures.Load(),
		m.Counters.IngressBytes.Load(),
		m.Counters.EgressBytes.Load(),
	)
}

// RecordRequest folds one RequestFinishedEvent-shaped outcome into the
// counters. Kept decoupled from internal/proxy's event type to avoid an
// import cycle; cmd/kestrel adapts between the two.
func (m *Manager) RecordRequest(isConnect, netOK bool) {
	if isConnect {
		m.Counters.ConnectTunnels.Add(1)
	} else {
		m.Counters.ForwardRequests.Add(1)
	}
	if !netOK {
		m.Counters.Failures.Add(1)
	}
}

