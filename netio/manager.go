// File: netio/manager.go
// Package netio
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Manager is the process-wide owner of the worker set: an immutable
// Config plus a set of subsystems (workers, metrics, debug probes,
// config store) assembled once in New and torn down via
// Closedown/Destroy.

package netio

import (
	"math/rand"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Manager owns the worker pool, shared config/metrics/debug surfaces, and
// shutdown state for a running network manager instance.
type Manager struct {
	cfg     *Config
	workers []*Worker

	nextID    atomic.Uint64
	closing   atomic.Bool
	stopSpins atomic.Int32

	metrics     *metricsRegistry
	debug       *debugProbes
	config2     *configStore
	acceptFails atomic.Int64

	// socketsMu guards sockets, the registry of every live socket this
	// manager owns. Closedown/Destroy walk it to drive shutdown across
	// every socket instead of relying solely on the accept loop noticing
	// Closing() on its next iteration.
	socketsMu sync.Mutex
	sockets   map[uint64]*Socket

	log *logrus.Entry

	wg sync.WaitGroup
}

// NewManager constructs a Manager and starts its worker pool. cfg may be
// nil to select DefaultConfig().
func NewManager(cfg *Config) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	n := cfg.NWorkers
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
		if n < 1 {
			n = 1
		}
	}

	m := &Manager{
		cfg:     cfg,
		metrics: newMetricsRegistry(),
		debug:   newDebugProbes(),
		config2: newConfigStore(),
		sockets: make(map[uint64]*Socket),
		log:     logrus.WithField("component", "netio"),
	}

	m.workers = make([]*Worker, n)
	for i := range m.workers {
		m.workers[i] = newWorker(i, cfg, m.log)
		m.workers[i].start()
	}

	m.debug.register("netio.workers", func() any { return len(m.workers) })
	m.log.WithField("workers", n).Info("network manager started")
	return m
}

// Config returns the immutable configuration this manager was built with.
func (m *Manager) Config() *Config { return m.cfg }

// NWorkers reports the worker-pool size.
func (m *Manager) NWorkers() int { return len(m.workers) }

// Closedown initiates shutdown of all sockets: every currently registered
// socket is driven through Shutdown, failing its outstanding accept/read
// with ErrCanceled and closing it. Closedown flips Closing() first so the
// accept loop also refuses newly-accepted connections that race with
// this pass, then returns without waiting for worker loops to drain —
// call Destroy for full teardown.
func (m *Manager) Closedown() {
	if !m.closing.CompareAndSwap(false, true) {
		return
	}
	m.log.Info("network manager closing down")
	for _, s := range m.snapshotSockets() {
		s.Shutdown()
	}
}

// Closing reports whether Closedown has been called.
func (m *Manager) Closing() bool { return m.closing.Load() }

// Destroy finalizes the manager: Closedown drives shutdown across every
// socket, a bounded grace window lets goroutines that were blocked in a
// transport-layer read/accept (now unblocked by Shutdown's forced close)
// enqueue their completion on a still-running worker, and only then are
// the worker event loops stopped. Stopping workers before sockets are
// shut down would strand any such goroutine forever waiting on a
// completion that its worker will never run again.
func (m *Manager) Destroy() {
	m.Closedown()
	for _, s := range m.snapshotSockets() {
		s.Shutdown()
	}
	m.drainShutdown()
	for _, w := range m.workers {
		w.stop()
	}
	m.log.Info("network manager destroyed")
}

// drainShutdown gives goroutines released by Shutdown's forced resource
// close a bounded window to run their worker-marshaled completion before
// Destroy stops the pool, polling the socket registry (most sockets
// destroy synchronously within Shutdown itself) with a fixed floor for
// the ones that don't.
func (m *Manager) drainShutdown() {
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if len(m.snapshotSockets()) == 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
}

func (m *Manager) registerSocket(s *Socket) {
	m.socketsMu.Lock()
	m.sockets[s.id] = s
	m.socketsMu.Unlock()
}

func (m *Manager) unregisterSocket(s *Socket) {
	m.socketsMu.Lock()
	delete(m.sockets, s.id)
	m.socketsMu.Unlock()
}

func (m *Manager) snapshotSockets() []*Socket {
	m.socketsMu.Lock()
	defer m.socketsMu.Unlock()
	out := make([]*Socket, 0, len(m.sockets))
	for _, s := range m.sockets {
		out = append(out, s)
	}
	return out
}

func (m *Manager) nextSocketID() uint64 { return m.nextID.Add(1) }

// pickWorker chooses a worker by uniform random draw over [0, nworkers),
// used for client-initiated connections and accepted TCP children.
func (m *Manager) pickWorker() *Worker {
	return m.workers[rand.Intn(len(m.workers))]
}

// pickWorkerExcept draws uniformly from workers other than exclude when
// more than one worker exists, so accepted children spread away from
// their listener's worker.
func (m *Manager) pickWorkerExcept(exclude *Worker) *Worker {
	if len(m.workers) <= 1 {
		return m.workers[0]
	}
	for {
		w := m.pickWorker()
		if w != exclude {
			return w
		}
	}
}

func (m *Manager) worker(idx int) *Worker { return m.workers[idx%len(m.workers)] }

// PickWorker exports pickWorker for transport packages assigning a
// listener or an outbound connect to a worker.
func (m *Manager) PickWorker() *Worker { return m.pickWorker() }

// PickWorkerExcept exports pickWorkerExcept, used when spreading an
// accepted child socket away from its listener's worker.
func (m *Manager) PickWorkerExcept(exclude *Worker) *Worker { return m.pickWorkerExcept(exclude) }

// Worker returns the worker at idx, modulo the pool size.
func (m *Manager) Worker(idx int) *Worker { return m.worker(idx) }

// NewSocket constructs a socket pinned to w and owned by this manager.
// newSocket itself bumps w's live socket count, surfaced via Stats.
func (m *Manager) NewSocket(w *Worker, kind Kind) *Socket {
	return newSocket(m, w, kind)
}

// RecordAcceptFailure exports recordAcceptFailure for transport/tcp's
// listener accept loop.
func (m *Manager) RecordAcceptFailure() { m.recordAcceptFailure() }

// NextSocketID exports nextSocketID for callers outside this file that
// need to pre-allocate an id (none currently do; newSocket calls it
// directly, this exists for transport-layer debug logging).
func (m *Manager) NextSocketID() uint64 { return m.nextSocketID() }

// recordAcceptFailure increments the accept-fail counter used by the
// quota-exhaustion accounting in transport/tcp's accept loop.
func (m *Manager) recordAcceptFailure() {
	n := m.acceptFails.Add(1)
	m.metrics.set("accept_failures", n)
}

// RecordStopSpin increments the listener-stop interlock's retry counter,
// surfaced via Stats.
func (m *Manager) RecordStopSpin() {
	n := m.stopSpins.Add(1)
	m.metrics.set("stop_spins", n)
}
