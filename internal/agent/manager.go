package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sloppy/orangesage/internal/db"
	"github.com/sloppy/orangesage/internal/phase"
	"github.com/sloppy/orangesage/internal/sandbox"
)

// Store is the persistence the manager needs. *db.DB satisfies it.
type Store interface {
	CreateAgent(a db.Agent) (db.Agent, error)
	GetAgent(id string) (db.Agent, bool, error)
	MarkAgentRunning(id string, at time.Time) (bool, error)
	SetAgentSandbox(id, sandboxID string) error
	SetAgentIteration(id string, iteration int) error
	CompleteAgent(id string, result []byte, at time.Time) (bool, error)
	FailAgent(id, message string, at time.Time) (bool, error)
	CancelAgent(id string, at time.Time) (bool, error)
	CancelActiveAgents(scanID int64, at time.Time) (int64, error)
}

// LLMConfig is the per-agent model selection stored with the record.
type LLMConfig struct {
	Model string `json:"model,omitempty"`
}

// Spec describes an agent to create.
type Spec struct {
	ScanID        int64
	ParentID      string
	Name          string
	Type          string
	Task          string
	Model         string
	MaxIterations int
}

type activeAgent struct {
	scanID    int64
	cancel    context.CancelFunc
	cancelled bool
}

// Manager owns agent records from creation to a terminal state. Executions
// run on the caller's goroutine; the manager tracks them so they can be
// cancelled individually or per scan.
type Manager struct {
	store    Store
	sandbox  sandbox.Provider
	registry *Registry
	logger   *slog.Logger
	now      func() time.Time
	gauge    prometheus.Gauge

	mu     sync.Mutex
	active map[string]*activeAgent
}

// Option configures a Manager.
type Option func(*Manager)

func WithLogger(l *slog.Logger) Option { return func(m *Manager) { m.logger = orDefault(l) } }

func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// WithActiveGauge tracks the number of running agents in g.
func WithActiveGauge(g prometheus.Gauge) Option { return func(m *Manager) { m.gauge = g } }

func NewManager(store Store, provider sandbox.Provider, registry *Registry, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		sandbox:  provider,
		registry: registry,
		logger:   slog.Default(),
		now:      time.Now,
		active:   make(map[string]*activeAgent),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Spawn validates the agent type and creates a pending record.
func (m *Manager) Spawn(spec Spec) (db.Agent, error) {
	if _, err := m.registry.Lookup(spec.Type); err != nil {
		return db.Agent{}, err
	}
	llmConfig, err := json.Marshal(LLMConfig{Model: spec.Model})
	if err != nil {
		return db.Agent{}, fmt.Errorf("encode llm config: %w", err)
	}
	name := spec.Name
	if name == "" {
		name = spec.Type + " agent"
	}
	return m.store.CreateAgent(db.Agent{
		ID:            uuid.NewString(),
		ScanID:        spec.ScanID,
		ParentAgentID: spec.ParentID,
		Name:          name,
		AgentType:     spec.Type,
		Task:          spec.Task,
		LLMConfig:     llmConfig,
		MaxIterations: spec.MaxIterations,
	})
}

// Execute runs a pending agent against target to a terminal state and
// returns its result. Findings are returned, not stored; the caller merges
// them. A result for an agent cancelled before or during its run carries
// ErrAgentCancelled.
func (m *Manager) Execute(ctx context.Context, a db.Agent, target db.Target) phase.Result {
	log := m.logger.With("agent_id", a.ID, "scan_id", a.ScanID, "agent_type", a.AgentType)

	exec, err := m.registry.Lookup(a.AgentType)
	if err != nil {
		m.fail(a.ID, err, log)
		return phase.Failed(err)
	}
	switch err := ctx.Err(); {
	case errors.Is(err, context.Canceled):
		return m.cancelled(a.ID, log)
	case err != nil:
		m.fail(a.ID, err, log)
		return phase.Failed(err)
	}
	ok, err := m.store.MarkAgentRunning(a.ID, m.now())
	if err != nil {
		err = fmt.Errorf("start agent %s: %w", a.ID, err)
		m.fail(a.ID, err, log)
		return phase.Failed(err)
	}
	if !ok {
		// A pending agent that cannot start belongs to a scan that stopped.
		cur, found, err := m.store.GetAgent(a.ID)
		if err == nil && found && cur.Status == db.AgentPending {
			return m.cancelled(a.ID, log)
		}
		return phase.Failed(fmt.Errorf("%w: %s", ErrNotPending, a.ID))
	}

	runCtx, cancel := context.WithCancel(ctx)
	entry := m.register(a.ID, a.ScanID, cancel)
	defer m.deregister(a.ID)
	defer cancel()

	handle, err := m.sandbox.Acquire(runCtx, a.ID)
	if err != nil {
		if m.wasCancelled(entry) || errors.Is(ctx.Err(), context.Canceled) {
			return m.cancelled(a.ID, log)
		}
		err = fmt.Errorf("acquire sandbox: %w", err)
		m.fail(a.ID, err, log)
		return phase.Failed(err)
	}
	defer func() {
		if err := m.sandbox.Release(context.WithoutCancel(ctx), handle); err != nil {
			log.Warn("release sandbox", "sandbox_id", handle.ID, "error", err)
		}
	}()
	if err := m.store.SetAgentSandbox(a.ID, handle.ID); err != nil {
		log.Warn("attach sandbox", "sandbox_id", handle.ID, "error", err)
	}

	var cfg LLMConfig
	if len(a.LLMConfig) > 0 {
		if err := json.Unmarshal(a.LLMConfig, &cfg); err != nil {
			log.Warn("decode llm config", "error", err)
		}
	}

	log.Info("agent started", "sandbox_id", handle.ID)
	res := exec.Execute(runCtx, Task{
		AgentID:       a.ID,
		Target:        target.Value,
		TargetType:    target.Type,
		Instruction:   a.Task,
		Sandbox:       handle,
		Model:         cfg.Model,
		MaxIterations: a.MaxIterations,
		Progress: func(iteration int) {
			if err := m.store.SetAgentIteration(a.ID, iteration); err != nil {
				log.Warn("record iteration", "iteration", iteration, "error", err)
			}
		},
	})

	if m.wasCancelled(entry) {
		return m.cancelled(a.ID, log)
	}
	if !res.Success {
		if res.Err == nil {
			res.Err = errors.New("agent reported failure")
		}
		m.fail(a.ID, res.Err, log)
		return res
	}

	result, err := json.Marshal(res.Detail)
	if err != nil {
		err = fmt.Errorf("encode agent result: %w", err)
		m.fail(a.ID, err, log)
		return phase.Failed(err)
	}
	done, err := m.store.CompleteAgent(a.ID, result, m.now())
	if err != nil {
		err = fmt.Errorf("complete agent %s: %w", a.ID, err)
		m.fail(a.ID, err, log)
		return phase.Failed(err)
	}
	if !done {
		// Cancelled through the store while the executor was finishing.
		log.Info("agent result discarded")
		return phase.Failed(fmt.Errorf("%w: %s", ErrAgentCancelled, a.ID))
	}
	log.Info("agent completed", "findings", len(res.Findings))
	return res
}

func (m *Manager) cancelled(id string, log *slog.Logger) phase.Result {
	if _, err := m.store.CancelAgent(id, m.now()); err != nil {
		log.Error("record agent cancellation", "error", err)
	}
	log.Info("agent cancelled")
	return phase.Failed(fmt.Errorf("%w: %s", ErrAgentCancelled, id))
}

func (m *Manager) fail(id string, cause error, log *slog.Logger) {
	log.Warn("agent failed", "error", cause)
	if _, err := m.store.FailAgent(id, cause.Error(), m.now()); err != nil {
		log.Error("record agent failure", "error", err)
	}
}

// Cancel marks a running agent cancelled and signals its execution. It
// reports whether the agent was running under this manager.
func (m *Manager) Cancel(agentID string) (bool, error) {
	m.mu.Lock()
	entry, ok := m.active[agentID]
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	_, err := m.store.CancelAgent(agentID, m.now())
	m.signal(entry)
	if err != nil {
		return true, fmt.Errorf("cancel agent %s: %w", agentID, err)
	}
	return true, nil
}

// CancelScan marks every pending or running agent of scanID cancelled and
// signals the running ones.
func (m *Manager) CancelScan(scanID int64) (int64, error) {
	n, err := m.store.CancelActiveAgents(scanID, m.now())
	m.mu.Lock()
	for _, entry := range m.active {
		if entry.scanID == scanID {
			entry.cancelled = true
			entry.cancel()
		}
	}
	m.mu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("cancel agents of scan %d: %w", scanID, err)
	}
	return n, nil
}

// ActiveCount is the number of agents currently executing.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Cleanup cancels every running agent. Each execution records its own
// cancellation as it unwinds.
func (m *Manager) Cleanup() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, entry := range m.active {
		entry.cancelled = true
		entry.cancel()
	}
	return len(m.active)
}

func (m *Manager) register(id string, scanID int64, cancel context.CancelFunc) *activeAgent {
	entry := &activeAgent{scanID: scanID, cancel: cancel}
	m.mu.Lock()
	m.active[id] = entry
	m.mu.Unlock()
	if m.gauge != nil {
		m.gauge.Inc()
	}
	return entry
}

func (m *Manager) deregister(id string) {
	m.mu.Lock()
	delete(m.active, id)
	m.mu.Unlock()
	if m.gauge != nil {
		m.gauge.Dec()
	}
}

func (m *Manager) signal(entry *activeAgent) {
	m.mu.Lock()
	entry.cancelled = true
	m.mu.Unlock()
	entry.cancel()
}

func (m *Manager) wasCancelled(entry *activeAgent) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return entry.cancelled
}
