// Package orchestrator wires the signal trackers, pattern analyzer,
// knowledge graph, cooldown gate and intervention scheduler together.
// Manager is the only entry point host adapters call into.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nvandessel/nudgeloop/internal/cooldown"
	"github.com/nvandessel/nudgeloop/internal/embedding"
	"github.com/nvandessel/nudgeloop/internal/logging"
	"github.com/nvandessel/nudgeloop/internal/models"
	"github.com/nvandessel/nudgeloop/internal/pattern"
	"github.com/nvandessel/nudgeloop/internal/retrieval"
	"github.com/nvandessel/nudgeloop/internal/scheduler"
	"github.com/nvandessel/nudgeloop/internal/store"
	"github.com/nvandessel/nudgeloop/internal/tracker"
)

// Notifier delivers fired interventions to the host. Delivery is best
// effort; errors are logged and never retried by the manager.
type Notifier interface {
	Notify(ctx context.Context, in Intervention) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, in Intervention) error

// Notify calls f(ctx, in).
func (f NotifierFunc) Notify(ctx context.Context, in Intervention) error { return f(ctx, in) }

// Intervention is the payload handed to the Notifier when a scheduled
// nudge fires.
type Intervention struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	CooldownKey string          `json:"cooldown_key"`
	Source      string          `json:"source"` // behavior kind or insight type
	Key         string          `json:"key,omitempty"`
	Domain      string          `json:"domain,omitempty"`
	Severity    models.Severity `json:"severity"`
	Metric      float64         `json:"metric,omitempty"`
	Description string          `json:"description,omitempty"`
	RelatedKeys []string        `json:"related_keys,omitempty"`
	ScheduledAt time.Time       `json:"scheduled_at"`
	FireAt      time.Time       `json:"fire_at"`
}

// Policy is the delay and cooldown applied to one severity.
type Policy struct {
	Delay    time.Duration `json:"delay" yaml:"delay"`
	Cooldown time.Duration `json:"cooldown" yaml:"cooldown"`
}

// Policies maps severities to their policies. Severities without an entry
// never schedule.
type Policies map[models.Severity]Policy

// DefaultPolicies returns the default severity table: higher severities
// nudge sooner and stay quiet longer.
func DefaultPolicies() Policies {
	return Policies{
		models.SeverityHigh:   {Delay: 10 * time.Second, Cooldown: 30 * time.Minute},
		models.SeverityMedium: {Delay: time.Minute, Cooldown: 15 * time.Minute},
		models.SeverityLow:    {Delay: 5 * time.Minute, Cooldown: 10 * time.Minute},
	}
}

func (p Policies) clone() Policies {
	out := make(Policies, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Config assembles the settings of every component.
type Config struct {
	Time      tracker.Config
	Scroll    tracker.Config
	Visit     tracker.Config
	Analyzer  pattern.Config
	Retrieval retrieval.Config
	Policies  Policies

	// TickInterval is the cadence of Run. Default: 15s.
	TickInterval time.Duration
	// NotifyTimeout bounds a single Notifier call. Default: 5s.
	NotifyTimeout time.Duration
	// CooldownSize bounds remembered cooldown keys.
	CooldownSize int

	// Graph bounds; the oldest nodes of each type beyond these are pruned.
	MaxBehaviorNodes int
	MaxPatternNodes  int
	MaxTabNodes      int
}

// DefaultConfig returns a configuration with the default thresholds.
func DefaultConfig() Config {
	return Config{
		Time: tracker.Config{
			Threshold: 30,
			Window:    2 * time.Hour,
		},
		Scroll: tracker.Config{
			Threshold: 10000,
			Window:    10 * time.Minute,
			Monitored: []string{"reddit.com", "twitter.com", "x.com", "facebook.com", "instagram.com", "tiktok.com", "youtube.com", "linkedin.com"},
		},
		Visit: tracker.Config{
			Threshold: 3,
			Window:    time.Hour,
			Monitored: []string{"amazon.com", "ebay.com", "etsy.com", "aliexpress.com", "walmart.com", "target.com"},
		},
		Analyzer:         pattern.DefaultConfig(),
		Retrieval:        retrieval.DefaultConfig(),
		Policies:         DefaultPolicies(),
		TickInterval:     15 * time.Second,
		NotifyTimeout:    5 * time.Second,
		CooldownSize:     cooldown.DefaultSize,
		MaxBehaviorNodes: 1000,
		MaxPatternNodes:  200,
		MaxTabNodes:      500,
	}
}

// Options carries the optional collaborators of a Manager.
type Options struct {
	Notifier  Notifier
	Embedder  embedding.Embedder
	Logger    *slog.Logger
	Decisions *logging.DecisionLogger
}

// Counters tallies gate decisions since start.
type Counters struct {
	Scheduled    int64 `json:"scheduled"`
	Replaced     int64 `json:"replaced"`
	Suppressed   int64 `json:"suppressed"`
	Fired        int64 `json:"fired"`
	NotifyFailed int64 `json:"notify_failed"`
}

// Manager is the intervention orchestrator. All inbound calls and ticks are
// serialized on one pipeline lock; reads go straight to the components,
// which are individually safe for concurrent use.
type Manager struct {
	cfg Config

	timeTracker   *tracker.TimeTracker
	scrollTracker *tracker.Tracker
	visitTracker  *tracker.Tracker
	analyzer      *pattern.Analyzer
	graph         *store.Graph
	builder       *retrieval.Builder
	gate          *cooldown.Gate
	sched         *scheduler.Scheduler

	policies  atomic.Pointer[Policies]
	notifier  Notifier
	logger    *slog.Logger
	decisions *logging.DecisionLogger

	pipeline sync.Mutex
	ticking  atomic.Bool

	scheduled    atomic.Int64
	replaced     atomic.Int64
	suppressed   atomic.Int64
	fired        atomic.Int64
	notifyFailed atomic.Int64

	ctx     context.Context
	cancel  context.CancelFunc
	nowFunc func() time.Time
}

// New constructs every component from cfg and wires them together.
func New(cfg Config, opts Options) (*Manager, error) {
	def := DefaultConfig()
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = def.NotifyTimeout
	}
	if cfg.Policies == nil {
		cfg.Policies = def.Policies
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	gate, err := cooldown.NewGate(cfg.CooldownSize)
	if err != nil {
		return nil, err
	}

	graph := store.NewGraph()
	builder, err := retrieval.NewBuilder(graph, cfg.Retrieval, opts.Embedder, logger)
	if err != nil {
		return nil, fmt.Errorf("creating context builder: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:           cfg,
		timeTracker:   tracker.NewTimeTracker(cfg.Time),
		scrollTracker: tracker.NewScrollTracker(cfg.Scroll),
		visitTracker:  tracker.NewVisitTracker(cfg.Visit),
		graph:         graph,
		builder:       builder,
		gate:          gate,
		notifier:      opts.Notifier,
		logger:        logger,
		decisions:     opts.Decisions,
		ctx:           ctx,
		cancel:        cancel,
		nowFunc:       time.Now,
	}
	analyzerCfg := cfg.Analyzer
	if analyzerCfg.LongSessionMinutes == 0 {
		analyzerCfg.LongSessionMinutes = m.timeTracker.Threshold()
	}
	m.analyzer = pattern.NewAnalyzer(analyzerCfg, m.timeTracker, m.scrollTracker, m.visitTracker)
	m.sched = scheduler.New(m.fire, logger)

	policies := cfg.Policies.clone()
	m.policies.Store(&policies)

	sink := tracker.SinkFunc(m.handleBehavior)
	m.timeTracker.SetSink(sink)
	m.scrollTracker.SetSink(sink)
	m.visitTracker.SetSink(sink)

	return m, nil
}

// SetClock replaces the clock of the manager and every component. It must
// be called before the manager is used.
func (m *Manager) SetClock(now func() time.Time) {
	m.nowFunc = now
	m.timeTracker.SetClock(now)
	m.scrollTracker.SetClock(now)
	m.visitTracker.SetClock(now)
	m.analyzer.SetClock(now)
	m.graph.SetClock(now)
	m.builder.SetClock(now)
	m.gate.SetClock(now)
	m.sched.SetClock(now)
}

// SetPolicies atomically replaces the severity policy table.
func (m *Manager) SetPolicies(p Policies) {
	cp := p.clone()
	m.policies.Store(&cp)
}

// SetPolicy replaces the policy of one severity.
func (m *Manager) SetPolicy(sev models.Severity, p Policy) {
	for {
		old := m.policies.Load()
		next := old.clone()
		next[sev] = p
		if m.policies.CompareAndSwap(old, &next) {
			return
		}
	}
}

// Policies returns a copy of the current policy table.
func (m *Manager) Policies() Policies {
	return m.policies.Load().clone()
}

// Run ticks every TickInterval until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Tick(m.nowFunc())
		}
	}
}

// Close cancels pending interventions and waits for in-flight
// notifications. The decision logger is owned by the caller.
func (m *Manager) Close() {
	m.cancel()
	m.sched.Close()
}
