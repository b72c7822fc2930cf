// Package config provides unified configuration loading for nudgeloop.
// It supports loading from YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nvandessel/nudgeloop/internal/cooldown"
	"github.com/nvandessel/nudgeloop/internal/embedding"
	"github.com/nvandessel/nudgeloop/internal/logging"
	"github.com/nvandessel/nudgeloop/internal/models"
	"github.com/nvandessel/nudgeloop/internal/orchestrator"
	"github.com/nvandessel/nudgeloop/internal/pattern"
	"github.com/nvandessel/nudgeloop/internal/retrieval"
	"github.com/nvandessel/nudgeloop/internal/store"
	"github.com/nvandessel/nudgeloop/internal/tracker"
)

// FileName is the config file name inside the data directory.
const FileName = "config.yaml"

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config contains all nudgeloop configuration settings.
type Config struct {
	// DataDir holds the SQLite snapshot store, snapshot files and the
	// decision log. Defaults to ~/.nudgeloop.
	DataDir string `json:"data_dir,omitempty" yaml:"data_dir,omitempty"`

	Trackers      TrackersConfig      `json:"trackers" yaml:"trackers"`
	Analyzer      AnalyzerConfig      `json:"analyzer" yaml:"analyzer"`
	Interventions InterventionsConfig `json:"interventions" yaml:"interventions"`
	Graph         GraphConfig         `json:"graph" yaml:"graph"`
	Retrieval     RetrievalConfig     `json:"retrieval" yaml:"retrieval"`
	Embedding     EmbeddingConfig     `json:"embedding" yaml:"embedding"`
	Logging       LoggingConfig       `json:"logging" yaml:"logging"`
}

// TrackerConfig configures one signal tracker.
type TrackerConfig struct {
	// Threshold is the accumulator value classified as low severity:
	// minutes (time), pixels (scroll) or visits (visit).
	Threshold float64 `json:"threshold" yaml:"threshold"`

	// Window is the accumulation window.
	Window time.Duration `json:"window" yaml:"window"`

	// Monitored limits the tracker to these domains. Empty monitors everything.
	Monitored []string `json:"monitored,omitempty" yaml:"monitored,omitempty"`

	// Reconfirm re-emits an unchanged classification at most once per
	// interval. Zero disables re-confirmation.
	Reconfirm time.Duration `json:"reconfirm,omitempty" yaml:"reconfirm,omitempty"`
}

// TrackersConfig configures the three trackers and the tick cadence.
type TrackersConfig struct {
	Time         TrackerConfig `json:"time" yaml:"time"`
	Scroll       TrackerConfig `json:"scroll" yaml:"scroll"`
	Visit        TrackerConfig `json:"visit" yaml:"visit"`
	TickInterval time.Duration `json:"tick_interval" yaml:"tick_interval"`
}

// AnalyzerConfig configures the pattern analyzer.
type AnalyzerConfig struct {
	MultiTabThreshold int `json:"multi_tab_threshold" yaml:"multi_tab_threshold"`
	FocusLossLongTabs int `json:"focus_loss_long_tabs" yaml:"focus_loss_long_tabs"`
	FocusLossDomains  int `json:"focus_loss_domains" yaml:"focus_loss_domains"`
	LogSize           int `json:"log_size" yaml:"log_size"`
}

// PolicyConfig is the delay and cooldown of one severity.
type PolicyConfig struct {
	Delay    time.Duration `json:"delay" yaml:"delay"`
	Cooldown time.Duration `json:"cooldown" yaml:"cooldown"`
}

// InterventionsConfig configures scheduling and delivery.
type InterventionsConfig struct {
	// Policies maps "low", "medium" and "high" to their delay and cooldown.
	Policies map[string]PolicyConfig `json:"policies" yaml:"policies"`

	// NotifyTimeout bounds one delivery to the host.
	NotifyTimeout time.Duration `json:"notify_timeout" yaml:"notify_timeout"`

	// CooldownSize bounds remembered cooldown keys.
	CooldownSize int `json:"cooldown_size" yaml:"cooldown_size"`

	// QueueSize bounds fired interventions waiting for the host to poll.
	QueueSize int `json:"queue_size" yaml:"queue_size"`
}

// GraphConfig configures the knowledge graph and its persistence.
type GraphConfig struct {
	// SnapshotInterval is how often serve saves the graph to SQLite. Zero
	// saves only on shutdown.
	SnapshotInterval time.Duration `json:"snapshot_interval" yaml:"snapshot_interval"`

	// SnapshotRetention is how many snapshot files `snapshot export` keeps
	// in the default snapshot directory.
	SnapshotRetention int `json:"snapshot_retention" yaml:"snapshot_retention"`

	MaxBehaviorNodes int `json:"max_behavior_nodes" yaml:"max_behavior_nodes"`
	MaxPatternNodes  int `json:"max_pattern_nodes" yaml:"max_pattern_nodes"`
	MaxTabNodes      int `json:"max_tab_nodes" yaml:"max_tab_nodes"`
}

// RetrievalConfig bounds nudge contexts.
type RetrievalConfig struct {
	MaxBehaviors int           `json:"max_behaviors" yaml:"max_behaviors"`
	MaxPatterns  int           `json:"max_patterns" yaml:"max_patterns"`
	EmbedTimeout time.Duration `json:"embed_timeout" yaml:"embed_timeout"`
	CacheSize    int           `json:"cache_size" yaml:"cache_size"`
}

// EmbeddingConfig selects the embedder used for similarity retrieval.
type EmbeddingConfig struct {
	// Provider is "hash" (default) or "local". "local" requires building
	// with -tags llamacpp.
	Provider   string `json:"provider" yaml:"provider"`
	Dimensions int    `json:"dimensions,omitempty" yaml:"dimensions,omitempty"`

	// LibPath and ModelPath support ${VAR} expansion.
	LibPath   string `json:"lib_path,omitempty" yaml:"lib_path,omitempty"`
	ModelPath string `json:"model_path,omitempty" yaml:"model_path,omitempty"`
	GPULayers int    `json:"gpu_layers,omitempty" yaml:"gpu_layers,omitempty"`
}

// LoggingConfig configures nudgeloop's logging behavior.
type LoggingConfig struct {
	// Level sets the log verbosity: "info" (default), "warn", "debug", or "trace".
	// "debug" enables decision logging to decisions.jsonl in the data directory.
	Level string `json:"level" yaml:"level"`

	// Format is "text" (default) or "json".
	Format string `json:"format" yaml:"format"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	oc := orchestrator.DefaultConfig()

	policies := make(map[string]PolicyConfig, len(oc.Policies))
	for sev, p := range oc.Policies {
		policies[sev.String()] = PolicyConfig{Delay: p.Delay, Cooldown: p.Cooldown}
	}

	return &Config{
		Trackers: TrackersConfig{
			Time:         fromTracker(oc.Time),
			Scroll:       fromTracker(oc.Scroll),
			Visit:        fromTracker(oc.Visit),
			TickInterval: oc.TickInterval,
		},
		Analyzer: AnalyzerConfig{
			MultiTabThreshold: oc.Analyzer.MultiTabThreshold,
			FocusLossLongTabs: oc.Analyzer.FocusLossLongTabs,
			FocusLossDomains:  oc.Analyzer.FocusLossDomains,
			LogSize:           oc.Analyzer.LogSize,
		},
		Interventions: InterventionsConfig{
			Policies:      policies,
			NotifyTimeout: oc.NotifyTimeout,
			CooldownSize:  cooldown.DefaultSize,
			QueueSize:     100,
		},
		Graph: GraphConfig{
			SnapshotInterval:  5 * time.Minute,
			SnapshotRetention: 10,
			MaxBehaviorNodes:  oc.MaxBehaviorNodes,
			MaxPatternNodes:   oc.MaxPatternNodes,
			MaxTabNodes:       oc.MaxTabNodes,
		},
		Retrieval: RetrievalConfig{
			MaxBehaviors: oc.Retrieval.MaxBehaviors,
			MaxPatterns:  oc.Retrieval.MaxPatterns,
			EmbedTimeout: oc.Retrieval.EmbedTimeout,
			CacheSize:    oc.Retrieval.CacheSize,
		},
		Embedding: EmbeddingConfig{
			Provider: embedding.ProviderHash,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func fromTracker(tc tracker.Config) TrackerConfig {
	return TrackerConfig{
		Threshold: tc.Threshold,
		Window:    tc.Window,
		Monitored: append([]string(nil), tc.Monitored...),
		Reconfirm: tc.ReconfirmInterval,
	}
}

func (tc TrackerConfig) toTracker() tracker.Config {
	return tracker.Config{
		Threshold:         tc.Threshold,
		Window:            tc.Window,
		Monitored:         append([]string(nil), tc.Monitored...),
		ReconfirmInterval: tc.Reconfirm,
	}
}

// DefaultPath returns ~/.nudgeloop/config.yaml.
func DefaultPath() (string, error) {
	dir, err := store.DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}

// Load loads configuration from path and environment variables.
// Order: defaults -> path (or ~/.nudgeloop/config.yaml when path is empty
// and that file exists) -> environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		if p, err := DefaultPath(); err == nil {
			if _, statErr := os.Stat(p); statErr == nil {
				path = p
			}
		}
	}
	if path != "" {
		fileConfig, err := LoadFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
		cfg = fileConfig
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// LoadFromFile loads configuration from a specific YAML file. Keys absent
// from the file keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	// Policies in the file replace the default table severity by severity.
	defaults := cfg.Interventions.Policies
	cfg.Interventions.Policies = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if cfg.Interventions.Policies == nil {
		cfg.Interventions.Policies = defaults
	} else {
		for sev, p := range defaults {
			if _, ok := cfg.Interventions.Policies[sev]; !ok {
				cfg.Interventions.Policies[sev] = p
			}
		}
	}

	cfg.DataDir = expandEnvVars(cfg.DataDir)
	cfg.Embedding.LibPath = expandEnvVars(cfg.Embedding.LibPath)
	cfg.Embedding.ModelPath = expandEnvVars(cfg.Embedding.ModelPath)

	return cfg, nil
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate checks that the configuration is valid. Every failure wraps ErrInvalid.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	for _, tc := range []struct {
		name string
		cfg  TrackerConfig
	}{
		{"time", c.Trackers.Time},
		{"scroll", c.Trackers.Scroll},
		{"visit", c.Trackers.Visit},
	} {
		if tc.cfg.Threshold <= 0 {
			fail("trackers.%s.threshold must be positive, got %v", tc.name, tc.cfg.Threshold)
		}
		if tc.cfg.Window <= 0 {
			fail("trackers.%s.window must be positive, got %v", tc.name, tc.cfg.Window)
		}
		if tc.cfg.Reconfirm < 0 {
			fail("trackers.%s.reconfirm must be non-negative, got %v", tc.name, tc.cfg.Reconfirm)
		}
	}
	if c.Trackers.TickInterval <= 0 {
		fail("trackers.tick_interval must be positive, got %v", c.Trackers.TickInterval)
	}

	if c.Analyzer.MultiTabThreshold < 0 || c.Analyzer.FocusLossLongTabs < 0 || c.Analyzer.FocusLossDomains < 0 {
		fail("analyzer thresholds must be non-negative")
	}

	for _, sev := range []models.Severity{models.SeverityLow, models.SeverityMedium, models.SeverityHigh} {
		p, ok := c.Interventions.Policies[sev.String()]
		if !ok {
			fail("interventions.policies.%s is missing", sev)
			continue
		}
		if p.Delay < 0 || p.Cooldown < 0 {
			fail("interventions.policies.%s durations must be non-negative", sev)
		}
	}
	for name := range c.Interventions.Policies {
		if sev, err := models.ParseSeverity(name); err != nil || sev == models.SeverityNone {
			fail("interventions.policies has unknown severity %q", name)
		}
	}
	if c.Interventions.NotifyTimeout < 0 {
		fail("interventions.notify_timeout must be non-negative, got %v", c.Interventions.NotifyTimeout)
	}
	if c.Graph.SnapshotInterval < 0 {
		fail("graph.snapshot_interval must be non-negative, got %v", c.Graph.SnapshotInterval)
	}
	if c.Retrieval.EmbedTimeout < 0 {
		fail("retrieval.embed_timeout must be non-negative, got %v", c.Retrieval.EmbedTimeout)
	}

	switch strings.ToLower(c.Embedding.Provider) {
	case "", embedding.ProviderHash:
	case embedding.ProviderLocal:
		if c.Embedding.ModelPath == "" {
			fail("embedding.model_path is required for the local provider")
		}
	default:
		fail("invalid embedding provider: %s (valid: hash, local)", c.Embedding.Provider)
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		fail("invalid log level: %s (valid: info, warn, debug, trace, or empty for default)", c.Logging.Level)
	}
	if !logging.ValidFormat(c.Logging.Format) {
		fail("invalid log format: %s (valid: text, json)", c.Logging.Format)
	}

	return errors.Join(errs...)
}

// ResolveDataDir returns DataDir or ~/.nudgeloop when unset.
func (c *Config) ResolveDataDir() (string, error) {
	if c.DataDir != "" {
		return c.DataDir, nil
	}
	return store.DataDir()
}

// Policies converts the policy table. Unknown severities are skipped;
// Validate reports them.
func (c *Config) Policies() orchestrator.Policies {
	out := make(orchestrator.Policies, len(c.Interventions.Policies))
	names := make([]string, 0, len(c.Interventions.Policies))
	for name := range c.Interventions.Policies {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		sev, err := models.ParseSeverity(name)
		if err != nil || sev == models.SeverityNone {
			continue
		}
		p := c.Interventions.Policies[name]
		out[sev] = orchestrator.Policy{Delay: p.Delay, Cooldown: p.Cooldown}
	}
	return out
}

// Orchestrator converts the configuration into orchestrator settings.
func (c *Config) Orchestrator() orchestrator.Config {
	return orchestrator.Config{
		Time:   c.Trackers.Time.toTracker(),
		Scroll: c.Trackers.Scroll.toTracker(),
		Visit:  c.Trackers.Visit.toTracker(),
		Analyzer: pattern.Config{
			MultiTabThreshold: c.Analyzer.MultiTabThreshold,
			FocusLossLongTabs: c.Analyzer.FocusLossLongTabs,
			FocusLossDomains:  c.Analyzer.FocusLossDomains,
			LogSize:           c.Analyzer.LogSize,
		},
		Retrieval: retrieval.Config{
			MaxBehaviors: c.Retrieval.MaxBehaviors,
			MaxPatterns:  c.Retrieval.MaxPatterns,
			EmbedTimeout: c.Retrieval.EmbedTimeout,
			CacheSize:    c.Retrieval.CacheSize,
		},
		Policies:         c.Policies(),
		TickInterval:     c.Trackers.TickInterval,
		NotifyTimeout:    c.Interventions.NotifyTimeout,
		CooldownSize:     c.Interventions.CooldownSize,
		MaxBehaviorNodes: c.Graph.MaxBehaviorNodes,
		MaxPatternNodes:  c.Graph.MaxPatternNodes,
		MaxTabNodes:      c.Graph.MaxTabNodes,
	}
}

// EmbeddingConfig converts the embedding section.
func (c *Config) EmbeddingConfig() embedding.Config {
	return embedding.Config{
		Provider:   c.Embedding.Provider,
		Dimensions: c.Embedding.Dimensions,
		LibPath:    c.Embedding.LibPath,
		ModelPath:  c.Embedding.ModelPath,
		GPULayers:  c.Embedding.GPULayers,
	}
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("NUDGELOOP_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	if v := os.Getenv("NUDGELOOP_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("NUDGELOOP_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv("NUDGELOOP_EMBEDDING_PROVIDER"); v != "" {
		cfg.Embedding.Provider = v
	}
	if v := os.Getenv("NUDGELOOP_EMBEDDING_MODEL_PATH"); v != "" {
		cfg.Embedding.ModelPath = v
	}
	if v := os.Getenv("NUDGELOOP_EMBEDDING_LIB_PATH"); v != "" {
		cfg.Embedding.LibPath = v
	}
	if v := os.Getenv("NUDGELOOP_GPU_LAYERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Embedding.GPULayers = n
		}
	}

	if v := os.Getenv("NUDGELOOP_TICK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Trackers.TickInterval = d
		}
	}
	if v := os.Getenv("NUDGELOOP_SNAPSHOT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Graph.SnapshotInterval = d
		}
	}

	envFloat := func(name string, dst *float64) {
		if v := os.Getenv(name); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}
	envFloat("NUDGELOOP_TIME_THRESHOLD", &cfg.Trackers.Time.Threshold)
	envFloat("NUDGELOOP_SCROLL_THRESHOLD", &cfg.Trackers.Scroll.Threshold)
	envFloat("NUDGELOOP_VISIT_THRESHOLD", &cfg.Trackers.Visit.Threshold)
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
