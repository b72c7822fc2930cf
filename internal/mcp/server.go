package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nvandessel/nudgeloop/internal/logging"
	"github.com/nvandessel/nudgeloop/internal/orchestrator"
	"github.com/nvandessel/nudgeloop/internal/pathutil"
	"github.com/nvandessel/nudgeloop/internal/ratelimit"
)

// Server wraps the MCP SDK server and exposes the orchestrator as tools.
type Server struct {
	server       *sdk.Server
	mgr          *orchestrator.Manager
	queue        *Queue
	toolLimiters ratelimit.ToolLimiters
	auditLogger  *AuditLogger
	snapshotDirs []string
	logger       *slog.Logger
	nowFunc      func() time.Time
}

// Config holds server configuration.
type Config struct {
	Name    string // Server name (e.g., "nudgeloop")
	Version string // Server version
	DataDir string // snapshots and the audit log live here

	// SnapshotDirs are extra directories nudge_snapshot may read and write.
	SnapshotDirs []string
	// Rules overrides the per-tool rate limits. Nil uses ratelimit.DefaultRules.
	Rules map[string]ratelimit.Rule
	// Audit enables the JSONL tool audit log in DataDir.
	Audit bool
}

// NewServer creates an MCP server over mgr. queue must be the Notifier the
// manager was built with; nudge_poll drains it.
func NewServer(cfg *Config, mgr *orchestrator.Manager, queue *Queue, logger *slog.Logger) (*Server, error) {
	if mgr == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}
	if queue == nil {
		queue = NewQueue(DefaultQueueSize)
	}
	if logger == nil {
		logger = logging.Nop()
	}
	rules := cfg.Rules
	if rules == nil {
		rules = ratelimit.DefaultRules()
	}

	mcpServer := sdk.NewServer(&sdk.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, &sdk.ServerOptions{
		InitializedHandler: func(ctx context.Context, req *sdk.InitializedRequest) {
			logger.Debug("mcp client initialized")
		},
	})

	s := &Server{
		server:       mcpServer,
		mgr:          mgr,
		queue:        queue,
		toolLimiters: ratelimit.NewToolLimiters(rules),
		snapshotDirs: pathutil.AllowedSnapshotDirs(cfg.DataDir, cfg.SnapshotDirs...),
		logger:       logger,
		nowFunc:      time.Now,
	}
	if cfg.Audit {
		s.auditLogger = NewAuditLogger(cfg.DataDir)
	}

	s.registerTools()
	s.registerResources()

	return s, nil
}

// Run serves MCP over stdio until the client disconnects or ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	err := s.server.Run(ctx, &sdk.StdioTransport{})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Close releases the audit log. The orchestrator is owned by the caller.
func (s *Server) Close() error {
	return s.auditLogger.Close()
}
