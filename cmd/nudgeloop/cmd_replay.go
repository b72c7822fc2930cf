package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/nvandessel/nudgeloop/internal/config"
	"github.com/nvandessel/nudgeloop/internal/logging"
	"github.com/nvandessel/nudgeloop/internal/mcp"
	"github.com/nvandessel/nudgeloop/internal/orchestrator"
	"github.com/nvandessel/nudgeloop/internal/scheduler"
)

// maxTicksPerGap caps synthetic ticks between two recorded events.
const maxTicksPerGap = 10000

func newReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <events.jsonl>",
		Short: "Replay recorded host events and show the nudges they schedule",
		Long: `Drive the pipeline from a file of recorded host events, one JSON object
per line, using each event's timestamp as the clock:

  {"time":"2026-03-14T09:00:00Z","type":"tab_updated","tab_id":"1","url":"https://reddit.com/r/golang"}
  {"time":"2026-03-14T09:00:05Z","type":"scroll","tab_id":"1","url":"https://reddit.com/r/golang","delta":4000}
  {"time":"2026-03-14T09:10:00Z","type":"tick"}

Event types are tab_activated, tab_updated, scroll, tab_removed and tick.
Between events, ticks are synthesized every --tick of recorded time.
Nothing is persisted and no nudge is delivered.

Use "-" to read events from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			trace, _ := cmd.Flags().GetBool("trace")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			tick := cfg.Trackers.TickInterval
			if cmd.Flags().Changed("tick") {
				tick, _ = cmd.Flags().GetDuration("tick")
			}

			var in io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("failed to open events: %w", err)
				}
				defer f.Close()
				in = f
			}

			opts := replayOptions{tick: tick}
			if trace {
				opts.trace = cmd.ErrOrStderr()
			}
			result, err := replay(cmd.Context(), cfg, in, opts)
			if err != nil {
				return err
			}

			if jsonOut {
				return writeJSON(cmd, result)
			}
			printReplay(cmd.OutOrStdout(), result)
			return nil
		},
	}

	cmd.Flags().Duration("tick", 0, "Synthetic tick interval in recorded time (default: trackers.tick_interval, 0 disables)")
	cmd.Flags().Bool("trace", false, "Write gate decisions as JSONL to stderr")

	return cmd
}

// replayEvent is one recorded host event.
type replayEvent struct {
	Time  time.Time `json:"time"`
	Type  string    `json:"type"`
	TabID string    `json:"tab_id,omitempty"`
	URL   string    `json:"url,omitempty"`
	Delta float64   `json:"delta,omitempty"`
}

type replayOptions struct {
	tick  time.Duration
	trace io.Writer
}

// ReplayIntervention is an intervention scheduled during replay.
type ReplayIntervention struct {
	Name        string    `json:"name"`
	Source      string    `json:"source,omitempty"`
	Key         string    `json:"key,omitempty"`
	Domain      string    `json:"domain,omitempty"`
	Severity    string    `json:"severity,omitempty"`
	Description string    `json:"description,omitempty"`
	ScheduledAt time.Time `json:"scheduled_at"`
	FireAt      time.Time `json:"fire_at"`
}

// ReplayResult summarizes a replay.
type ReplayResult struct {
	Events    int                    `json:"events"`
	Ticks     int                    `json:"ticks"`
	Skipped   int                    `json:"skipped"`
	Start     time.Time              `json:"start,omitzero"`
	End       time.Time              `json:"end,omitzero"`
	Scheduled []ReplayIntervention   `json:"scheduled"`
	Counters  orchestrator.Counters  `json:"counters"`
	Insights  []replayInsight        `json:"insights"`
	Sessions  map[string]int         `json:"sessions"`
	Graph     map[string]interface{} `json:"graph"`
}

type replayInsight struct {
	Type        string    `json:"type"`
	Severity    string    `json:"severity"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
}

// replayClock is the recorded-time clock handed to every component.
type replayClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *replayClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *replayClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// replay feeds events from r through a fresh orchestrator. Lines that are
// blank or start with '#' are ignored; malformed lines are counted as
// skipped. Events must be in time order.
func replay(ctx context.Context, cfg *config.Config, r io.Reader, opts replayOptions) (*ReplayResult, error) {
	var decisions *logging.DecisionLogger
	if opts.trace != nil {
		decisions = logging.NewDecisionWriter(opts.trace)
	}

	mgr, err := orchestrator.New(cfg.Orchestrator(), orchestrator.Options{
		Notifier:  mcp.NewQueue(cfg.Interventions.QueueSize),
		Logger:    logging.Nop(),
		Decisions: decisions,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}
	defer mgr.Close()

	clock := &replayClock{}
	mgr.SetClock(clock.Now)
	decisions.SetClock(clock.Now)

	result := &ReplayResult{Scheduled: []ReplayIntervention{}}
	seen := make(map[string]bool)
	collect := func(at time.Time) {
		for _, p := range mgr.PendingInterventions() {
			id := p.Name + "@" + p.FireAt.Format(time.RFC3339Nano)
			if seen[id] {
				continue
			}
			seen[id] = true
			result.Scheduled = append(result.Scheduled, replayIntervention(p, at))
		}
	}

	var last time.Time
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		var ev replayEvent
		if err := json.Unmarshal([]byte(text), &ev); err != nil || ev.Time.IsZero() {
			result.Skipped++
			continue
		}
		if !last.IsZero() && ev.Time.Before(last) {
			return nil, fmt.Errorf("line %d: event at %s is before the previous event", line, ev.Time.Format(time.RFC3339))
		}
		if result.Start.IsZero() {
			result.Start = ev.Time
		}

		// Synthetic ticks strictly between the previous event and this one.
		if opts.tick > 0 && !last.IsZero() {
			n := 0
			for t := last.Add(opts.tick); t.Before(ev.Time) && n < maxTicksPerGap; t = t.Add(opts.tick) {
				clock.Set(t)
				if mgr.Tick(t) {
					result.Ticks++
				}
				collect(t)
				n++
			}
		}

		clock.Set(ev.Time)
		if !applyReplayEvent(mgr, ev) {
			result.Skipped++
		} else {
			result.Events++
			if ev.Type == mcp.EventTick {
				result.Ticks++
			}
		}
		collect(ev.Time)
		last = ev.Time
		result.End = ev.Time
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}

	result.Counters = mgr.Stats().Counters
	result.Insights = []replayInsight{}
	for _, in := range mgr.RecentInsights(0) {
		result.Insights = append(result.Insights, replayInsight{
			Type:        string(in.Type),
			Severity:    in.Severity.String(),
			Description: in.Description,
			Timestamp:   in.Timestamp,
		})
	}
	result.Sessions = make(map[string]int)
	for kind, n := range mgr.Stats().Sessions {
		result.Sessions[string(kind)] = n
	}
	st := mgr.Stats().Graph
	result.Graph = map[string]interface{}{
		"node_count": st.NodeCount,
		"edge_count": st.EdgeCount,
	}
	return result, nil
}

// applyReplayEvent dispatches ev and reports whether its type was known.
func applyReplayEvent(mgr *orchestrator.Manager, ev replayEvent) bool {
	switch ev.Type {
	case mcp.EventTabActivated:
		mgr.OnTabActivated(ev.TabID)
	case mcp.EventTabUpdated:
		mgr.OnTabUpdated(ev.TabID, ev.URL)
	case mcp.EventScroll:
		mgr.OnScroll(ev.TabID, ev.URL, ev.Delta)
	case mcp.EventTabRemoved:
		mgr.OnTabRemoved(ev.TabID)
	case mcp.EventTick:
		mgr.Tick(ev.Time)
	default:
		return false
	}
	return true
}

func replayIntervention(p scheduler.Intervention, at time.Time) ReplayIntervention {
	out := ReplayIntervention{Name: p.Name, ScheduledAt: at, FireAt: p.FireAt}
	if in, ok := p.Payload.(orchestrator.Intervention); ok {
		out.Source = in.Source
		out.Key = in.Key
		out.Domain = in.Domain
		out.Severity = in.Severity.String()
		out.Description = in.Description
		out.ScheduledAt = in.ScheduledAt
	}
	return out
}

func printReplay(w io.Writer, r *ReplayResult) {
	fmt.Fprintf(w, "Replayed %d events (%d ticks, %d skipped)", r.Events, r.Ticks, r.Skipped)
	if !r.Start.IsZero() {
		fmt.Fprintf(w, " from %s to %s", r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339))
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w)

	if len(r.Scheduled) == 0 {
		fmt.Fprintln(w, "No interventions scheduled.")
	} else {
		fmt.Fprintf(w, "Interventions scheduled (%d):\n", len(r.Scheduled))
		for _, in := range r.Scheduled {
			target := in.Domain
			if target == "" {
				target = in.Key
			}
			fmt.Fprintf(w, "  %s  %-8s %-20s %s",
				in.ScheduledAt.Format("15:04:05"), in.Severity, in.Source, target)
			fmt.Fprintf(w, "  fires %s\n", in.FireAt.Format("15:04:05"))
			if in.Description != "" {
				fmt.Fprintf(w, "           %s\n", in.Description)
			}
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Decisions: %d scheduled, %d replaced, %d suppressed\n",
		r.Counters.Scheduled, r.Counters.Replaced, r.Counters.Suppressed)

	if len(r.Insights) > 0 {
		fmt.Fprintf(w, "Insights (%d):\n", len(r.Insights))
		for _, in := range r.Insights {
			fmt.Fprintf(w, "  %s  %-8s %s\n", in.Timestamp.Format("15:04:05"), in.Severity, in.Type)
		}
	}

	kinds := make([]string, 0, len(r.Sessions))
	for k := range r.Sessions {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		parts = append(parts, fmt.Sprintf("%s=%d", k, r.Sessions[k]))
	}
	fmt.Fprintf(w, "Live sessions: %s\n", strings.Join(parts, " "))
}
