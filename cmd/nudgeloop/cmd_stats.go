package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/nvandessel/nudgeloop/internal/backup"
	"github.com/nvandessel/nudgeloop/internal/config"
	"github.com/nvandessel/nudgeloop/internal/models"
	"github.com/nvandessel/nudgeloop/internal/store"
	"github.com/nvandessel/nudgeloop/internal/utils"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62")).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	countStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	severityStyles = map[string]lipgloss.Style{
		models.SeverityHigh.String():   lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		models.SeverityMedium.String(): lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		models.SeverityLow.String():    lipgloss.NewStyle().Foreground(lipgloss.Color("108")),
	}
)

// topDomains is how many domains stats lists.
const topDomains = 10

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show knowledge graph statistics",
		Long: `Summarize the persisted knowledge graph: node and edge counts, detected
behaviors by signal and severity, the most flagged domains, the intervention
policy table and the snapshot files on disk.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			snapshotPath, _ := cmd.Flags().GetString("snapshot")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			snap, err := loadGraph(cmd.Context(), cfg, snapshotPath)
			if err != nil {
				return err
			}

			summary := summarizeGraph(snap)
			summary.Policies = policyTable(cfg)
			if dataDir, err := cfg.ResolveDataDir(); err == nil {
				if files, err := backup.List(backup.DefaultDir(dataDir)); err == nil {
					summary.SnapshotFiles = len(files)
				}
			}

			if jsonOut {
				return writeJSON(cmd, summary)
			}
			printStats(cmd.OutOrStdout(), summary)
			return nil
		},
	}

	cmd.Flags().String("snapshot", "", "Read the graph from this snapshot file instead of the store")

	return cmd
}

// GraphSummary is the stats report.
type GraphSummary struct {
	ExportedAt    time.Time                 `json:"exported_at,omitzero"`
	NodeCount     int                       `json:"node_count"`
	EdgeCount     int                       `json:"edge_count"`
	NodeTypes     map[string]int            `json:"node_types"`
	EdgeTypes     map[string]int            `json:"edge_types"`
	Behaviors     map[string]map[string]int `json:"behaviors"` // signal kind -> severity -> count
	Patterns      map[string]int            `json:"patterns"`  // insight type -> count
	Domains       []DomainCount             `json:"domains"`
	Policies      map[string]PolicyRow      `json:"policies"`
	SnapshotFiles int                       `json:"snapshot_files"`
}

// DomainCount is the number of behaviors observed on one domain.
type DomainCount struct {
	Domain    string `json:"domain"`
	Behaviors int    `json:"behaviors"`
}

// PolicyRow is one severity's delay and cooldown.
type PolicyRow struct {
	Delay    string `json:"delay"`
	Cooldown string `json:"cooldown"`
}

// summarizeGraph counts what the snapshot holds.
func summarizeGraph(snap store.Snapshot) GraphSummary {
	g := store.NewGraph()
	g.Import(snap)
	st := g.Stats()

	s := GraphSummary{
		ExportedAt: snap.ExportedAt,
		NodeCount:  st.NodeCount,
		EdgeCount:  st.EdgeCount,
		NodeTypes:  make(map[string]int, len(st.NodeTypes)),
		EdgeTypes:  st.EdgeTypes,
		Behaviors:  make(map[string]map[string]int),
		Patterns:   make(map[string]int),
		Domains:    []DomainCount{},
	}
	if s.EdgeTypes == nil {
		s.EdgeTypes = map[string]int{}
	}
	for t, n := range st.NodeTypes {
		s.NodeTypes[string(t)] = n
	}

	perDomain := make(map[string]int)
	for _, n := range g.GetNodesByType(store.NodeBehavior) {
		kind := utils.GetString(n.Metadata, "kind", "")
		sev := utils.GetString(n.Metadata, "severity", "")
		if kind == "" {
			continue
		}
		if s.Behaviors[kind] == nil {
			s.Behaviors[kind] = make(map[string]int)
		}
		s.Behaviors[kind][sev]++
		if d := utils.GetString(n.Metadata, "domain", ""); d != "" {
			perDomain[d]++
		}
	}
	for _, n := range g.GetNodesByType(store.NodePattern) {
		if t := utils.GetString(n.Metadata, "type", ""); t != "" {
			s.Patterns[t]++
		}
	}

	for d, n := range perDomain {
		s.Domains = append(s.Domains, DomainCount{Domain: d, Behaviors: n})
	}
	sort.Slice(s.Domains, func(i, j int) bool {
		if s.Domains[i].Behaviors != s.Domains[j].Behaviors {
			return s.Domains[i].Behaviors > s.Domains[j].Behaviors
		}
		return s.Domains[i].Domain < s.Domains[j].Domain
	})
	if len(s.Domains) > topDomains {
		s.Domains = s.Domains[:topDomains]
	}
	return s
}

func policyTable(cfg *config.Config) map[string]PolicyRow {
	out := make(map[string]PolicyRow)
	for sev, p := range cfg.Policies() {
		out[sev.String()] = PolicyRow{Delay: p.Delay.String(), Cooldown: p.Cooldown.String()}
	}
	return out
}

func printStats(w io.Writer, s GraphSummary) {
	fmt.Fprintln(w, headerStyle.Render("Knowledge graph"))
	if !s.ExportedAt.IsZero() {
		fmt.Fprintln(w, dimStyle.Render("  saved "+s.ExportedAt.Local().Format("2006-01-02 15:04:05")))
	}
	fmt.Fprintf(w, "  %s nodes, %s edges\n",
		countStyle.Render(fmt.Sprint(s.NodeCount)), countStyle.Render(fmt.Sprint(s.EdgeCount)))
	if len(s.NodeTypes) > 0 {
		fmt.Fprintf(w, "  %s\n", dimStyle.Render(joinCounts(s.NodeTypes)))
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, titleStyle.Render("Behaviors"))
	if len(s.Behaviors) == 0 {
		fmt.Fprintln(w, dimStyle.Render("  none recorded"))
	} else {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for _, kind := range sortedKeys(s.Behaviors) {
			row := []string{"  " + kind}
			for _, sev := range []string{"high", "medium", "low"} {
				n := s.Behaviors[kind][sev]
				cell := fmt.Sprintf("%s %d", sev, n)
				if st, ok := severityStyles[sev]; ok && n > 0 {
					cell = st.Render(cell)
				}
				row = append(row, cell)
			}
			fmt.Fprintln(tw, strings.Join(row, "\t"))
		}
		tw.Flush()
	}
	fmt.Fprintln(w)

	if len(s.Patterns) > 0 {
		fmt.Fprintln(w, titleStyle.Render("Patterns"))
		fmt.Fprintf(w, "  %s\n\n", joinCounts(s.Patterns))
	}

	if len(s.Domains) > 0 {
		fmt.Fprintln(w, titleStyle.Render("Top domains"))
		for _, d := range s.Domains {
			fmt.Fprintf(w, "  %-30s %s\n", d.Domain, countStyle.Render(fmt.Sprint(d.Behaviors)))
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, titleStyle.Render("Policies"))
	for _, sev := range []string{"high", "medium", "low"} {
		p, ok := s.Policies[sev]
		if !ok {
			continue
		}
		label := sev
		if st, ok := severityStyles[sev]; ok {
			label = st.Render(fmt.Sprintf("%-6s", sev))
		}
		fmt.Fprintf(w, "  %s delay %-8s cooldown %s\n", label, p.Delay, p.Cooldown)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "%s %d\n", dimStyle.Render("Snapshot files:"), s.SnapshotFiles)
}

func joinCounts(m map[string]int) string {
	parts := make([]string, 0, len(m))
	for _, k := range sortedKeys(m) {
		parts = append(parts, fmt.Sprintf("%s=%d", k, m[k]))
	}
	return strings.Join(parts, " ")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
