package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"envmanager/internal/cachemanager"
	"envmanager/internal/flags"
	"envmanager/internal/session"
	"envmanager/internal/store"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect recorded sessions",
}

var sessionsAllFlag bool

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions from the session index",
	Long: `List sessions recorded in the JSON session index. With --all and the
session-persistence feature flag enabled, every catalogued run is read
from the SQLite catalog instead.`,
	RunE: runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show the persisted state of one session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)

	sessionsListCmd.Flags().BoolVar(&sessionsAllFlag, "all", false,
		"list every catalogued run from the SQLite catalog")
}

// indexCache wraps index loads so repeated reads inside one invocation
// (list followed by per-session lookups) hit memory.
var indexCache = cachemanager.NewReadThroughCache[string, *session.Index, string](
	cachemanager.NewInMemoryCacheManager[string, *session.Index](
		"session-index", cachemanager.DefaultExpiration, cachemanager.DefaultCleanupInterval),
	func(ctx context.Context, baseDir string) (*session.Index, error) {
		return session.LoadIndex(session.IndexPath(baseDir))
	},
	false,
)

func loadSessionIndex(ctx context.Context) (*session.Index, error) {
	baseDir := cfg.Sessions.BaseDir
	return indexCache.Get(ctx, baseDir, baseDir, time.Minute)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	if sessionsAllFlag {
		return listCataloguedRuns()
	}

	idx, err := loadSessionIndex(cmd.Context())
	if err != nil {
		return fmt.Errorf("loading session index: %w", err)
	}
	if len(idx.Sessions) == 0 {
		fmt.Println("No sessions recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tSTATUS\tSTARTED\tMODEL\tCOST")
	for _, entry := range idx.Sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			entry.ID,
			entry.Status,
			entry.StartTime.Format(time.RFC3339),
			orDash(entry.Model),
			formatCost(entry.TotalCostUSD),
		)
	}
	return w.Flush()
}

func listCataloguedRuns() error {
	if !featureFlags.Enabled(flags.FlagSessionPersistence) {
		return fmt.Errorf("--all requires the session-persistence feature flag")
	}

	db, err := store.NewDB(cfg.ResolvedCatalogPath())
	if err != nil {
		return fmt.Errorf("opening session catalog: %w", err)
	}
	defer db.Close()

	runs, err := db.Runs().List(store.ListFilter{})
	if err != nil {
		return fmt.Errorf("listing catalogued runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Println("No runs catalogued.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tSTATUS\tSTARTED\tENDED\tMODEL\tTOKENS\tCOST")
	for _, run := range runs {
		ended := "-"
		if !run.EndedAt.IsZero() {
			ended = run.EndedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d/%d\t%s\n",
			run.SessionID,
			run.Status,
			run.StartedAt.Format(time.RFC3339),
			ended,
			orDash(run.Model),
			run.InputTokens, run.OutputTokens,
			formatCost(run.CostUSD),
		)
	}
	return w.Flush()
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	sessionID := args[0]

	idx, err := loadSessionIndex(cmd.Context())
	if err != nil {
		return fmt.Errorf("loading session index: %w", err)
	}

	var entry *session.IndexEntry
	for i := range idx.Sessions {
		if idx.Sessions[i].ID == sessionID {
			entry = &idx.Sessions[i]
			break
		}
	}
	if entry == nil {
		return fmt.Errorf("session %q not found", sessionID)
	}

	state, err := session.LoadState(entry.SessionDir)
	if err != nil {
		return fmt.Errorf("loading session state: %w", err)
	}

	out, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("rendering session state: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatCost(costUSD float64) string {
	if costUSD == 0 {
		return "-"
	}
	return fmt.Sprintf("$%.4f", costUSD)
}
