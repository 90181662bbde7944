package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/Iron-Ham/groundsync/internal/config"
	"github.com/Iron-Ham/groundsync/internal/flight"
	"github.com/Iron-Ham/groundsync/internal/runlock"
	"github.com/Iron-Ham/groundsync/internal/snapshot"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last saved flight state",
	Long: `Display the flight phase, its transition history and the last phase
prediction from the snapshot store. Nothing needs to be running.`,
	RunE: runStatus,
}

var (
	statusJSON   bool // Output as JSON
	statusRecent int
	statusWatch  bool
)

const recentSnapshots = 5

// maxReasonWidth keeps a history row on one line; failure reasons carry
// whole error chains.
const maxReasonWidth = 60

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output the snapshot as JSON")
	statusCmd.Flags().IntVar(&statusRecent, "recent", recentSnapshots, "Number of stored snapshots to list (sqlite backend)")
	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "Redraw whenever a new snapshot is saved")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := snapshot.Open(cfg.Snapshot, nil)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := cmd.OutOrStdout()

	if err := printStatus(ctx, out, store); err != nil || !statusWatch {
		return err
	}

	if _, isNop := store.(snapshot.NopStore); isNop {
		return fmt.Errorf("--watch needs a snapshot backend, have %q", cfg.Snapshot.Backend)
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	w, err := snapshot.NewWatcher(cfg.Snapshot.ResolvePath(), snapshot.DefaultDebounce, nil)
	if err != nil {
		return fmt.Errorf("failed to watch snapshots: %w", err)
	}
	return w.Run(ctx, func() {
		fmt.Fprintln(out)
		if err := printStatus(ctx, out, store); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %v\n", err)
		}
	})
}

func printStatus(ctx context.Context, out io.Writer, store snapshot.Store) error {
	snap, ok := store.Load(ctx)
	if !ok {
		fmt.Fprintln(out, "No saved flight state")
		return nil
	}
	if statusJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}

	var recent []snapshot.Entry
	if sq, isSQL := store.(*snapshot.SQLiteStore); isSQL && statusRecent > 0 {
		var err error
		if recent, err = sq.Recent(ctx, statusRecent); err != nil {
			return fmt.Errorf("failed to list snapshots: %w", err)
		}
	}

	fmt.Fprint(out, renderStatus(snap, recent, newStatusStyles(isTerminal(out)), time.Now()))
	if holder, running := runlock.Holder(config.ConfigDir()); running {
		fmt.Fprintf(out, "\nRunning: PID %d on %s (%s transport) since %s\n",
			holder.PID, holder.Hostname, holder.Transport, holder.StartedAt.Format("15:04:05"))
	}
	return nil
}

type statusStyles struct {
	title lipgloss.Style
	label lipgloss.Style
	phase lipgloss.Style
	faint lipgloss.Style
}

func newStatusStyles(color bool) statusStyles {
	if !color {
		plain := lipgloss.NewStyle()
		return statusStyles{title: plain, label: plain, phase: plain, faint: plain}
	}
	return statusStyles{
		title: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		label: lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		phase: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10")),
		faint: lipgloss.NewStyle().Faint(true),
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

var titleCase = cases.Title(language.English)

// phaseName renders a phase for people, e.g. "Turnaround".
func phaseName(p flight.Phase) string {
	return titleCase.String(strings.ToLower(p.String()))
}

func renderStatus(snap flight.Snapshot, recent []snapshot.Entry, st statusStyles, now time.Time) string {
	var b strings.Builder
	row := func(label, value string) {
		fmt.Fprintf(&b, "%s %s\n", st.label.Render(fmt.Sprintf("%-14s", label+":")), value)
	}

	b.WriteString(st.title.Render("Flight state"))
	b.WriteString("\n\n")
	row("Phase", st.phase.Render(phaseName(snap.Phase)))
	if !snap.EnteredAt.IsZero() {
		row("Entered", snap.EnteredAt.Format("2006-01-02 15:04:05"))
	}
	if !snap.SavedAt.IsZero() {
		row("Saved", fmt.Sprintf("%s (%s ago)", snap.SavedAt.Format("2006-01-02 15:04:05"),
			now.Sub(snap.SavedAt).Truncate(time.Second)))
	}
	if snap.PredictedNext != nil {
		row("Next", fmt.Sprintf("%s (%.0f%%)", phaseName(*snap.PredictedNext), snap.PredictedConfidence*100))
	}

	b.WriteString("\n")
	b.WriteString(st.title.Render(fmt.Sprintf("History (%d)", len(snap.History))))
	b.WriteString("\n")
	if len(snap.History) == 0 {
		b.WriteString(st.faint.Render("  no transitions yet"))
		b.WriteString("\n")
	}
	for _, rec := range snap.History {
		fmt.Fprintf(&b, "  %s  %s -> %s  %s\n",
			rec.At.Format("15:04:05"), phaseName(rec.From), phaseName(rec.To),
			st.faint.Render(ansi.Truncate(rec.Reason, maxReasonWidth, "...")))
	}

	if len(recent) > 0 {
		b.WriteString("\n")
		b.WriteString(st.title.Render("Stored snapshots"))
		b.WriteString("\n")
		for _, e := range recent {
			fmt.Fprintf(&b, "  #%d  %s  %s\n", e.ID, e.SavedAt.Format("2006-01-02 15:04:05"), e.Phase)
		}
	}
	return b.String()
}
