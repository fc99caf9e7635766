package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aws-samples/aws-iam-access-analyzer-kms-blog/internal/storage"
)

var (
	historyStoragePath string
	historyRuns        int
	historyKey         string
	historyOutput      string
)

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded runs and public key history",
	Long: `Show the finding history kept by the daemon: the most recent runs,
the keys that are currently public and when each was first seen.`,
	Example: `  kmscheck history --storage ./kmscheck.db              # Recent runs and public keys
  kmscheck history --runs 20                            # Show the last 20 runs
  kmscheck history --key arn:aws:kms:...:key/1234       # One key's exposure
  kmscheck history --output json                        # Machine readable`,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().StringVar(&historyStoragePath, "storage", "", "History database path (overrides config)")
	historyCmd.Flags().IntVar(&historyRuns, "runs", 10, "Number of recent runs to show")
	historyCmd.Flags().StringVar(&historyKey, "key", "", "Show the history of a single key ARN")
	historyCmd.Flags().StringVarP(&historyOutput, "output", "o", "text", "Output format: text, json")
}

func runHistory(cmd *cobra.Command, args []string) error {
	if historyOutput != "text" && historyOutput != "json" {
		return fmt.Errorf("invalid output format: %s (must be one of: text, json)", historyOutput)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if historyStoragePath != "" {
		cfg.Storage.Path = historyStoragePath
	}
	if cfg.Storage.Path == "" {
		return errors.New("no history database: set storage.path or --storage")
	}

	h, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer func() { _ = h.Close() }()

	out := cmd.OutOrStdout()
	if historyKey != "" {
		return writeKeyHistory(out, h, historyKey, historyOutput)
	}
	return writeHistory(out, h, historyRuns, historyOutput)
}

// historyView is the JSON form of the history command output.
type historyView struct {
	Revision int64               `json:"revision"`
	Runs     []storage.RunRecord `json:"runs"`
	Public   []storage.KeyState  `json:"public"`
}

func buildHistoryView(h *storage.History, limit int) (historyView, error) {
	runs, err := h.Runs()
	if err != nil {
		return historyView{}, err
	}
	if limit > 0 && len(runs) > limit {
		runs = runs[len(runs)-limit:]
	}

	view := historyView{
		Revision: h.CurrentRevision(),
		Runs:     runs,
		Public:   make([]storage.KeyState, 0),
	}
	for _, f := range h.Active() {
		state, err := h.Get(f.ResourceARN)
		if err != nil {
			return historyView{}, err
		}
		view.Public = append(view.Public, state)
	}
	return view, nil
}

func writeHistory(w io.Writer, h *storage.History, limit int, format string) error {
	view, err := buildHistoryView(h, limit)
	if err != nil {
		return err
	}
	if format == "json" {
		return writeJSON(w, view)
	}

	fmt.Fprintf(w, "Revision: %d\n\nRuns:\n", view.Revision)
	if len(view.Runs) == 0 {
		fmt.Fprintln(w, "  none recorded")
	}
	for _, run := range view.Runs {
		fmt.Fprintf(w, "  #%d  %s  %-7s  %d keys, %d public, %d pending\n",
			run.Revision, run.StartedAt.Format("2006-01-02 15:04:05"), run.Status,
			run.Keys, len(run.Findings), len(run.Pending))
	}

	fmt.Fprintf(w, "\nPublic keys (%d):\n", len(view.Public))
	for _, state := range view.Public {
		fmt.Fprintf(w, "  %s\n    first seen: %s (run #%d)\n    last seen:  %s (run #%d)\n",
			state.ResourceARN,
			state.FirstSeen.Format("2006-01-02 15:04:05"), state.FirstSeenRev,
			state.LastSeen.Format("2006-01-02 15:04:05"), state.LastSeenRev)
	}
	return nil
}

func writeKeyHistory(w io.Writer, h *storage.History, arn, format string) error {
	state, err := h.Get(arn)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return fmt.Errorf("no recorded exposure for %s", arn)
	}
	if err != nil {
		return err
	}
	if format == "json" {
		return writeJSON(w, state)
	}

	status := "public"
	if !state.Public {
		status = fmt.Sprintf("resolved (run #%d)", state.ResolvedRev)
	}
	fmt.Fprintf(w, "Key:        %s\n", state.ResourceARN)
	fmt.Fprintf(w, "Status:     %s\n", status)
	fmt.Fprintf(w, "First seen: %s (run #%d)\n", state.FirstSeen.Format("2006-01-02 15:04:05"), state.FirstSeenRev)
	fmt.Fprintf(w, "Last seen:  %s (run #%d)\n", state.LastSeen.Format("2006-01-02 15:04:05"), state.LastSeenRev)
	if len(state.Finding.Actions) > 0 {
		fmt.Fprintf(w, "Actions:    %s\n", strings.Join(state.Finding.Actions, ", "))
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
