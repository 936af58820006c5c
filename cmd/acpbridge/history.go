package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/HyphaGroup/acpbridge/internal/history"
)

var (
	historyJSON  bool
	historyLimit int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect recorded session transcripts",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded sessions, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openHistory()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		sessions, err := store.ListSessions(historyLimit)
		if err != nil {
			return err
		}
		if historyJSON {
			return writeJSON(cmd.OutOrStdout(), sessions)
		}
		printSessions(cmd.OutOrStdout(), sessions)
		return nil
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show the turns of one session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openHistory()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		rec, err := store.GetSession(args[0])
		if errors.Is(err, history.ErrSessionNotFound) {
			return fmt.Errorf("no recorded session %s", args[0])
		}
		if err != nil {
			return err
		}
		turns, err := store.ListTurns(rec.ID)
		if err != nil {
			return err
		}
		if historyJSON {
			return writeJSON(cmd.OutOrStdout(), map[string]any{"session": rec, "turns": turns})
		}
		printTranscript(cmd.OutOrStdout(), rec, turns)
		return nil
	},
}

func init() {
	historyCmd.PersistentFlags().BoolVar(&historyJSON, "json", false, "Output as JSON")
	historyListCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum sessions to list (0 for all)")

	historyCmd.AddCommand(historyListCmd, historyShowCmd)
	rootCmd.AddCommand(historyCmd)
}

func openHistory() (*history.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return history.NewStore(cfg.History.Path)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printSessions(w io.Writer, sessions []*history.SessionRecord) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No recorded sessions.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tCREATED\tTURNS\tSTATUS\tCWD")
	for _, s := range sessions {
		status := "open"
		if s.ClosedAt != nil {
			status = "closed " + s.ClosedAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", s.ID, s.CreatedAt.Local().Format(time.DateTime), s.TurnCount, status, s.WorkingDir)
	}
	_ = tw.Flush()
}

func printTranscript(w io.Writer, rec *history.SessionRecord, turns []*history.Turn) {
	fmt.Fprintf(w, "Session %s\n", rec.ID)
	fmt.Fprintf(w, "  cwd:     %s\n", rec.WorkingDir)
	fmt.Fprintf(w, "  created: %s\n", rec.CreatedAt.Local().Format(time.DateTime))
	for k, v := range rec.Metadata {
		fmt.Fprintf(w, "  %s: %s\n", k, v)
	}

	for i, t := range turns {
		fmt.Fprintf(w, "\n[%d] %s  %s  %d tokens  %s\n", i+1, t.StartedAt.Local().Format(time.TimeOnly), t.StopReason, t.Tokens, t.Duration.Round(time.Millisecond))
		fmt.Fprintf(w, "> %s\n", indent(t.Prompt))
		for _, l := range t.ResourceLinks {
			fmt.Fprintf(w, "  @ %s\n", l)
		}
		fmt.Fprintln(w, indent(t.Reply))
		if t.Error != "" {
			fmt.Fprintf(w, "  ! %s\n", t.Error)
		}
	}
}

func indent(s string) string {
	return strings.ReplaceAll(s, "\n", "\n  ")
}
