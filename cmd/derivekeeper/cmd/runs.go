package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/solatis/derivekeeper/internal/core/runs"
	"github.com/solatis/derivekeeper/internal/types"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect the run ledger",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show RUN_ID",
	Short: "Print one run with its stored result",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count runs by status",
	Args:  cobra.NoArgs,
	RunE:  runRunsStats,
}

var runsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete runs older than a retention window",
	Args:  cobra.NoArgs,
	RunE:  runRunsPrune,
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd, runsShowCmd, runsStatsCmd, runsPruneCmd)

	runsListCmd.Flags().String("status", "", "filter by status (succeeded, failed, rejected)")
	runsListCmd.Flags().Int("limit", runs.DefaultListLimit, "maximum runs to list")
	runsShowCmd.Flags().StringP("output", "o", "json", "output format (json, yaml)")
	runsPruneCmd.Flags().Duration("older-than", 30*24*time.Hour, "delete runs started before now minus this duration")
}

func runRunsList(cmd *cobra.Command, args []string) error {
	s, err := loadSession(cmd)
	if err != nil {
		return err
	}
	defer s.logger.Sync()

	status, _ := cmd.Flags().GetString("status")
	switch runs.Status(status) {
	case "", runs.StatusSucceeded, runs.StatusFailed, runs.StatusRejected:
	default:
		return fmt.Errorf("unknown status %q", status)
	}
	limit, _ := cmd.Flags().GetInt("limit")

	database, store, err := s.openLedger()
	if err != nil {
		return err
	}
	defer database.Close()

	list, err := store.List(cmd.Context(), runs.Status(status), limit)
	if err != nil {
		return err
	}

	table := newTable(cmd.OutOrStdout(), "Run ID", "Kind", "Status", "Started", "Docs", "Rules", "Ms", "Error")
	for _, r := range list {
		table.Append([]string{
			string(r.ID), string(r.Kind), statusCell(r.Status), r.StartedAt().Format(time.RFC3339),
			strconv.Itoa(r.DocumentCount), strconv.Itoa(r.RuleCount),
			strconv.FormatInt(r.ProcessingMs, 10), r.ErrorKind,
		})
	}
	table.Render()
	return nil
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	s, err := loadSession(cmd)
	if err != nil {
		return err
	}
	defer s.logger.Sync()

	id, err := types.ParseRunID(args[0])
	if err != nil {
		return fmt.Errorf("invalid run id %q: %w", args[0], err)
	}

	database, store, err := s.openLedger()
	if err != nil {
		return err
	}
	defer database.Close()

	run, err := store.Get(cmd.Context(), id)
	if err != nil {
		return err
	}
	result, err := run.DecodeResult()
	if err != nil {
		return err
	}

	view := map[string]any{
		"runId":            string(run.ID),
		"kind":             string(run.Kind),
		"status":           string(run.Status),
		"startedAt":        run.StartedAt().Format(time.RFC3339Nano),
		"documentCount":    run.DocumentCount,
		"ruleCount":        run.RuleCount,
		"processingMs":     run.ProcessingMs,
		"rulesFingerprint": run.RulesFingerprint,
		"result":           result,
	}
	if run.ErrorKind != "" || run.ErrorMessage != "" {
		view["error"] = map[string]any{"kind": run.ErrorKind, "message": run.ErrorMessage}
	}

	output, _ := cmd.Flags().GetString("output")
	return writeResult(cmd.OutOrStdout(), view, output)
}

func runRunsStats(cmd *cobra.Command, args []string) error {
	s, err := loadSession(cmd)
	if err != nil {
		return err
	}
	defer s.logger.Sync()

	database, store, err := s.openLedger()
	if err != nil {
		return err
	}
	defer database.Close()

	counts, err := store.Counts(cmd.Context())
	if err != nil {
		return err
	}

	table := newTable(cmd.OutOrStdout(), "Status", "Runs")
	var total int64
	for _, c := range counts {
		table.Append([]string{statusCell(c.Status), strconv.FormatInt(c.Total, 10)})
		total += c.Total
	}
	table.SetFooter([]string{"total", strconv.FormatInt(total, 10)})
	table.Render()
	return nil
}

func runRunsPrune(cmd *cobra.Command, args []string) error {
	s, err := loadSession(cmd)
	if err != nil {
		return err
	}
	defer s.logger.Sync()

	olderThan, _ := cmd.Flags().GetDuration("older-than")
	if olderThan <= 0 {
		return fmt.Errorf("--older-than must be positive")
	}

	database, store, err := s.openLedger()
	if err != nil {
		return err
	}
	defer database.Close()

	removed, err := store.Prune(cmd.Context(), time.Now().Add(-olderThan))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "pruned %d run(s)\n", removed)
	return nil
}
