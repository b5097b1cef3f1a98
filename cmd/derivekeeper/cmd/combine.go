package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/solatis/derivekeeper/internal/core/runs"
	"github.com/solatis/derivekeeper/internal/strategy"
)

var combineCmd = &cobra.Command{
	Use:   "combine [flags] SOURCE...",
	Short: "Combine source documents with an aggregation strategy",
	Long: `Reads each SOURCE file as one document and combines them with the named
strategy (single, array, merge). Without --strategy, one source uses single
and several use array.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCombine,
}

func init() {
	rootCmd.AddCommand(combineCmd)
	flags := combineCmd.Flags()
	flags.String("strategy", "", "strategy name (single, array, merge)")
	flags.String("array-key", "", "field holding the documents (array strategy)")
	flags.Bool("metadata", false, "include source metadata (array strategy)")
	flags.String("conflict", "", "conflict resolution: first-wins, last-wins, array-combine (merge strategy)")
	flags.Bool("deep", true, "merge nested objects recursively (merge strategy)")
	flags.Bool("preserve-arrays", true, "concatenate arrays instead of treating them as conflicts (merge strategy)")
	flags.StringP("output", "o", "json", "output format (json, yaml)")
}

func runCombine(cmd *cobra.Command, args []string) error {
	s, err := loadSession(cmd)
	if err != nil {
		return err
	}
	defer s.logger.Sync()

	sources, err := readSources(args, cmd.InOrStdin())
	if err != nil {
		return err
	}

	service := strategy.NewService(s.logger)
	flags := cmd.Flags()
	name, _ := flags.GetString("strategy")
	if name == "" {
		name = service.SelectBestStrategy(sources)
	}

	opts, err := service.GetStrategyConfiguration(name)
	if err != nil {
		return err
	}
	if flags.Changed("array-key") {
		opts.ArrayKey, _ = flags.GetString("array-key")
	}
	if flags.Changed("metadata") {
		opts.IncludeMetadata, _ = flags.GetBool("metadata")
	}
	if flags.Changed("conflict") {
		conflict, _ := flags.GetString("conflict")
		opts.ConflictResolution = strategy.ConflictResolution(conflict)
	}
	if flags.Changed("deep") {
		opts.DeepMerge, _ = flags.GetBool("deep")
	}
	if flags.Changed("preserve-arrays") {
		opts.PreserveArrays, _ = flags.GetBool("preserve-arrays")
	}

	recorder, closeLedger, err := s.optionalLedger()
	if err != nil {
		return err
	}
	defer closeLedger()

	started := time.Now()
	result, combineErr := service.Aggregate(sources, name, &opts)
	run := &runs.Run{
		Kind:          runs.KindCombine,
		StartedAtMs:   started.UnixMilli(),
		DocumentCount: len(sources),
		ProcessingMs:  time.Since(started).Milliseconds(),
	}
	s.recordRun(cmd.Context(), recorder, run, result, combineErr)
	if combineErr != nil {
		return combineErr
	}

	output, _ := flags.GetString("output")
	return writeResult(cmd.OutOrStdout(), result, output)
}
