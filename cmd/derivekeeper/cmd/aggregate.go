package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/solatis/derivekeeper/internal/aggregator"
	"github.com/solatis/derivekeeper/internal/breaker"
	"github.com/solatis/derivekeeper/internal/core/runs"
	"github.com/solatis/derivekeeper/internal/ruleset"
)

var aggregateCmd = &cobra.Command{
	Use:   "aggregate --rules RULES [flags] DOCUMENT...",
	Short: "Evaluate a rule set over JSON or YAML document files",
	Long: `Reads every DOCUMENT file (a top-level array is a collection, anything else a
single document; "-" reads stdin), evaluates the rule set, and prints the
base document with the derived fields merged in.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAggregate,
}

func init() {
	rootCmd.AddCommand(aggregateCmd)
	aggregateCmd.Flags().String("rules", "", "rule set file (YAML or JSON)")
	aggregateCmd.Flags().String("base", "", "base document to merge derived fields into")
	aggregateCmd.Flags().Int("batch", 0, "documents per batch (0 processes all at once)")
	aggregateCmd.Flags().Bool("auto-batch", false, "use the circuit breaker's suggested batch size")
	aggregateCmd.Flags().Bool("derived-only", false, "print only the derived fields")
	aggregateCmd.Flags().Bool("no-breaker", false, "disable resource governance")
	aggregateCmd.Flags().StringP("output", "o", "json", "output format (json, yaml)")
	_ = aggregateCmd.MarkFlagRequired("rules")
}

func runAggregate(cmd *cobra.Command, args []string) error {
	s, err := loadSession(cmd)
	if err != nil {
		return err
	}
	defer s.logger.Sync()

	flags := cmd.Flags()
	rulesPath, _ := flags.GetString("rules")
	basePath, _ := flags.GetString("base")
	batch, _ := flags.GetInt("batch")
	autoBatch, _ := flags.GetBool("auto-batch")
	derivedOnly, _ := flags.GetBool("derived-only")
	noBreaker, _ := flags.GetBool("no-breaker")
	output, _ := flags.GetString("output")

	rs, err := ruleset.Load(rulesPath)
	if err != nil {
		return err
	}
	ruleCtx, err := rs.Build()
	if err != nil {
		return fmt.Errorf("%s: %w", rulesPath, err)
	}

	docs, err := readCollection(args, cmd.InOrStdin())
	if err != nil {
		return err
	}

	var base map[string]any
	if basePath != "" {
		if base, err = readObject(basePath, cmd.InOrStdin()); err != nil {
			return err
		}
	}

	agg, err := s.newAggregator(noBreaker)
	if err != nil {
		return err
	}

	if autoBatch {
		batch = agg.SuggestBatchSize(docs)
		s.logger.Debug("suggested batch size", zap.Int("batch", batch), zap.Int("documents", len(docs)))
	}
	if batch <= 0 {
		batch = len(docs)
	}

	recorder, closeLedger, err := s.optionalLedger()
	if err != nil {
		return err
	}
	defer closeLedger()

	started := time.Now()
	outcome, aggErr := agg.AggregateInBatches(docs, ruleCtx, base, batch)
	run := &runs.Run{
		Kind:             runs.KindAggregate,
		StartedAtMs:      started.UnixMilli(),
		DocumentCount:    len(docs),
		RuleCount:        ruleCtx.Len(),
		ProcessingMs:     time.Since(started).Milliseconds(),
		RulesFingerprint: rs.Fingerprint,
	}
	if aggErr != nil {
		s.recordRun(cmd.Context(), recorder, run, nil, aggErr)
		return aggErr
	}

	var result any
	if derivedOnly {
		result = outcome.DerivedFields()
	} else if result, err = aggregator.MergeWithBase(outcome); err != nil {
		return err
	}
	s.recordRun(cmd.Context(), recorder, run, outcome.DerivedFields(), nil)

	return writeResult(cmd.OutOrStdout(), result, output)
}

// newAggregator builds an aggregator guarded by the configured breaker.
func (s *session) newAggregator(disabled bool) (*aggregator.Aggregator, error) {
	if disabled {
		return aggregator.NewWithDisabledCircuitBreaker(aggregator.WithLogger(s.logger)), nil
	}
	cb, err := breaker.New(s.cfg.Breaker, breaker.WithLogger(s.logger))
	if err != nil {
		return nil, err
	}
	return aggregator.New(cb, aggregator.WithLogger(s.logger)), nil
}

// recordRun completes run from opErr and writes it to the ledger, if any.
// Ledger failures are logged and do not fail the command.
func (s *session) recordRun(ctx context.Context, recorder runs.Recorder, run *runs.Run, result any, opErr error) {
	if recorder == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	run.Status = runs.StatusFor(opErr)
	run.ErrorKind = runs.ErrorKindFor(opErr)
	if opErr != nil {
		run.ErrorMessage = opErr.Error()
	}
	encoded, err := runs.EncodeResult(result)
	if err != nil {
		s.logger.Warn("failed to encode run result", zap.Error(err))
	}
	run.Result = encoded
	if err := recorder.Record(ctx, run); err != nil {
		s.logger.Warn("failed to record run", zap.Error(err))
		return
	}
	s.logger.Info("run recorded",
		zap.String("run_id", string(run.ID)),
		zap.String("kind", string(run.Kind)),
		zap.String("status", string(run.Status)))
}
