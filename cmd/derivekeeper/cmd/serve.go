package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/solatis/derivekeeper/internal/core/api"
	"github.com/solatis/derivekeeper/internal/core/server"
	"github.com/solatis/derivekeeper/internal/strategy"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gRPC aggregation service",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "0.0.0.0", "gRPC server host")
	serveCmd.Flags().Int("port", 50051, "gRPC server port")
}

func runServe(cmd *cobra.Command, args []string) error {
	s, err := loadSession(cmd)
	if err != nil {
		return err
	}
	defer s.logger.Sync()

	if cmd.Flags().Changed("host") {
		s.cfg.Server.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		s.cfg.Server.Port, _ = cmd.Flags().GetInt("port")
	}

	agg, err := s.newAggregator(false)
	if err != nil {
		return err
	}

	opts := []api.Option{
		api.WithLogger(s.logger),
		api.WithMaxDocuments(s.cfg.Server.MaxDocuments),
	}
	recorder, closeLedger, err := s.optionalLedger()
	if err != nil {
		return err
	}
	defer closeLedger()
	if recorder != nil {
		opts = append(opts, api.WithRecorder(recorder))
	}

	service, err := api.NewService(agg, strategy.NewService(s.logger), opts...)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	grpcServer, err := server.NewGRPCServer(&s.cfg.Server, service, s.logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s.logger.Info("starting derivekeeper",
		zap.String("version", Version),
		zap.String("host", s.cfg.Server.Host),
		zap.Int("port", s.cfg.Server.Port),
		zap.Bool("ledger", recorder != nil))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return grpcServer.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down gracefully")
		return grpcServer.Shutdown(context.Background())
	})
	return g.Wait()
}
