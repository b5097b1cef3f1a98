package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/solatis/derivekeeper/internal/core/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending run ledger migrations",
	Args:  cobra.NoArgs,
	RunE:  runMigrateUp,
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show applied and pending migrations",
	Args:  cobra.NoArgs,
	RunE:  runMigrateStatus,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateStatusCmd)
}

func runMigrateUp(cmd *cobra.Command, args []string) error {
	s, err := loadSession(cmd)
	if err != nil {
		return err
	}
	defer s.logger.Sync()

	database, _, err := s.openLedger()
	if err != nil {
		return err
	}
	defer database.Close()

	applied, err := db.MigrateUp(database)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	s.logger.Info("migrations applied", zap.Int("count", applied), zap.String("driver", database.DriverName()))
	fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", applied)
	return nil
}

func runMigrateStatus(cmd *cobra.Command, args []string) error {
	s, err := loadSession(cmd)
	if err != nil {
		return err
	}
	defer s.logger.Sync()

	database, _, err := s.openLedger()
	if err != nil {
		return err
	}
	defer database.Close()

	statuses, err := db.MigrateStatus(database)
	if err != nil {
		return err
	}

	table := newTable(cmd.OutOrStdout(), "Migration", "Status", "Applied At")
	for _, st := range statuses {
		state, appliedAt := colorWarn("pending"), "-"
		if st.Applied {
			state = colorOK("applied")
			if st.AppliedAt != nil {
				appliedAt = st.AppliedAt.UTC().Format(time.RFC3339)
			}
		}
		table.Append([]string{st.ID, state, appliedAt})
	}
	table.Render()
	return nil
}
