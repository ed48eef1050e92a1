package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ignite-health/funnel/internal/config"
	"github.com/ignite-health/funnel/internal/jobs"
)

var retentionCmd = &cobra.Command{
	Use:   "retention",
	Short: "Data retention maintenance",
}

var retentionRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Delete unsubscribed subscribers and applications past their retention window",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("config error: %w", err)
		}
		if !cfg.Database.Enabled() {
			return errNoDatabase
		}
		logger := config.NewLogger(cfg.Logging)

		a, err := newApp(cmd.Context(), cfg, logger, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		worker := jobs.RetentionCleanupWorker{
			Subscribers: a.store.Subscribers(),
			Submissions: a.store.Submissions(),
			Config:      cfg.Retention,
			Logger:      logger,
		}
		res, err := worker.Run(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %d subscribers, %d unsubscribe log entries, %d submissions\n",
			res.Subscribers, res.UnsubscribeLog, res.Submissions)
		return nil
	},
}

func init() {
	retentionCmd.AddCommand(retentionRunCmd)
}
