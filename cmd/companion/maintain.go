package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// memoryPurger is implemented by repositories that can delete expired memories.
type memoryPurger interface {
	PurgeExpiredMemories(ctx context.Context, before time.Time) (int64, error)
}

func newMaintainCmd() *cobra.Command {
	var schedule string
	cmd := &cobra.Command{
		Use:   "maintain",
		Short: "Purge expired memories, once or on a cron schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			p, ok := a.client.Repository().(memoryPurger)
			if !ok {
				return fmt.Errorf("repository %T cannot purge memories", a.client.Repository())
			}

			if schedule == "" {
				n, err := purge(cmd.Context(), p, a.log)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "purged %d expired memories\n", n)
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c := cron.New()
			if _, err := c.AddFunc(schedule, func() {
				_, _ = purge(ctx, p, a.log)
			}); err != nil {
				return fmt.Errorf("invalid schedule %q: %w", schedule, err)
			}
			c.Start()
			a.log.Info().Str("schedule", schedule).Msg("maintenance scheduled")

			<-ctx.Done()
			<-c.Stop().Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&schedule, "schedule", "", `Cron expression, e.g. "@daily" or "30 3 * * *"`)
	return cmd
}

func purge(ctx context.Context, p memoryPurger, log zerolog.Logger) (int64, error) {
	n, err := p.PurgeExpiredMemories(ctx, time.Now().UTC())
	if err != nil {
		log.Error().Err(err).Msg("memory purge failed")
		return 0, err
	}
	log.Info().Int64("purged", n).Msg("expired memories purged")
	return n, nil
}
