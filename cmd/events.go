/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/leasehold/apiserver/internal/mq"
	"github.com/leasehold/apiserver/types"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Work with rental mutation events",
}

var eventsWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Log every rental event published on the events channel",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadRuntime()
		if err != nil {
			return err
		}

		broker, err := mq.Open(cmd.Context(), cfg.MQ)
		if err != nil {
			return err
		}
		if broker == nil {
			return errors.New("MQ_BACKEND is not set")
		}
		events := mq.NewRentalEvents(broker, cfg.MQ.Channel)
		defer events.Close()

		logger.Info("watching rental events", slog.String("channel", cfg.MQ.Channel))
		err = events.Watch(cmd.Context(), func(ctx context.Context, event types.RentalEvent) error {
			logger.InfoContext(ctx, string(event.Type),
				slog.Int("rental_id", event.RentalID),
				slog.Int("owner_id", event.OwnerID),
				slog.Time("at", event.At),
			)
			return nil
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(eventsWatchCmd)
}
