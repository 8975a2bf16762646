/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/nexocrm/authsvc/internal/mq"
	"github.com/nexocrm/authsvc/types"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// eventsCmd groups commands for the user events channel.
var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect user lifecycle events",
}

var eventsTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print user events as JSON lines until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		broker, err := mq.Open(ctx, cfg.MQ)
		if err != nil {
			if errors.Is(err, mq.ErrNotConfigured) {
				return errors.New("MQ_BACKEND is not set")
			}
			return err
		}
		events := mq.NewUserEvents(broker, cfg.MQ.UserEventsChannel)
		defer events.Close()

		out := json.NewEncoder(cmd.OutOrStdout())
		log.Info().Str("channel", cfg.MQ.UserEventsChannel).Msg("tailing user events")
		err = events.Tail(ctx, func(event types.UserEvent, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("skipping malformed user event")
				return
			}
			if encErr := out.Encode(event); encErr != nil {
				log.Error().Err(encErr).Msg("failed to write event")
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("tail %s: %w", cfg.MQ.UserEventsChannel, err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(eventsTailCmd)
}
