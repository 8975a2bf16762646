/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/nexocrm/authsvc/internal/server"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

// serverCmd represents the server command
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Starts the auth service HTTP server",
	Long: `Starts the auth service HTTP server. Usage:

	authsvc server
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		srv, err := server.New(ctx, cfg)
		if err != nil {
			log.Error().Err(err).Msg("failed to start server")
			return err
		}

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.Start()
		}()

		select {
		case err := <-errCh:
			if err != nil {
				log.Error().Err(err).Msg("server error")
			}
			return err
		case <-ctx.Done():
		}

		log.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("graceful shutdown failed")
			return err
		}
		log.Info().Msg("server exited")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
