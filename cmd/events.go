/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jjudge-oj/authserver/internal/mq"
	"github.com/jjudge-oj/authserver/internal/services"
	"github.com/spf13/cobra"
)

// eventsCmd groups account event commands.
var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect account events",
}

var eventsTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Log account events as they are published",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		backend, err := mq.NewBackend(ctx, cfg.MQ)
		if errors.Is(err, mq.ErrDisabled) {
			return errors.New("MQ_BACKEND must be set to tail events")
		}
		if err != nil {
			return fmt.Errorf("connect message broker: %w", err)
		}
		queue := mq.New(backend)
		defer queue.Close()

		logger.Info("tailing account events", "backend", cfg.MQ.Backend, "channel", cfg.MQ.Channel)
		err = queue.Subscribe(ctx, cfg.MQ.Channel, func(ctx context.Context, msg mq.Message) error {
			event, err := services.DecodeEvent(msg)
			if err != nil {
				// Unreadable payloads are acknowledged so they do not loop.
				logger.Warn("skipping malformed event", "id", msg.ID, "error", err)
				return nil
			}
			logger.Info("account event",
				"id", msg.ID,
				"type", event.Type,
				"email", event.Email,
				"roles", event.Roles,
				"permissions", event.Permissions,
				"actor", event.Actor,
				"occurred_at", event.OccurredAt,
			)
			return nil
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(eventsTailCmd)
}
