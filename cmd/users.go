/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"fmt"

	"github.com/jjudge-oj/authserver/internal/server"
	"github.com/jjudge-oj/authserver/internal/services"
	"github.com/jjudge-oj/authserver/internal/storage"
	"github.com/spf13/cobra"
)

// usersCmd groups account maintenance commands.
var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage user accounts",
}

var usersExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Upload a JSON snapshot of all accounts to object storage",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		backend, err := storage.NewBackend(ctx, cfg.Storage)
		if errors.Is(err, storage.ErrDisabled) {
			return errors.New("STORAGE_BACKEND must be set to export users")
		}
		if err != nil {
			return fmt.Errorf("connect object storage: %w", err)
		}

		components, err := server.NewComponents(ctx, cfg)
		if err != nil {
			return err
		}
		defer components.DB.Close()

		exporter := services.NewDirectoryExporter(components.Credentials, storage.NewStorage(backend), logger)
		key, err := exporter.Export(ctx)
		if err != nil {
			return fmt.Errorf("export users: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s/%s\n", backend.Bucket(), key)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(usersCmd)
	usersCmd.AddCommand(usersExportCmd)
}
