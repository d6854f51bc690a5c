package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/docyard/internal/db"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBInitCmd())
	return cmd
}

func newDBInitCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create or migrate the Docyard tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBInit(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Docyard config file")
	return cmd
}

func runDBInit(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()
	a, err := loadApp(configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Connected to %s database\n", a.cfg.Database.Driver)

	if err := db.AutoMigrate(a.db); err != nil {
		return err
	}
	fmt.Fprintf(out, "Migrated %d tables\n", len(db.AllModels()))
	return nil
}
