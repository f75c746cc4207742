package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sweetline/sales-assistant/pkg/audit"
	"github.com/sweetline/sales-assistant/pkg/config"
	"github.com/sweetline/sales-assistant/pkg/services"
)

var errInvalidSQL = errors.New("query rejected by firewall")

var validateSQLCmd = &cobra.Command{
	Use:   "validate-sql <query>",
	Short: "Check a statement against the SQL firewall without running it",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath, Version)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		logger := zap.NewNop()
		firewall := services.NewSecureQueryService(nil, audit.NewSecurityAuditor(logger), cfg.Firewall, logger)

		query := strings.Join(args, " ")
		if err := firewall.Validate(query); err != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "invalid: %v\n", err)
			return errInvalidSQL
		}
		fmt.Fprintln(cmd.OutOrStdout(), "valid")
		return nil
	},
}
