package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentctl/agentctl/internal/config"
	"github.com/agentctl/agentctl/internal/model"
	"github.com/agentctl/agentctl/internal/scanner"
)

func newScanCmd() *cobra.Command {
	var asProjects bool

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan every configured engine root and print sessions as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			return runScan(cmd, cfg, asProjects)
		},
	}
	config.RegisterServeFlags(cmd.Flags())
	cmd.Flags().BoolVar(&asProjects, "projects", false, "group sessions by project instead of listing them flat")
	return cmd
}

func runScan(cmd *cobra.Command, cfg config.Config, asProjects bool) error {
	var sessions []model.SessionSummary
	roots := cfg.EngineRoots()

	if root, ok := roots[model.EngineA]; ok {
		sessions = append(sessions, scanner.ScanALine(root).Sessions...)
	}
	if root, ok := roots[model.EngineB]; ok {
		sessions = append(sessions, scanner.ScanBLine(root).Sessions...)
	}
	if root, ok := roots[model.EngineC]; ok {
		sessions = append(sessions, scanner.ScanCLine(root).Sessions...)
	}

	opencodeDB, err := openOpenCodeDB(cfg.OpenCodeDBPath)
	if err != nil {
		return fmt.Errorf("opening opencode store: %w", err)
	}
	if opencodeDB != nil {
		defer opencodeDB.Close()
		sessions = append(sessions, scanner.ScanDRelational(opencodeDB, cfg.StateDir).Sessions...)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if asProjects {
		return enc.Encode(scanner.GroupByProject(sessions))
	}
	return enc.Encode(sessions)
}
