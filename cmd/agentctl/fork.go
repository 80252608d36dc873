package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentctl/agentctl/internal/config"
	"github.com/agentctl/agentctl/internal/fork"
	"github.com/agentctl/agentctl/internal/model"
)

func newForkCmd() *cobra.Command {
	var (
		parentLogPath string
		beforeLine    int
		afterLine     int
	)

	cmd := &cobra.Command{
		Use:   "fork",
		Short: "Fork an engine A session log at a line cut",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (beforeLine == 0) == (afterLine == 0) {
				return fmt.Errorf("exactly one of --before-line or --after-line must be set")
			}
			cfg, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			cut := model.ForkCut{Kind: model.CutBeforeLine, LineNo: beforeLine}
			if afterLine != 0 {
				cut = model.ForkCut{Kind: model.CutAfterLine, LineNo: afterLine}
			}
			result, err := fork.ForkAtCut(cfg.SessionsDir, parentLogPath, cut)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}

	config.RegisterServeFlags(cmd.Flags())
	cmd.Flags().StringVar(&parentLogPath, "parent", "", "parent session log path")
	cmd.Flags().IntVar(&beforeLine, "before-line", 0, "cut before this line (meta only if <= 2)")
	cmd.Flags().IntVar(&afterLine, "after-line", 0, "cut after this line inclusive")
	cmd.MarkFlagRequired("parent")
	return cmd
}
