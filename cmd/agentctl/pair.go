package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentctl/agentctl/internal/config"
	"github.com/agentctl/agentctl/internal/remote"
)

func newPairCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pair",
		Short: "Generate a one-time pairing code for a new remote device",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			store := remote.NewPairingStore(cfg.StateDir)
			guid, rec, err := store.Create()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "guid:  %s\ncode:  %s\nexpires: %s\n", guid, rec.Code, rec.ExpiresAt.Format("15:04:05"))
			return nil
		},
	}
	config.RegisterServeFlags(cmd.Flags())
	return cmd
}
