package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/agentctl/agentctl/internal/config"
	"github.com/agentctl/agentctl/internal/model"
	"github.com/agentctl/agentctl/internal/supervisor"
)

func newSpawnCmd() *cobra.Command {
	var (
		engine      string
		projectPath string
		prompt      string
		tty         bool
		resumeID    string
		extraArgs   string
	)

	cmd := &cobra.Command{
		Use:   "spawn",
		Short: "Spawn one agent process and print its process record",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			ioMode := model.IOPipes
			if tty {
				ioMode = model.IOTty
			}
			sup := supervisor.New(cfg.StateDir, cfg.EngineRoots())
			rec, err := sup.Spawn(supervisor.SpawnOptions{
				Engine:          model.SessionEngine(engine),
				ProjectPath:     projectPath,
				Prompt:          prompt,
				IOMode:          ioMode,
				ResumeSessionID: resumeID,
				ExtraArgs:       extraArgs,
			})
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		},
	}

	config.RegisterServeFlags(cmd.Flags())
	cmd.Flags().StringVar(&engine, "engine", "A", "session engine: A, B, C or D")
	cmd.Flags().StringVar(&projectPath, "project", "", "project directory the agent runs in")
	cmd.Flags().StringVar(&prompt, "prompt", "", "initial prompt")
	cmd.Flags().BoolVar(&tty, "tty", false, "attach a PTY instead of piping stdio")
	cmd.Flags().StringVar(&resumeID, "resume", "", "engine A session id to resume")
	cmd.Flags().StringVar(&extraArgs, "extra-args", "", "extra shell-style arguments passed to the engine binary")
	cmd.MarkFlagRequired("project")
	return cmd
}
