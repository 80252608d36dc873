package main

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentctl/agentctl/internal/config"
	"github.com/agentctl/agentctl/internal/tasks"
)

func newTasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Manage the local task backlog",
	}
	cmd.AddCommand(newTasksListCmd(), newTasksCreateCmd(), newTasksGetCmd(), newTasksDeleteCmd())
	return cmd
}

func openTaskDB(cmd *cobra.Command) (*tasks.DB, error) {
	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return nil, err
	}
	return tasks.Open(cfg.DBPath)
}

func newTasksListCmd() *cobra.Command {
	var projectPath string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks, optionally filtered by project",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openTaskDB(cmd)
			if err != nil {
				return err
			}
			defer db.Close()
			list, err := db.List(projectPath)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(list)
		},
	}
	config.RegisterServeFlags(cmd.Flags())
	cmd.Flags().StringVar(&projectPath, "project", "", "filter by project path")
	return cmd
}

func newTasksCreateCmd() *cobra.Command {
	var (
		projectPath string
		body        string
		images      []string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openTaskDB(cmd)
			if err != nil {
				return err
			}
			defer db.Close()
			task, err := db.Create(projectPath, strings.TrimSpace(body), images, time.Now().UnixMilli())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(task)
		},
	}
	config.RegisterServeFlags(cmd.Flags())
	cmd.Flags().StringVar(&projectPath, "project", "", "project path the task belongs to")
	cmd.Flags().StringVar(&body, "body", "", "task body text")
	cmd.Flags().StringSliceVar(&images, "image", nil, "attached image source path, repeatable")
	cmd.MarkFlagRequired("body")
	return cmd
}

func newTasksGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Print one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openTaskDB(cmd)
			if err != nil {
				return err
			}
			defer db.Close()
			task, err := db.Get(args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(task)
		},
	}
	config.RegisterServeFlags(cmd.Flags())
	return cmd
}

func newTasksDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openTaskDB(cmd)
			if err != nil {
				return err
			}
			defer db.Close()
			return db.Delete(args[0])
		},
	}
	config.RegisterServeFlags(cmd.Flags())
	return cmd
}
