package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/orchestra/internal/tasks"
)

func buildTasksCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect the task store",
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML configuration file")

	list := &cobra.Command{
		Use:   "list",
		Short: "List tasks, optionally filtered by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, _ := cmd.Flags().GetString("status")
			store, err := openTaskStore(resolveConfigPath(configPath))
			if err != nil {
				return err
			}
			for _, t := range store.ListTasks(tasks.Status(status), "") {
				fmt.Printf("%-12s %-10s %-8s %s\n", t.ID, t.Status, t.Priority, t.Title)
			}
			return nil
		},
	}
	list.Flags().String("status", "", "filter by status (todo, in_progress, done, ...)")
	cmd.AddCommand(list)

	return cmd
}

func buildStatusCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Summarize the task store's current state",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openTaskStore(resolveConfigPath(configPath))
			if err != nil {
				return err
			}
			all := store.Snapshot()
			counts := map[tasks.Status]int{}
			for _, t := range all {
				counts[t.Status]++
			}
			fmt.Printf("total tasks: %d\n", len(all))
			for status, n := range counts {
				fmt.Printf("  %-16s %d\n", status, n)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML configuration file")
	return cmd
}

func openTaskStore(configPath string) (*tasks.Store, error) {
	cfg, err := loadConfigOrDefault(configPath)
	if err != nil {
		return nil, err
	}
	if cfg.Server.DataDir == "" {
		return tasks.NewStore(""), nil
	}
	return tasks.NewStore(filepath.Join(cfg.Server.DataDir, "tasks.json")), nil
}
