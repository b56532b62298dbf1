package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/shunt-ci/shunt/internal/adapters/github"
	"github.com/shunt-ci/shunt/internal/config"
	"github.com/shunt-ci/shunt/internal/dashboard"
	"github.com/shunt-ci/shunt/internal/logging"
	"github.com/shunt-ci/shunt/internal/pipeline"
	"github.com/shunt-ci/shunt/internal/store"
)

func newQueueCmd() *cobra.Command {
	var jsonOutput bool
	var watch bool
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Show the merge queue",
		Long: `Show every pipeline's running candidate, queued PRs and pending
approvals. The store opens in WAL mode, so this works alongside a
running daemon.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := cfgFile
			if configPath == "" {
				configPath = config.DefaultConfigPath()
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if cfg.Database == nil || cfg.Database.Path == "" {
				return fmt.Errorf("database path not configured")
			}

			db, err := store.Open(cfg.Database.Path, github.ParsePr, github.ParseCommit)
			if err != nil {
				return fmt.Errorf("failed to open store: %w", err)
			}
			defer func() { _ = db.Close() }()

			infos := make([]pipeline.PipelineInfo, 0, len(cfg.Projects))
			for _, project := range cfg.Projects {
				infos = append(infos, pipeline.PipelineInfo{
					ID:   pipeline.PipelineID(project.Pipeline),
					Name: project.FullName(),
				})
			}

			fetch := func() ([]pipeline.PipelineSnapshot, error) {
				return pipeline.Snapshot[github.Pr, github.Commit](db, infos)
			}

			if watch {
				// Suppress slog output to keep it out of the alt screen.
				logging.Suppress()
				return dashboard.Run(fetch, interval)
			}

			snaps, err := fetch()
			if err != nil {
				return fmt.Errorf("failed to read queue: %w", err)
			}

			if jsonOutput {
				data, err := json.MarshalIndent(snaps, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to marshal queue: %w", err)
				}
				fmt.Println(string(data))
				return nil
			}

			fmt.Println(dashboard.Table(snaps))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&watch, "watch", false, "Live view, refreshed on a ticker")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Refresh interval for --watch")

	return cmd
}
