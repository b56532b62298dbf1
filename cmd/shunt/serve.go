package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shunt-ci/shunt/internal/adapters/ci"
	"github.com/shunt-ci/shunt/internal/adapters/git"
	"github.com/shunt-ci/shunt/internal/adapters/github"
	"github.com/shunt-ci/shunt/internal/config"
	"github.com/shunt-ci/shunt/internal/gateway"
	"github.com/shunt-ci/shunt/internal/logging"
	"github.com/shunt-ci/shunt/internal/pipeline"
	"github.com/shunt-ci/shunt/internal/store"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the merge queue daemon",
		Long: `Run the merge queue daemon: webhook gateway, pipeline engines and the
GitHub, git and CI workers. Stops on SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := cfgFile
			if configPath == "" {
				configPath = config.DefaultConfigPath()
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			if err := logging.Init(cfg.Logging); err != nil {
				return fmt.Errorf("failed to init logging: %w", err)
			}

			fmt.Printf("🚂 Shunt %s\n", version)
			fmt.Printf("   Gateway:   http://%s:%d\n", cfg.Gateway.Host, cfg.Gateway.Port)
			fmt.Printf("   Webhook:   POST /webhooks/github\n")
			fmt.Printf("   Pipelines: %d\n", len(cfg.Projects))
			fmt.Println()

			return runServe(cfg)
		},
	}
}

func runServe(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logging.Info("shutting down")
		cancel()
	}()

	db, err := store.Open(cfg.Database.Path, github.ParsePr, github.ParseCommit)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() { _ = db.Close() }()

	runner := pipeline.NewRunner[github.Pr, github.Commit](db)

	projects := make([]github.Project, 0, len(cfg.Projects))
	infos := make([]pipeline.PipelineInfo, 0, len(cfg.Projects))
	repos := make([]*git.Repo, 0, len(cfg.Projects))
	for _, project := range cfg.Projects {
		id := pipeline.PipelineID(project.Pipeline)
		runner.AddPipeline(id)
		projects = append(projects, github.Project{
			Pipeline: id,
			Owner:    project.Owner,
			Repo:     project.Repo,
		})
		infos = append(infos, pipeline.PipelineInfo{ID: id, Name: project.FullName()})
		repos = append(repos, &git.Repo{
			Pipeline:      id,
			Path:          project.Path,
			URL:           cloneURL(cfg.GitHub, project),
			MasterBranch:  project.MasterBranch,
			StagingBranch: project.StagingBranch,
		})
	}

	var client *github.Client
	if cfg.GitHub.BaseURL != "" {
		client = github.NewClientWithBaseURL(cfg.GitHub.Token, cfg.GitHub.BaseURL)
	} else {
		client = github.NewClient(cfg.GitHub.Token)
	}

	uiWorker := github.NewWorker(client, cfg.GitHub.BotUser, projects, runner.Events())
	vcsWorker := git.NewWorker[github.Pr, github.Commit](repos, runner.Events(), github.ParseCommit)

	var pollInterval, buildTimeout time.Duration
	var requiredChecks []string
	if cfg.CI != nil {
		pollInterval = cfg.CI.PollInterval
		buildTimeout = cfg.CI.BuildTimeout
		requiredChecks = cfg.CI.RequiredChecks
	}
	ciWatcher := ci.NewWatcher[github.Pr, github.Commit](client, projects, runner.Events(),
		pollInterval, buildTimeout, requiredChecks)

	snapshots := func() ([]pipeline.PipelineSnapshot, error) {
		return pipeline.Snapshot[github.Pr, github.Commit](db, infos)
	}

	server := gateway.NewServer(cfg.Gateway,
		gateway.WithDispatcher(uiWorker),
		gateway.WithSnapshots(snapshots),
		gateway.WithWebhookSecret(cfg.GitHub.WebhookSecret),
	)

	runner.SetOnChange(func(pipeline.PipelineID) {
		snaps, err := snapshots()
		if err != nil {
			logging.Warn("snapshot after transition failed", slog.Any("error", err))
			return
		}
		server.Broadcast(snaps)
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		uiWorker.Run(ctx, runner.UICommands())
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		vcsWorker.Run(ctx, runner.VCSCommands())
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		ciWatcher.Run(ctx, runner.CICommands())
	}()

	if cfg.Resync != nil && cfg.Resync.Enabled {
		reconciler := github.NewReconciler(client, projects, runner.Events(),
			cfg.Resync.Schedule, cfg.Resync.Timezone)
		if err := reconciler.Start(ctx); err != nil {
			return fmt.Errorf("failed to start resync: %w", err)
		}
		defer reconciler.Stop()
	}

	// First of gateway/runner to fail brings the daemon down; both exit
	// cleanly on cancel.
	errCh := make(chan error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		errCh <- server.Start(ctx)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		errCh <- runner.Run(ctx)
	}()

	logging.Info("shunt started",
		slog.String("gateway", fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)),
		slog.Int("pipelines", len(cfg.Projects)),
	)

	err = <-errCh
	cancel()
	wg.Wait()
	return err
}

// cloneURL builds the push remote for a project. The token, when present,
// is embedded for push access; clone_url in the config overrides this for
// ssh remotes.
func cloneURL(gh *config.GitHubConfig, project *config.ProjectConfig) string {
	if project.CloneURL != "" {
		return project.CloneURL
	}
	if gh != nil && gh.Token != "" {
		return fmt.Sprintf("https://x-access-token:%s@github.com/%s/%s.git", gh.Token, project.Owner, project.Repo)
	}
	return fmt.Sprintf("https://github.com/%s/%s.git", project.Owner, project.Repo)
}
