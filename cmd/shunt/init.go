package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shunt-ci/shunt/internal/config"
)

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := config.DefaultConfigPath()

			if _, err := os.Stat(configPath); err == nil {
				if !force {
					fmt.Printf("⚠️  Config already exists: %s\n", displayPath(configPath))
					fmt.Println()
					fmt.Println("   Options:")
					fmt.Printf("   • Edit:  $EDITOR %s\n", displayPath(configPath))
					fmt.Println("   • Reset: shunt init --force")
					return nil
				}
				backupPath := configPath + ".bak"
				if err := os.Rename(configPath, backupPath); err != nil {
					return fmt.Errorf("failed to backup config: %w", err)
				}
				fmt.Printf("   📦 Backed up existing config to %s\n\n", backupPath)
			}

			cfg := config.DefaultConfig()
			cfg.Projects = []*config.ProjectConfig{
				{
					Pipeline:      1,
					Owner:         "your-org",
					Repo:          "your-repo",
					MasterBranch:  "master",
					StagingBranch: "staging",
					Path:          "~/.shunt/repos/your-repo",
				},
			}

			if err := config.Save(cfg, configPath); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			fmt.Println("   ✅ Initialized!")
			fmt.Printf("   Config: %s\n", displayPath(configPath))
			fmt.Println()
			fmt.Println("   Next steps:")
			fmt.Println("   1. Set github.token, github.bot_user and github.webhook_secret")
			fmt.Println("   2. Point the projects list at your repositories")
			fmt.Println("   3. Run 'shunt serve' and add the webhook to GitHub")

			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Reinitialize config (backs up existing to .bak)")

	return cmd
}

// displayPath shortens the home directory to ~ for display.
func displayPath(path string) string {
	if home, err := os.UserHomeDir(); err == nil {
		return strings.Replace(path, home, "~", 1)
	}
	return path
}
