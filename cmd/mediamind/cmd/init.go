package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mediamind/mediamind/configs"
	"github.com/mediamind/mediamind/internal/config"
)

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [paths...]",
		Short: "Write a starter config file",
		Long: `Write an annotated starter config file. Any paths given become the
initial scan roots.

Examples:
  mediamind init ~/Pictures ~/Videos
  mediamind init --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := flagConfig
			if path == "" {
				path = defaultConfigPath()
			}
			if path == "" {
				return fmt.Errorf("cannot determine config path: pass --config")
			}

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
			}

			if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
				return fmt.Errorf("failed to create config directory: %w", err)
			}

			content, err := renderConfigTemplate(args, flagDataDir)
			if err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(content), 0644); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}

			cmd.Printf("Wrote config to %s\n", path)
			if len(args) == 0 {
				cmd.Println("Add scan roots under paths.scan, then run 'mediamind index'")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")
	return cmd
}

// renderConfigTemplate substitutes scan roots and the data directory into the
// embedded template, then checks the result still loads cleanly.
func renderConfigTemplate(scanPaths []string, dataDir string) (string, error) {
	content := configs.ConfigTemplate

	if len(scanPaths) > 0 {
		var b strings.Builder
		b.WriteString("  scan:\n")
		for _, p := range scanPaths {
			abs, err := filepath.Abs(p)
			if err != nil {
				return "", fmt.Errorf("failed to resolve %s: %w", p, err)
			}
			b.WriteString("    - " + abs + "\n")
		}
		content = strings.Replace(content, "  scan: []\n", b.String(), 1)
	}
	if dataDir != "" {
		content = strings.Replace(content,
			"  # data_dir: ~/.mediamind\n",
			"  data_dir: "+dataDir+"\n", 1)
	}

	var parsed config.Config
	if err := yaml.Unmarshal([]byte(content), &parsed); err != nil {
		return "", fmt.Errorf("rendered config does not parse: %w", err)
	}
	return content, nil
}
