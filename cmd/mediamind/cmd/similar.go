package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mediamind/mediamind/internal/index"
)

func newSimilarCmd() *cobra.Command {
	var limit int
	var format string

	cmd := &cobra.Command{
		Use:   "similar <path-or-id>",
		Short: "Find media similar to a given file",
		Long: `Find indexed media most similar to the given file, by embedding
distance. The argument is either a file path or a record id from a
previous search.

Examples:
  mediamind similar ~/Pictures/beach.jpg
  mediamind similar a1b2c3d4e5f60718 -n 5`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimilar(cmd.Context(), cmd, args[0], limit, format)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json")
	return cmd
}

func runSimilar(ctx context.Context, cmd *cobra.Command, arg string, limit int, format string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	engine, err := a.newEngine()
	if err != nil {
		return err
	}

	id := resolveID(arg)
	results, err := engine.FindSimilar(ctx, id, limit)
	if err != nil {
		return fmt.Errorf("similar search failed: %w", err)
	}

	if format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	if len(results) == 0 {
		cmd.Printf("No similar media found for %s\n", arg)
		return nil
	}
	cmd.Printf("Media similar to %s:\n\n", arg)
	for i, r := range results {
		cmd.Printf("%d. %s (score: %.2f)\n", i+1, r.Record.Path, r.Score)
		if desc := firstLine(r.Record.Description); desc != "" {
			cmd.Printf("   %s\n", desc)
		}
	}
	return nil
}

// resolveID maps a path argument to its record id; an argument that doesn't
// exist on disk is taken as a record id directly.
func resolveID(arg string) string {
	if abs, err := filepath.Abs(arg); err == nil {
		if _, statErr := os.Stat(abs); statErr == nil {
			return index.GenerateFileID(abs)
		}
	}
	return strings.TrimSpace(arg)
}
