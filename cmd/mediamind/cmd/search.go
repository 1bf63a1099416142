package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mediamind/mediamind/internal/search"
	"github.com/mediamind/mediamind/internal/store"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	limit    int
	mode     string
	fileType string
	scene    string
	after    string
	before   string
	format   string
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search indexed media",
		Long: `Search indexed media using hybrid retrieval.

Combines keyword (FTS5) and semantic (embedding) search with Reciprocal
Rank Fusion. Use --mode to restrict to one retrieval strategy.

Examples:
  mediamind search "birthday party at the beach"
  mediamind search "sunset" --type image --limit 5
  mediamind search "invoice,2024" --mode tag
  mediamind search "hiking" --after 2024-01-01 --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearch(cmd.Context(), cmd, query, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum number of results")
	cmd.Flags().StringVarP(&opts.mode, "mode", "m", "hybrid", "Search mode: hybrid, keyword, semantic, tag")
	cmd.Flags().StringVarP(&opts.fileType, "type", "t", "", "Filter by type: image, video, document")
	cmd.Flags().StringVar(&opts.scene, "scene", "", "Filter by scene type (e.g. beach, office)")
	cmd.Flags().StringVar(&opts.after, "after", "", "Only files modified after this date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.before, "before", "", "Only files modified before this date (YYYY-MM-DD)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	mode := search.Mode(opts.mode)
	// Keyword and tag modes never embed the query, so skip the Ollama
	// round-trip entirely.
	if mode == search.ModeHybrid || mode == search.ModeSemantic {
		if err := a.withAnalyzer(ctx); err != nil {
			return err
		}
	}

	engine, err := a.newEngine()
	if err != nil {
		return err
	}

	filters, err := parseFilters(opts)
	if err != nil {
		return err
	}

	resp, err := engine.Search(ctx, query, search.Options{
		Mode:    mode,
		Limit:   opts.limit,
		Filters: filters,
	})
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if opts.format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	return printResults(cmd, query, resp)
}

func parseFilters(opts searchOptions) (store.Filters, error) {
	var filters store.Filters

	switch opts.fileType {
	case "":
	case "image", "video", "document":
		filters.FileType = store.FileType(opts.fileType)
	default:
		return filters, fmt.Errorf("invalid --type %q: must be image, video or document", opts.fileType)
	}
	filters.SceneType = opts.scene

	if opts.after != "" {
		t, err := time.Parse("2006-01-02", opts.after)
		if err != nil {
			return filters, fmt.Errorf("invalid --after date %q: use YYYY-MM-DD", opts.after)
		}
		filters.After = t
	}
	if opts.before != "" {
		t, err := time.Parse("2006-01-02", opts.before)
		if err != nil {
			return filters, fmt.Errorf("invalid --before date %q: use YYYY-MM-DD", opts.before)
		}
		filters.Before = t
	}
	return filters, nil
}

func printResults(cmd *cobra.Command, query string, resp *search.Response) error {
	if resp.Degraded {
		cmd.Printf("Warning: %s\n\n", resp.DegradedReason)
	}
	if len(resp.Results) == 0 {
		cmd.Printf("No results found for %q\n", query)
		return nil
	}

	cmd.Printf("Found %d results for %q (%s):\n\n", len(resp.Results), query, resp.Elapsed.Round(time.Millisecond))
	for i, r := range resp.Results {
		marker := ""
		if r.InBoth {
			marker = " *"
		}
		cmd.Printf("%d. %s (score: %.2f)%s\n", i+1, r.Record.Path, r.Score, marker)
		if desc := firstLine(r.Record.Description); desc != "" {
			cmd.Printf("   %s\n", desc)
		}
		if len(r.Record.Tags) > 0 {
			cmd.Printf("   tags: %s\n", strings.Join(r.Record.Tags, ", "))
		}
		cmd.Println()
	}
	return nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	const maxLen = 120
	if len(s) > maxLen {
		s = s[:maxLen] + "..."
	}
	return s
}
