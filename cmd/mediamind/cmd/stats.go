package cmd

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/mediamind/mediamind/internal/store"
)

func newStatsCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show index statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, s *store.SQLiteStore) error {
				stats, err := s.Stats(ctx)
				if err != nil {
					return err
				}

				if format == "json" {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(stats)
				}

				cmd.Printf("Files:       %d total, %d indexed\n", stats.TotalFiles, stats.IndexedFiles)
				for _, ft := range []store.FileType{store.FileTypeImage, store.FileTypeVideo, store.FileTypeDocument} {
					if n := stats.ByType[ft]; n > 0 {
						cmd.Printf("  %-10s %d\n", string(ft)+":", n)
					}
				}
				cmd.Printf("Collections: %d\n", stats.Collections)
				cmd.Printf("DB size:     %.1f MB\n", float64(stats.DBSizeBytes)/(1024*1024))
				if !stats.LastScanAt.IsZero() {
					cmd.Printf("Last scan:   %s\n", stats.LastScanAt.Format("2006-01-02 15:04:05"))
				}
				if len(stats.TopTags) > 0 {
					cmd.Println("Top tags:")
					for _, t := range stats.TopTags {
						cmd.Printf("  %s (%d)\n", t.Tag, t.Count)
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json")
	return cmd
}
