package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mediamind/mediamind/internal/store"
)

func newCollectionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "collection",
		Aliases: []string{"collections"},
		Short:   "Manage named media collections",
		Long: `Manage named collections of indexed media.

Examples:
  mediamind collection create vacation-2024 --description "Summer trip"
  mediamind collection add vacation-2024 ~/Pictures/beach.jpg
  mediamind collection show vacation-2024
  mediamind collection list`,
	}

	cmd.AddCommand(newCollectionCreateCmd())
	cmd.AddCommand(newCollectionListCmd())
	cmd.AddCommand(newCollectionShowCmd())
	cmd.AddCommand(newCollectionAddCmd())
	cmd.AddCommand(newCollectionRemoveCmd())
	cmd.AddCommand(newCollectionDeleteCmd())
	return cmd
}

func newCollectionCreateCmd() *cobra.Command {
	var description string

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, s *store.SQLiteStore) error {
				col, err := s.CreateCollection(ctx, args[0], description)
				if err != nil {
					return err
				}
				cmd.Printf("Created collection %q\n", col.Name)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "Collection description")
	return cmd
}

func newCollectionListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List collections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, s *store.SQLiteStore) error {
				cols, err := s.ListCollections(ctx)
				if err != nil {
					return err
				}
				if len(cols) == 0 {
					cmd.Println("No collections")
					return nil
				}
				for _, c := range cols {
					cmd.Printf("%s (%d items)", c.Name, c.ItemCount)
					if c.Description != "" {
						cmd.Printf(" - %s", c.Description)
					}
					cmd.Println()
				}
				return nil
			})
		},
	}
}

func newCollectionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Show the contents of a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, s *store.SQLiteStore) error {
				col, err := s.GetCollection(ctx, args[0])
				if err != nil {
					return err
				}
				ids, err := s.CollectionItems(ctx, col.Name)
				if err != nil {
					return err
				}
				records, err := s.GetRecords(ctx, ids)
				if err != nil {
					return err
				}

				cmd.Printf("%s (%d items)\n", col.Name, col.ItemCount)
				if col.Description != "" {
					cmd.Printf("%s\n", col.Description)
				}
				for _, r := range records {
					cmd.Printf("  %s\n", r.Path)
				}
				return nil
			})
		},
	}
}

func newCollectionAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <name> <path-or-id>...",
		Short: "Add media to a collection",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, s *store.SQLiteStore) error {
				name := args[0]
				for _, arg := range args[1:] {
					id := resolveID(arg)
					if err := s.AddToCollection(ctx, name, id); err != nil {
						return fmt.Errorf("failed to add %s: %w", arg, err)
					}
				}
				cmd.Printf("Added %d items to %q\n", len(args)-1, name)
				return nil
			})
		},
	}
}

func newCollectionRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name> <path-or-id>...",
		Short: "Remove media from a collection",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, s *store.SQLiteStore) error {
				name := args[0]
				for _, arg := range args[1:] {
					id := resolveID(arg)
					if err := s.RemoveFromCollection(ctx, name, id); err != nil {
						return fmt.Errorf("failed to remove %s: %w", arg, err)
					}
				}
				cmd.Printf("Removed %d items from %q\n", len(args)-1, name)
				return nil
			})
		},
	}
}

func newCollectionDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a collection (keeps the media)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, s *store.SQLiteStore) error {
				if err := s.DeleteCollection(ctx, args[0]); err != nil {
					return err
				}
				cmd.Printf("Deleted collection %q\n", args[0])
				return nil
			})
		},
	}
}

// withStore opens only the metadata store for commands that don't touch the
// vector index or Ollama.
func withStore(ctx context.Context, fn func(context.Context, *store.SQLiteStore) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := store.NewSQLiteStore(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("failed to open metadata store: %w", err)
	}
	defer func() { _ = s.Close() }()
	return fn(ctx, s)
}
