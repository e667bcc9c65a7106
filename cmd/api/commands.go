package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/persona-relay/backend/internal/config"
	"github.com/zhouzirui/persona-relay/backend/internal/storage"
	"github.com/zhouzirui/persona-relay/backend/internal/storage/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		switch cfg.Storage.Driver {
		case config.StoragePostgres:
			pg, err := postgres.Open(ctx, cfg.Storage.DatabaseURL)
			if err != nil {
				return err
			}
			defer pg.Close()
			ran, err := pg.Migrate(ctx)
			if err != nil {
				return err
			}
			if len(ran) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			}
			for _, name := range ran {
				fmt.Fprintln(cmd.OutOrStdout(), "applied", name)
			}
			return nil
		case config.StorageSQLite:
			store, err := openStore(ctx, cfg.Storage, false)
			if err != nil {
				return err
			}
			defer store.Close()
			fmt.Fprintln(cmd.OutOrStdout(), "sqlite schema ready at", cfg.Storage.SQLitePath)
			return nil
		default:
			fmt.Fprintln(cmd.OutOrStdout(), "nothing to migrate for driver", cfg.Storage.Driver)
			return nil
		}
	},
}

var personasCmd = &cobra.Command{
	Use:   "personas",
	Short: "List the persona catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := loadPersonas(cfg)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "KEY\tNAME\tTEMP\tTOP_P\tTOP_K\tMAX_TOKENS")
		for _, p := range store.List() {
			fmt.Fprintf(tw, "%s\t%s\t%.2f\t%.2f\t%d\t%d\n", p.Key, p.Name, p.Temperature, p.TopP, p.TopK, p.MaxOutputTokens)
		}
		return tw.Flush()
	},
}

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "Inspect saved conversations",
}

var conversationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved conversations, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd.Context(), cfg.Storage, false)
		if err != nil {
			return err
		}
		defer store.Close()

		list, err := store.ListConversations(cmd.Context())
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no saved conversations")
			return nil
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSESSION\tPERSONA\tUPDATED")
		for _, c := range list {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", c.ID, c.SessionName, c.PersonaName, c.UpdatedAt.Format("2006-01-02 15:04:05"))
		}
		return tw.Flush()
	},
}

var conversationsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print one conversation as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid conversation id %q", args[0])
		}

		store, err := openStore(cmd.Context(), cfg.Storage, false)
		if err != nil {
			return err
		}
		defer store.Close()

		conv, err := store.GetConversation(cmd.Context(), id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("conversation %d not found", id)
			}
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(conv)
	},
}

func init() {
	conversationsCmd.AddCommand(conversationsListCmd, conversationsShowCmd)
	rootCmd.AddCommand(migrateCmd, personasCmd, conversationsCmd)
}
