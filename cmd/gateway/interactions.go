package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sapphir-health/sapphir-gateway/internal/domain"
	"github.com/sapphir-health/sapphir-gateway/internal/storage/sqlite"
)

func interactionsCmd() *cobra.Command {
	var (
		limit int
		kind  string
	)
	cmd := &cobra.Command{
		Use:   "interactions",
		Short: "List recent interactions from the sqlite audit log",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Storage.Type != "sqlite" {
				return fmt.Errorf("interactions needs storage.type sqlite, have %q", cfg.Storage.Type)
			}

			store, err := sqlite.New(cfg.Storage.SQLite.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			list, err := store.ListInteractions(cmd.Context(), domain.InteractionListOptions{
				Kind:  domain.InteractionKind(kind),
				Limit: limit,
			})
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CREATED\tKIND\tSESSION\tSTATUS\tERROR\tCANNED\tTOKENS\tDURATION")
			for _, in := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%t\t%d\t%s\n",
					in.CreatedAt.Local().Format(time.DateTime),
					in.Kind,
					in.SessionKey,
					in.Status,
					in.ErrorKind,
					in.Canned,
					in.PromptTokens,
					in.Duration.Round(time.Millisecond),
				)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum rows to print")
	cmd.Flags().StringVar(&kind, "kind", "", "filter by kind (turn or document)")
	return cmd
}
