package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func historyCmd() *cobra.Command {
	var (
		outcome string
		limit   int
		stats   bool
		output  string
	)
	cmd := &cobra.Command{
		Use:          "history",
		Short:        "Inspect the persistent action journal",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, closeFn, err := openJournal(cfg)
			if err != nil {
				return err
			}
			defer closeFn()
			if store == nil {
				return fmt.Errorf("the journal is disabled in config")
			}

			if stats {
				s, err := store.Statistics(cmd.Context())
				if err != nil {
					return err
				}
				return printOutput(s, output)
			}

			entries, err := store.List(cmd.Context(), outcome, limit)
			if err != nil {
				return err
			}
			return printOutput(entries, output)
		},
	}
	cmd.AddCommand(historyPruneCmd())
	cmd.Flags().StringVar(&outcome, "outcome", "", "filter by outcome (executed|rolled_back)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum entries to list (0 = all)")
	cmd.Flags().BoolVar(&stats, "stats", false, "print journal statistics instead of entries")
	cmd.Flags().StringVarP(&output, "output", "o", "json", "output format (json|yaml)")
	return cmd
}

func historyPruneCmd() *cobra.Command {
	var keepLast int
	cmd := &cobra.Command{
		Use:          "prune",
		Short:        "Prune old journal entries",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if keepLast <= 0 {
				keepLast = cfg.Journal.KeepLast
			}
			if keepLast <= 0 {
				return fmt.Errorf("set --keep-last or configure journal.keep_last")
			}
			store, closeFn, err := openJournal(cfg)
			if err != nil {
				return err
			}
			defer closeFn()
			if store == nil {
				return fmt.Errorf("the journal is disabled in config")
			}
			removed, err := store.Prune(cmd.Context(), keepLast)
			if err != nil {
				return err
			}
			fmt.Printf("removed %d journal entries\n", removed)
			return nil
		},
	}
	cmd.Flags().IntVar(&keepLast, "keep-last", 0, "number of entries to keep")
	return cmd
}
