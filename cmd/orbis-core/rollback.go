package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Rollback operates on the engine's in-memory snapshot store; it is
// meaningful within one engine lifetime. Across CLI invocations the
// journal records what ran, but buffers belong to the editor
// collaborator.
func rollbackCmd() *cobra.Command {
	var (
		last   bool
		count  int
		output string
	)
	cmd := &cobra.Command{
		Use:          "rollback [action-id]",
		Short:        "Undo previously executed actions",
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			engine, closeFn, err := newEngine(cfg, "")
			if err != nil {
				return err
			}
			defer closeFn()
			defer engine.Shutdown(cmd.Context())

			switch {
			case count > 0:
				results := engine.Executor().RollbackMultipleActions(count)
				if err := printOutput(results, output); err != nil {
					return err
				}
				for _, res := range results {
					if !res.Success {
						return fmt.Errorf("rollback stopped: %s", res.Error)
					}
				}
				return nil
			case last:
				res, err := engine.RollbackLast(cmd.Context())
				if printErr := printOutput(res, output); printErr != nil {
					return printErr
				}
				if err != nil {
					return fmt.Errorf("rollback failed: %s", res.Error)
				}
				return nil
			case len(args) == 1:
				res, err := engine.RollbackAction(cmd.Context(), args[0])
				if printErr := printOutput(res, output); printErr != nil {
					return printErr
				}
				if err != nil {
					return fmt.Errorf("rollback failed: %s", res.Error)
				}
				return nil
			default:
				return fmt.Errorf("pass an action id, --last or -n")
			}
		},
	}
	cmd.Flags().BoolVar(&last, "last", false, "roll back the most recent action")
	cmd.Flags().IntVarP(&count, "count", "n", 0, "roll back the last n actions")
	cmd.Flags().StringVarP(&output, "output", "o", "json", "output format (json|yaml)")
	return cmd
}
