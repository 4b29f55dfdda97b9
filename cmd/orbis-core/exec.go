package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/PixelDroid19/orbis-core/internal/model"
)

func execCmd() *cobra.Command {
	var (
		file         string
		targetType   string
		identifier   string
		params       []string
		dryRun       bool
		validateOnly bool
		undo         bool
		output       string
	)
	cmd := &cobra.Command{
		Use:          "exec <action-type>",
		Short:        "Execute a code action against a file",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			engine, closeFn, err := newEngine(cfg, file)
			if err != nil {
				return err
			}
			defer closeFn()
			defer engine.Shutdown(cmd.Context())

			parameters, err := parseParams(params)
			if err != nil {
				return err
			}
			action := model.Action{
				Type:       model.ActionType(args[0]),
				Target:     buildTarget(targetType, file, identifier),
				Parameters: parameters,
			}

			var result model.ActionResult
			switch {
			case dryRun:
				result, err = engine.DryRun(cmd.Context(), action)
			case validateOnly:
				result, err = engine.ValidateAction(cmd.Context(), action)
			default:
				result, err = engine.ExecuteAction(cmd.Context(), action)
			}
			if err != nil {
				return err
			}
			if err := printOutput(result, output); err != nil {
				return err
			}

			if undo && result.Success && !dryRun && !validateOnly {
				res, err := engine.RollbackLast(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Printf("rolled back %s (%d changes reverted)\n", res.ActionID, res.ChangesReverted)
			}
			if !result.Success {
				return fmt.Errorf("action failed: %s", result.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "file the action targets")
	cmd.Flags().StringVar(&targetType, "target", "file", "target type (selection|file|function|class|project)")
	cmd.Flags().StringVar(&identifier, "identifier", "", "function or class identifier")
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "action parameter as key=value (repeatable)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "estimate change volume without executing")
	cmd.Flags().BoolVar(&validateOnly, "validate-only", false, "validate the action without executing")
	cmd.Flags().BoolVar(&undo, "undo", false, "roll the action back immediately after executing")
	cmd.Flags().StringVarP(&output, "output", "o", "json", "output format (json|yaml)")
	return cmd
}

func buildTarget(targetType, file, identifier string) model.Target {
	target := model.Target{Type: model.TargetType(targetType)}
	switch target.Type {
	case model.TargetFile:
		target.Path = file
	case model.TargetFunction, model.TargetClass:
		target.Identifier = identifier
		target.Path = file
	case model.TargetSelection:
		target.Path = file
		target.Range = &model.Range{}
	}
	return target
}
