package main

import (
	"github.com/spf13/cobra"
)

func providersCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:          "providers",
		Short:        "List registered providers and the built-in actions",
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

			type actionInfo struct {
				Type        string   `json:"type" yaml:"type"`
				Name        string   `json:"name" yaml:"name"`
				Description string   `json:"description" yaml:"description"`
				Targets     []string `json:"targets" yaml:"targets"`
				Required    []string `json:"required_parameters,omitempty" yaml:"required_parameters,omitempty"`
			}
			var actions []actionInfo
			for _, def := range engine.Executor().AvailableActions() {
				targets := make([]string, len(def.SupportedTargets))
				for i, t := range def.SupportedTargets {
					targets[i] = string(t)
				}
				actions = append(actions, actionInfo{
					Type:        string(def.Type),
					Name:        def.Name,
					Description: def.Description,
					Targets:     targets,
					Required:    def.RequiredParameters,
				})
			}

			out := map[string]any{
				"providers": engine.Providers().Infos(),
				"actions":   actions,
			}
			return printOutput(out, output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "json", "output format (json|yaml)")
	return cmd
}
