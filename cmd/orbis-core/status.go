package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/PixelDroid19/orbis-core/internal/provider"
)

var (
	statusHeaderStyle = lipgloss.NewStyle().Bold(true)
	statusOKStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	statusErrStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	statusDimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "status",
		Short:        "Show engine health at a glance",
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

			fmt.Println(statusHeaderStyle.Render("Providers"))
			infos := engine.Providers().Infos()
			if len(infos) == 0 {
				fmt.Println(statusDimStyle.Render("  none registered; built-in handlers serve all actions"))
			}
			for _, info := range infos {
				fmt.Println("  " + renderProviderLine(info))
			}

			if store := engine.Journal(); store != nil {
				stats, err := store.Statistics(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Println(statusHeaderStyle.Render("Journal"))
				fmt.Printf("  %d entries (%d executed, %d rolled back, %d failed)\n",
					stats.Total, stats.Executed, stats.RolledBack, stats.Failed)
			}

			fmt.Println(statusHeaderStyle.Render("Actions"))
			var types []string
			for _, def := range engine.Executor().AvailableActions() {
				types = append(types, string(def.Type))
			}
			fmt.Printf("  %s\n", strings.Join(types, ", "))
			return nil
		},
	}
	return cmd
}

func renderProviderLine(info provider.Info) string {
	status := string(info.Status)
	switch info.Status {
	case provider.StatusActive:
		status = statusOKStyle.Render(status)
	case provider.StatusError:
		status = statusErrStyle.Render(status)
	default:
		status = statusDimStyle.Render(status)
	}
	return fmt.Sprintf("%s  %s  errors=%d requests=%d avg=%s",
		info.ID, status, info.ErrorCount, info.TotalRequests, info.AvgResponseTime)
}
