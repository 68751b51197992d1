package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"research-assistant/internal/config"
	"research-assistant/internal/crew"
	"research-assistant/internal/llm"
)

func newLimitsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "limits",
		Short: "Show the effective per-model token limits and per-agent request caps",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			models := make([]string, 0, len(cfg.ModelLimits))
			for m := range cfg.ModelLimits {
				models = append(models, m)
			}
			sort.Strings(models)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "MODEL\tTOKENS/MIN")
			for _, m := range models {
				fmt.Fprintf(w, "%s\t%d\n", m, cfg.ModelLimits[m])
			}
			fmt.Fprintf(w, "(default)\t%d\n", cfg.DefaultTPMLimit)
			fmt.Fprintln(w)

			f := crew.NewFactory(cfg, llm.ClientFunc(nil))
			fmt.Fprintln(w, "AGENT\tMODEL\tREQUESTS/MIN")
			for _, a := range []*crew.Agent{f.Manager, f.Web, f.Academic, f.Writer} {
				fmt.Fprintf(w, "%s\t%s\t%d\n", a.Role, a.Model, a.MaxRPM)
			}
			return w.Flush()
		},
	}
}
