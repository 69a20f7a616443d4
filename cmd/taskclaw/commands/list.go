package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// newListCmd cria o comando `taskclaw list` que enumera os jobs carregados.
func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Lista os jobs configurados",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger(cmd)
			cfg, err := resolveConfig(cmd, logger)
			if err != nil {
				return err
			}

			if len(cfg.Jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Nenhum job configurado.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ALIAS\tAGENTE\tINTERVALO\tCANAL\tNOME")
			for _, alias := range cfg.Aliases() {
				job := cfg.Jobs[alias]
				interval := job.Interval
				if interval == "" {
					interval = "-"
				}
				channel := "-"
				if job.Input != nil {
					channel = job.Input.Channel
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					alias, job.Agent.Type, interval, channel, job.Name)
			}
			return w.Flush()
		},
	}
}
