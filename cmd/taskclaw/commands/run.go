package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jholhewres/taskclaw/pkg/taskclaw/daemon"
	"github.com/jholhewres/taskclaw/pkg/taskclaw/store"
)

// newRunCmd cria o comando `taskclaw run` para execução avulsa de um job.
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <alias>",
		Short: "Executa um job uma única vez e imprime o resultado",
		Long: `Executa o job identificado pelo alias de forma síncrona, fora do
cron, e imprime o resultado bruto no stdout. A execução grava memória e
dispara as saídas configuradas normalmente.

Exemplos:
  taskclaw run clima-diario
  taskclaw run resumo-inbox --verbose`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(cmd)
			cfg, err := resolveConfig(cmd, logger)
			if err != nil {
				return err
			}

			st, err := store.Open(filepath.Join(cfg.DataDir, "taskclaw.db"))
			if err != nil {
				return fmt.Errorf("abrindo armazenamento: %w", err)
			}
			defer st.Close()

			d, err := daemon.New(cfg, st, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(),
				os.Interrupt, syscall.SIGTERM)
			defer stop()

			result, err := d.RunOnce(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), result)
			return nil
		},
	}
}
