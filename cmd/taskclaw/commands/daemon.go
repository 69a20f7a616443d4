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

// newDaemonCmd cria o comando `taskclaw daemon` que roda o orquestrador
// em primeiro plano.
func newDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Roda o daemon: cron, canais e fila de execução",
		Long: `Roda o taskclaw em primeiro plano: conecta os canais configurados,
agenda os jobs com intervalo e processa despachos até receber SIGINT ou
SIGTERM. A parada espera execuções em andamento por um prazo de graça.

Exemplos:
  taskclaw daemon
  taskclaw daemon --config ./config --verbose`,
		RunE: func(cmd *cobra.Command, _ []string) error {
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

			return d.Run(ctx)
		},
	}
}
