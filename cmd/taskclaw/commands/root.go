// Package commands implementa os comandos CLI do taskclaw usando cobra.
package commands

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jholhewres/taskclaw/pkg/taskclaw/config"
)

// NewRootCmd cria o comando raiz do CLI com todos os subcomandos registrados.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "taskclaw",
		Short: "taskclaw - automação pessoal com agentes de IA",
		Long: `taskclaw executa jobs declarativos que despacham prompts a agentes
de IA, por cron ou por gatilho em canais de mensagem, com memória
persistente por job e saídas configuráveis.

Exemplos:
  taskclaw run clima-diario
  taskclaw list
  taskclaw daemon
  taskclaw secret set openweather_key`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newRunCmd(),
		newListCmd(),
		newDaemonCmd(),
		newSecretCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "diretório de configuração alternativo")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "habilita logs detalhados")

	return rootCmd
}

// newLogger configura o logger do processo conforme a flag verbose.
func newLogger(cmd *cobra.Command) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// resolveConfig carrega a configuração do diretório padrão ou do
// indicado pela flag --config.
func resolveConfig(cmd *cobra.Command, logger *slog.Logger) (*config.AppConfig, error) {
	dir, _ := cmd.Root().PersistentFlags().GetString("config")
	if dir == "" {
		return config.Load(logger)
	}
	dataDir, err := config.DataDir()
	if err != nil {
		return nil, err
	}
	return config.LoadFrom(dir, dataDir, logger)
}
