package commands

import (
	"fmt"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jholhewres/taskclaw/pkg/taskclaw/secrets"
)

// newSecretCmd cria o comando `taskclaw secret` para gerenciar segredos
// no chaveiro do sistema.
func newSecretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Gerencia segredos no chaveiro do sistema",
		Long: `Gerencia os segredos consultados por proxy:<nome> nos templates.
Valores ficam no chaveiro do sistema e nunca em arquivos de configuração.

Exemplos:
  taskclaw secret set openweather_key
  taskclaw secret rm openweather_key`,
	}

	cmd.AddCommand(newSecretSetCmd(), newSecretRmCmd())
	return cmd
}

func newSecretSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <nome>",
		Short: "Grava um segredo, lendo o valor sem eco no terminal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !secrets.Available() {
				return fmt.Errorf("chaveiro do sistema indisponível")
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Valor para %s: ", args[0])
			value, err := term.ReadPassword(int(syscall.Stdin))
			fmt.Fprintln(cmd.OutOrStdout())
			if err != nil {
				return fmt.Errorf("lendo valor: %w", err)
			}
			trimmed := strings.TrimSpace(string(value))
			if trimmed == "" {
				return fmt.Errorf("valor vazio")
			}

			if err := secrets.Set(args[0], trimmed); err != nil {
				return fmt.Errorf("gravando no chaveiro: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Segredo %s gravado.\n", args[0])
			return nil
		},
	}
}

func newSecretRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <nome>",
		Short: "Remove um segredo do chaveiro",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := secrets.Delete(args[0]); err != nil {
				return fmt.Errorf("removendo do chaveiro: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Segredo %s removido.\n", args[0])
			return nil
		},
	}
}
