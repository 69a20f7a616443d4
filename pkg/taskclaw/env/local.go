// local.go executa o comando diretamente, sem isolamento.
package env

import "context"

type local struct {
	workDir string
}

func (l *local) Name() string { return "local" }

func (l *local) EnsureReady(ctx context.Context) error { return nil }

func (l *local) Wrap(cmd string, args []string) (string, []string) {
	return cmd, args
}

func (l *local) WorkDir() string { return l.workDir }
