// Package config – config.go carrega a configuração completa do taskclaw a
// partir dos diretórios XDG: documentos de job, documentos de canal, o
// dicionário e o documento de segredos. Unidades malformadas são puladas
// com erro reportado, sem derrubar o restante da carga.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} or $VAR_NAME in config values.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Z_][A-Z0-9_]*)`)

// Error descreve uma falha de carga em uma unidade de configuração
// específica (um job, um canal, o dicionário).
type Error struct {
	Unit string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("config %s: %v", e.Unit, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// AppConfig agrega toda a configuração carregada no início do processo.
type AppConfig struct {
	// Jobs indexados por alias.
	Jobs map[string]*Job

	// Channels indexados por nome.
	Channels map[string]*ChannelConfig

	// Dictionary é o mapa plano consultado por custom:<chave>.
	Dictionary map[string]string

	// Secrets é o mapa plano consultado por proxy:<nome>. Somente leitura
	// após a carga; nunca aparece em logs.
	Secrets map[string]string

	// ConfigDir e DataDir são os diretórios resolvidos.
	ConfigDir string
	DataDir   string

	// Workers é o tamanho do pool de execução do daemon.
	Workers int
}

// ConfigDir resolve o diretório de configuração seguindo XDG.
func ConfigDir() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "taskclaw"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "taskclaw"), nil
}

// DataDir resolve o diretório de dados seguindo XDG.
func DataDir() (string, error) {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "taskclaw"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "taskclaw"), nil
}

// Load carrega a configuração completa a partir do diretório padrão.
func Load(logger *slog.Logger) (*AppConfig, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	data, err := DataDir()
	if err != nil {
		return nil, err
	}
	return LoadFrom(dir, data, logger)
}

// LoadFrom carrega a configuração a partir de diretórios explícitos.
// Jobs e canais malformados são logados e pulados; somente erros que
// invalidam a carga inteira (alias duplicado, diretório ilegível)
// retornam erro.
func LoadFrom(configDir, dataDir string, logger *slog.Logger) (*AppConfig, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// .env não sobrescreve variáveis já definidas.
	_ = godotenv.Load(filepath.Join(configDir, ".env"))
	_ = godotenv.Load(".env")

	cfg := &AppConfig{
		Jobs:       make(map[string]*Job),
		Channels:   make(map[string]*ChannelConfig),
		Dictionary: make(map[string]string),
		Secrets:    make(map[string]string),
		ConfigDir:  configDir,
		DataDir:    dataDir,
		Workers:    4,
	}

	if err := cfg.loadJobs(filepath.Join(configDir, "jobs"), logger); err != nil {
		return nil, err
	}
	if err := cfg.loadChannels(filepath.Join(configDir, "channels"), logger); err != nil {
		return nil, err
	}
	cfg.loadDictionary(filepath.Join(configDir, "dictionary.yaml"), logger)
	cfg.loadSecrets(filepath.Join(configDir, "secrets.yaml"), logger)

	// Validação cruzada: job com input precisa referenciar canal carregado.
	for alias, job := range cfg.Jobs {
		if err := job.Validate(); err != nil {
			logger.Error("job inválido, ignorando", "alias", alias, "error", err)
			delete(cfg.Jobs, alias)
			continue
		}
		if job.Input != nil {
			// O terminal existe implicitamente, sem documento de canal.
			if job.Input.Channel == ChannelStdin {
				continue
			}
			if _, ok := cfg.Channels[job.Input.Channel]; !ok {
				logger.Error("job referencia canal inexistente, ignorando",
					"alias", alias, "channel", job.Input.Channel)
				delete(cfg.Jobs, alias)
			}
		}
	}

	return cfg, nil
}

// Aliases retorna os aliases de job em ordem estável.
func (c *AppConfig) Aliases() []string {
	out := make([]string, 0, len(c.Jobs))
	for alias := range c.Jobs {
		out = append(out, alias)
	}
	sort.Strings(out)
	return out
}

// loadJobs lê jobs/*.yaml. Alias duplicado é erro de carga.
func (c *AppConfig) loadJobs(dir string, logger *slog.Logger) error {
	files, err := listYAML(dir)
	if err != nil {
		return err
	}

	for _, path := range files {
		job, err := loadJobFile(path)
		if err != nil {
			logger.Error("documento de job malformado, pulando",
				"path", path, "error", &Error{Unit: filepath.Base(path), Err: err})
			continue
		}
		if job.Alias == "" {
			job.Alias = stem(path)
		}
		if _, dup := c.Jobs[job.Alias]; dup {
			return &Error{Unit: job.Alias, Err: fmt.Errorf("alias duplicado em %s", path)}
		}
		c.Jobs[job.Alias] = job
	}
	return nil
}

// loadChannels lê channels/*.yaml, chave pelo nome do arquivo.
func (c *AppConfig) loadChannels(dir string, logger *slog.Logger) error {
	files, err := listYAML(dir)
	if err != nil {
		return err
	}

	for _, path := range files {
		ch, err := loadChannelFile(path)
		if err != nil {
			logger.Error("documento de canal malformado, pulando",
				"path", path, "error", &Error{Unit: filepath.Base(path), Err: err})
			continue
		}
		if ch.Name == "" {
			ch.Name = stem(path)
		}
		if _, dup := c.Channels[ch.Name]; dup {
			return &Error{Unit: ch.Name, Err: fmt.Errorf("nome de canal duplicado em %s", path)}
		}
		c.Channels[ch.Name] = ch
	}
	return nil
}

// loadDictionary lê dictionary.yaml. Ausência não é erro.
func (c *AppConfig) loadDictionary(path string, logger *slog.Logger) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("falha ao ler dicionário", "path", path, "error", err)
		}
		return
	}
	expanded := expandEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &c.Dictionary); err != nil {
		logger.Error("dicionário malformado, pulando",
			"path", path, "error", &Error{Unit: "dictionary", Err: err})
		c.Dictionary = make(map[string]string)
	}
}

// loadSecrets lê secrets.yaml e avisa sobre permissões abertas.
// Valores nunca são logados.
func (c *AppConfig) loadSecrets(path string, logger *slog.Logger) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("falha ao ler documento de segredos", "path", path, "error", err)
		}
		return
	}
	checkFilePermissions(path, logger)
	expanded := expandEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &c.Secrets); err != nil {
		logger.Error("documento de segredos malformado, pulando",
			"path", path, "error", &Error{Unit: "secrets", Err: err})
		c.Secrets = make(map[string]string)
	}
}

// ---------- Internal ----------

func loadJobFile(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading job file: %w", err)
	}
	expanded := expandEnvVars(string(data))

	job := &Job{}
	if err := yaml.Unmarshal([]byte(expanded), job); err != nil {
		return nil, fmt.Errorf("parsing job YAML: %w", err)
	}
	job.applyDefaults()
	return job, nil
}

func loadChannelFile(path string) (*ChannelConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading channel file: %w", err)
	}
	expanded := expandEnvVars(string(data))

	ch := &ChannelConfig{}
	if err := yaml.Unmarshal([]byte(expanded), ch); err != nil {
		return nil, fmt.Errorf("parsing channel YAML: %w", err)
	}
	if ch.Type == "" {
		return nil, fmt.Errorf("channel document missing 'type'")
	}
	return ch, nil
}

// listYAML lista *.yaml e *.yml de um diretório em ordem estável.
// Diretório ausente resulta em lista vazia.
func listYAML(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}

	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext == ".yaml" || ext == ".yml" {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// stem devolve o nome do arquivo sem extensão.
func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// expandEnvVars replaces ${VAR} and $VAR references in a string
// with their environment variable values.
func expandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		var varName string
		if strings.HasPrefix(match, "${") {
			varName = match[2 : len(match)-1]
		} else {
			varName = match[1:]
		}
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// checkFilePermissions warns if the secrets file is readable by others.
func checkFilePermissions(path string, logger *slog.Logger) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	mode := info.Mode().Perm()
	if mode&0o044 != 0 {
		logger.Warn("documento de segredos com permissões abertas",
			"path", path,
			"current", fmt.Sprintf("%04o", mode),
			"recommended", "0600",
			"fix", fmt.Sprintf("chmod 600 %s", path),
		)
	}
}
