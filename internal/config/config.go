package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

const EnvPrefix = "DBSETUP_"

// ErrMissingCredentials means the store URL or access key is not configured.
var ErrMissingCredentials = errors.New("missing store credentials")

type Config struct {
	StoreURL      string `koanf:"store_url"`
	StoreKey      string `koanf:"store_key"`
	StoreProvider string `koanf:"store_provider"`

	ScriptPath string `koanf:"script_path"`
	DataDir    string `koanf:"data_dir"`

	RefreshTransactional bool          `koanf:"refresh_transactional"`
	InsertBatchSize      int           `koanf:"insert_batch_size"`
	StatementTimeout     time.Duration `koanf:"statement_timeout"`
	MaxOpenConns         int           `koanf:"max_open_conns"`

	SchemasProcedure string `koanf:"schemas_procedure"`
	TablesProcedure  string `koanf:"tables_procedure"`

	JournalPath string `koanf:"journal_path"`

	HTTPAddr  string `koanf:"http_addr"`
	HTTPToken string `koanf:"http_token"`

	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"`

	// File is the config file that was loaded, if any.
	File string `koanf:"-"`
}

func defaults() map[string]any {
	return map[string]any{
		"store_provider":        "postgres",
		"script_path":           "db/setup.sql",
		"data_dir":              "data",
		"refresh_transactional": true,
		"insert_batch_size":     500,
		"statement_timeout":     "30s",
		"max_open_conns":        5,
		"schemas_procedure":     "get_schemas",
		"tables_procedure":      "get_tables",
		"journal_path":          ".dbsetup/history.db",
		"http_addr":             ":8080",
		"log_level":             "info",
		"log_format":            "text",
	}
}

// Flags whose names differ from their config key. Flags not listed here and
// not named like a key are ignored.
var flagKeys = map[string]string{
	"journal": "journal_path",
	"addr":    "http_addr",
}

// Load merges defaults, the config file, DBSETUP_* environment variables and
// explicitly set flags, later sources winning. cfgFile may be empty, in which
// case dbsetup.yaml or dbsetup.yml in the working directory is used if present.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	path, err := findConfigFile(cfgFile)
	if err != nil {
		return Config{}, err
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return Config{}, fmt.Errorf("load env vars: %w", err)
	}

	if flags != nil {
		known := defaults()
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			if !f.Changed {
				return "", nil
			}
			key, ok := flagKeys[f.Name]
			if !ok {
				key = strings.ReplaceAll(f.Name, "-", "_")
				if _, isKey := known[key]; !isKey {
					return "", nil
				}
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return Config{}, fmt.Errorf("load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.File = path
	cfg.StoreProvider = strings.ToLower(strings.TrimSpace(cfg.StoreProvider))
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func findConfigFile(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file %s: %w", explicit, err)
		}
		return explicit, nil
	}
	for _, name := range []string{"dbsetup.yaml", "dbsetup.yml"} {
		if _, err := os.Stat(name); err == nil {
			return name, nil
		}
	}
	return "", nil
}

// Validate reports every invalid setting at once. Credentials are not
// checked here; see RequireStore.
func (c Config) Validate() error {
	var errs []error
	switch c.StoreProvider {
	case "postgres", "postgresql", "mysql":
	default:
		errs = append(errs, fmt.Errorf("store_provider %q is not supported (postgres, mysql)", c.StoreProvider))
	}
	if c.InsertBatchSize <= 0 {
		errs = append(errs, errors.New("insert_batch_size must be positive"))
	}
	if c.StatementTimeout < 0 {
		errs = append(errs, errors.New("statement_timeout must not be negative"))
	}
	if c.MaxOpenConns <= 0 {
		errs = append(errs, errors.New("max_open_conns must be positive"))
	}
	if strings.TrimSpace(c.SchemasProcedure) == "" || strings.TrimSpace(c.TablesProcedure) == "" {
		errs = append(errs, errors.New("schemas_procedure and tables_procedure are required"))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level %q is not one of debug, info, warn, error", c.LogLevel))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format %q is not one of text, json", c.LogFormat))
	}
	return errors.Join(errs...)
}

// RequireStore fails with ErrMissingCredentials naming the unset variables.
func (c Config) RequireStore() error {
	var missing []string
	if strings.TrimSpace(c.StoreURL) == "" {
		missing = append(missing, EnvPrefix+"STORE_URL")
	}
	if strings.TrimSpace(c.StoreKey) == "" {
		missing = append(missing, EnvPrefix+"STORE_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s not set", ErrMissingCredentials, strings.Join(missing, ", "))
	}
	return nil
}

const sample = `# dbsetup configuration. Environment variables (DBSETUP_<KEY>) and flags
# override these values.
store_provider: %s
# store_url and store_key are usually set through DBSETUP_STORE_URL and
# DBSETUP_STORE_KEY (or a .env file).
store_url: %s
script_path: db/setup.sql
data_dir: data
refresh_transactional: true
insert_batch_size: 500
statement_timeout: 30s
schemas_procedure: get_schemas
tables_procedure: get_tables
journal_path: .dbsetup/history.db
http_addr: ":8080"
log_level: info
log_format: text
`

// WriteSample writes a starter config file. An existing file is never
// overwritten.
func WriteSample(path, provider string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	url := "postgres://user@db-host:5432/database?sslmode=require"
	if provider == "mysql" {
		url = "user@tcp(db-host:3306)/database?parseTime=true"
	} else {
		provider = "postgres"
	}
	return os.WriteFile(path, []byte(fmt.Sprintf(sample, provider, url)), 0o644)
}
