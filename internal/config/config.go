package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"pdfcp/internal/domain"
)

// Config models pdfcp.yml.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Auth     AuthConfig     `yaml:"auth" mapstructure:"auth"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
	Workflow WorkflowConfig `yaml:"workflow" mapstructure:"workflow"`
	Catalog  CatalogConfig  `yaml:"catalog" mapstructure:"catalog"`
}

// StoreConfig configures the persistence backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

type ServerConfig struct {
	Addr        string   `yaml:"addr" mapstructure:"addr"`
	BasePath    string   `yaml:"base_path" mapstructure:"base_path"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" mapstructure:"jwt_secret"`
	// AllowActorHeaders trusts X-Actor-* headers without credentials.
	AllowActorHeaders bool `yaml:"allow_actor_headers" mapstructure:"allow_actor_headers"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// WorkflowConfig tunes the validation state machine.
type WorkflowConfig struct {
	AllowSkip    bool                `yaml:"allow_skip" mapstructure:"allow_skip"`
	EnforceRoles bool                `yaml:"enforce_roles" mapstructure:"enforce_roles"`
	EnterRoles   map[string][]string `yaml:"enter_roles" mapstructure:"enter_roles"`
	CancelRoles  map[string][]string `yaml:"cancel_roles" mapstructure:"cancel_roles"`
	UnlockRoles  []string            `yaml:"unlock_roles" mapstructure:"unlock_roles"`
}

// CatalogConfig points at an optional component catalog override.
type CatalogConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

const envPrefix = "PDFCP"

// Load reads pdfcp.yml from the workspace when present, layered over the
// defaults and under PDFCP_* environment variables.
func Load(workspace string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewBufferString(defaultTemplate)); err != nil {
		return nil, eris.Wrap(err, "config: read defaults")
	}

	path := Path(workspace)
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, eris.Wrapf(err, "config: read %s", path)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("config.store.database_url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("config.store.driver must be 'sqlite' or 'postgres', got %q", c.Store.Driver)
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config.log.level: %w", err)
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("config.log.format must be 'json' or 'console'")
	}
	for _, table := range []struct {
		name string
		m    map[string][]string
	}{{"enter_roles", c.Workflow.EnterRoles}, {"cancel_roles", c.Workflow.CancelRoles}} {
		for status, roles := range table.m {
			if _, err := domain.ParseValidationStatus(status); err != nil {
				return fmt.Errorf("config.workflow.%s: %w", table.name, err)
			}
			if err := checkRoles(roles); err != nil {
				return fmt.Errorf("config.workflow.%s.%s: %w", table.name, status, err)
			}
		}
	}
	if err := checkRoles(c.Workflow.UnlockRoles); err != nil {
		return fmt.Errorf("config.workflow.unlock_roles: %w", err)
	}
	return nil
}

func checkRoles(roles []string) error {
	for _, r := range roles {
		if _, err := domain.ParseScopeLevel(r); err != nil {
			return err
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "pdfcp.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses raw YAML over the defaults and validates the result.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)
	return nil
}

const defaultTemplate = `store:
  driver: sqlite
  database_url: ""
  max_conns: 10
  min_conns: 2

server:
  addr: 127.0.0.1:8080
  base_path: /v1
  cors_origins: []

auth:
  jwt_secret: ""
  allow_actor_headers: false

log:
  level: info
  format: json

workflow:
  allow_skip: true
  enforce_roles: true
  # Scope levels allowed to move a program into each status.
  enter_roles:
    BROUILLON: [ADMIN]
    CONCERTE_ADP: [LOCAL, ADMIN]
    VALIDE_DPANEF: [PROVINCIAL, ADMIN]
    VALIDE_CENTRAL: [NATIONAL, REGIONAL, ADMIN]
    VERROUILLE: [ADMIN]
  # Scope levels allowed to send each status back to BROUILLON.
  cancel_roles:
    CONCERTE_ADP: [LOCAL, ADMIN]
    VALIDE_DPANEF: [PROVINCIAL, REGIONAL, ADMIN]
    VALIDE_CENTRAL: [PROVINCIAL, REGIONAL, ADMIN]
  unlock_roles: [ADMIN]

catalog:
  path: ""
`
