// Package config loads the canvasd YAML configuration and applies CANVAS_*
// environment overrides on top of it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// CurrentVersion is written into new config files.
const CurrentVersion = 1

const defaultConfigYAML = `# canvasd configuration
config_version: 1

server:
  addr: 127.0.0.1:7420

storage:
  db_path: canvas.db

# Where exported records live: file, sqlite, mysql, postgres or mongo.
records:
  backend: file

collab:
  debounce_ms: 500
  send_buffer: 64
  sequence_guard: false

export:
  # Five-field cron expression; empty disables scheduled exports.
  auto_export_cron: ""
  watch_conception: true

logging:
  level: info
  format: console

mcp:
  enabled: true
`

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type StorageConfig struct {
	DBPath string `yaml:"db_path"`
}

// RecordsConfig selects the record backend used by export and import.
type RecordsConfig struct {
	Backend       string `yaml:"backend"`
	Root          string `yaml:"root,omitempty"`
	DSN           string `yaml:"dsn,omitempty"`
	MongoURI      string `yaml:"mongo_uri,omitempty"`
	MongoDatabase string `yaml:"mongo_database,omitempty"`
}

type CollabConfig struct {
	DebounceMS    int  `yaml:"debounce_ms"`
	SendBuffer    int  `yaml:"send_buffer"`
	SequenceGuard bool `yaml:"sequence_guard"`
}

type ExportConfig struct {
	AutoExportCron  string `yaml:"auto_export_cron"`
	WatchConception bool   `yaml:"watch_conception"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Source bool   `yaml:"source"`
	File   string `yaml:"file,omitempty"`
}

type MCPConfig struct {
	Enabled bool `yaml:"enabled"`
}

// AppConfig models the canvasd config file.
type AppConfig struct {
	ConfigVersion int           `yaml:"config_version"`
	Server        ServerConfig  `yaml:"server"`
	Storage       StorageConfig `yaml:"storage"`
	Records       RecordsConfig `yaml:"records"`
	Collab        CollabConfig  `yaml:"collab"`
	Export        ExportConfig  `yaml:"export"`
	Logging       LoggingConfig `yaml:"logging"`
	MCP           MCPConfig     `yaml:"mcp"`
}

// Defaults returns the configuration used when no file exists.
func Defaults() AppConfig {
	var cfg AppConfig
	if err := yaml.Unmarshal([]byte(defaultConfigYAML), &cfg); err != nil {
		panic(fmt.Sprintf("config: embedded defaults: %v", err))
	}
	return cfg
}

// Load reads path over the defaults and then applies environment
// overrides. A missing file is not an error. Relative paths inside the file
// resolve against its directory.
func Load(path string) (AppConfig, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := mergeInto(&cfg, data); err != nil {
				return AppConfig{}, fmt.Errorf("config: parse %s: %w", path, err)
			}
			cfg.normalize(filepath.Dir(path))
		case errors.Is(err, fs.ErrNotExist):
		default:
			return AppConfig{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	if err := applyEnvOverrides(&cfg); err != nil {
		return AppConfig{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return AppConfig{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Save writes cfg to path, creating parent directories.
func Save(path string, cfg AppConfig) error {
	if cfg.ConfigVersion == 0 {
		cfg.ConfigVersion = CurrentVersion
	}
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("config: create dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// mergeInto decodes data over cfg so keys absent from the file keep their
// current values.
func mergeInto(cfg *AppConfig, data []byte) error {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	return yaml.Unmarshal(data, cfg)
}

// envKeys maps each overridable key to its variable.
var envKeys = map[string]string{
	"server.addr":             "CANVAS_ADDR",
	"storage.db_path":         "CANVAS_DB_PATH",
	"records.backend":         "CANVAS_RECORDS_BACKEND",
	"records.root":            "CANVAS_RECORDS_ROOT",
	"records.dsn":             "CANVAS_RECORDS_DSN",
	"records.mongo_uri":       "CANVAS_MONGO_URI",
	"records.mongo_database":  "CANVAS_MONGO_DATABASE",
	"collab.debounce_ms":      "CANVAS_COLLAB_DEBOUNCE_MS",
	"collab.send_buffer":      "CANVAS_COLLAB_SEND_BUFFER",
	"collab.sequence_guard":   "CANVAS_COLLAB_SEQUENCE_GUARD",
	"export.auto_export_cron": "CANVAS_AUTO_EXPORT_CRON",
	"export.watch_conception": "CANVAS_WATCH_CONCEPTION",
	"logging.level":           "CANVAS_LOG_LEVEL",
	"logging.format":          "CANVAS_LOG_FORMAT",
	"logging.source":          "CANVAS_LOG_SOURCE",
	"logging.file":            "CANVAS_LOG_FILE",
	"mcp.enabled":             "CANVAS_MCP_ENABLED",
}

// EnvOverrideFor returns the environment variable that overrides a dotted
// config key, or "" if the key cannot be overridden.
func EnvOverrideFor(key string) string {
	return envKeys[strings.ToLower(strings.TrimSpace(key))]
}

func applyEnvOverrides(cfg *AppConfig) error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(envKeys[key]); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) error {
		v, ok := os.LookupEnv(envKeys[key])
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", envKeys[key], err)
		}
		*dst = n
		return nil
	}
	flag := func(key string, dst *bool) error {
		v, ok := os.LookupEnv(envKeys[key])
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", envKeys[key], err)
		}
		*dst = b
		return nil
	}

	str("server.addr", &cfg.Server.Addr)
	str("storage.db_path", &cfg.Storage.DBPath)
	str("records.backend", &cfg.Records.Backend)
	str("records.root", &cfg.Records.Root)
	str("records.dsn", &cfg.Records.DSN)
	str("records.mongo_uri", &cfg.Records.MongoURI)
	str("records.mongo_database", &cfg.Records.MongoDatabase)
	str("export.auto_export_cron", &cfg.Export.AutoExportCron)
	str("logging.level", &cfg.Logging.Level)
	str("logging.format", &cfg.Logging.Format)
	str("logging.file", &cfg.Logging.File)

	for _, err := range []error{
		num("collab.debounce_ms", &cfg.Collab.DebounceMS),
		num("collab.send_buffer", &cfg.Collab.SendBuffer),
		flag("collab.sequence_guard", &cfg.Collab.SequenceGuard),
		flag("export.watch_conception", &cfg.Export.WatchConception),
		flag("logging.source", &cfg.Logging.Source),
		flag("mcp.enabled", &cfg.MCP.Enabled),
	} {
		if err != nil {
			return err
		}
	}
	cfg.Records.Backend = strings.ToLower(cfg.Records.Backend)
	return nil
}

func (c *AppConfig) normalize(base string) {
	if c.ConfigVersion == 0 {
		c.ConfigVersion = CurrentVersion
	}
	c.Records.Backend = strings.ToLower(strings.TrimSpace(c.Records.Backend))
	c.Storage.DBPath = resolvePath(base, c.Storage.DBPath)
	c.Records.Root = resolvePath(base, c.Records.Root)
	if c.Records.Backend == "sqlite" {
		c.Records.DSN = resolvePath(base, c.Records.DSN)
	}
	c.Logging.File = resolvePath(base, c.Logging.File)
}

func (c AppConfig) validate() error {
	if c.ConfigVersion < 1 {
		return fmt.Errorf("config_version must be >= 1")
	}
	if strings.TrimSpace(c.Server.Addr) == "" {
		return fmt.Errorf("server.addr is required")
	}
	if strings.TrimSpace(c.Storage.DBPath) == "" {
		return fmt.Errorf("storage.db_path is required")
	}
	switch c.Records.Backend {
	case "", "file":
	case "sqlite", "mysql", "postgres":
		if c.Records.DSN == "" {
			return fmt.Errorf("records.dsn is required for the %s backend", c.Records.Backend)
		}
	case "mongo":
		if c.Records.MongoURI == "" || c.Records.MongoDatabase == "" {
			return fmt.Errorf("records.mongo_uri and records.mongo_database are required for the mongo backend")
		}
	default:
		return fmt.Errorf("records.backend must be one of file, sqlite, mysql, postgres, mongo")
	}
	if c.Collab.DebounceMS < 0 {
		return fmt.Errorf("collab.debounce_ms must be >= 0")
	}
	if c.Collab.SendBuffer < 0 {
		return fmt.Errorf("collab.send_buffer must be >= 0")
	}
	return nil
}

func resolvePath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if filepath.IsAbs(trimmed) {
		return filepath.Clean(trimmed)
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}
