package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverMemory   = "memory"
)

// Report sinks.
const (
	SinkFS = "fs"
	SinkS3 = "s3"
)

// Config models castline.yml.
type Config struct {
	Store   StoreConfig   `yaml:"store"`
	Retry   RetryConfig   `yaml:"retry"`
	Roles   RolesConfig   `yaml:"roles"`
	Reports ReportsConfig `yaml:"reports"`
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
	RBAC    struct {
		Roles map[string]RBACRole `yaml:"roles"`
	} `yaml:"rbac"`
}

type StoreConfig struct {
	Driver     string `yaml:"driver"`
	DSN        string `yaml:"dsn"`
	Database   string `yaml:"database"`
	BatchLimit int    `yaml:"batch_limit"`
}

// RetryConfig governs per-chunk retries of batch writes.
type RetryConfig struct {
	Attempts        int           `yaml:"attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
}

// RolesConfig selects how booking-count read failures are treated. The
// archive precondition and the dashboard count are configured separately.
type RolesConfig struct {
	ArchiveFailOpen      bool `yaml:"archive_fail_open"`
	BookingCountFailOpen bool `yaml:"booking_count_fail_open"`
}

type ReportsConfig struct {
	Sink string   `yaml:"sink"`
	Dir  string   `yaml:"dir"`
	S3   S3Config `yaml:"s3"`
}

type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type ServerConfig struct {
	Addr     string `yaml:"addr"`
	BasePath string `yaml:"base_path"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type RBACRole struct {
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with castline config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverSQLite, DriverMemory:
	case DriverPostgres, DriverMongo:
		if c.Store.DSN == "" {
			return fmt.Errorf("config.store.dsn is required for driver %s", c.Store.Driver)
		}
	default:
		return fmt.Errorf("config.store.driver must be one of sqlite, postgres, mongo, memory")
	}
	if c.Store.BatchLimit <= 0 {
		return fmt.Errorf("config.store.batch_limit must be positive")
	}
	if c.Retry.Attempts < 1 {
		return fmt.Errorf("config.retry.attempts must be at least 1")
	}
	if c.Retry.InitialInterval < 0 || c.Retry.MaxInterval < 0 {
		return fmt.Errorf("config.retry intervals must not be negative")
	}
	if c.Retry.MaxInterval > 0 && c.Retry.InitialInterval > c.Retry.MaxInterval {
		return fmt.Errorf("config.retry.initial_interval exceeds max_interval")
	}
	switch c.Reports.Sink {
	case "", SinkFS:
	case SinkS3:
		if c.Reports.S3.Bucket == "" {
			return fmt.Errorf("config.reports.s3.bucket is required for sink s3")
		}
	default:
		return fmt.Errorf("config.reports.sink must be fs or s3")
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("config.log.format must be text or json")
	}
	for roleID, role := range c.RBAC.Roles {
		if roleID == "" {
			return fmt.Errorf("config.rbac.roles contains empty role id")
		}
		for _, perm := range role.Permissions {
			if perm == "" {
				return fmt.Errorf("role %s has empty permission id", roleID)
			}
		}
	}
	return nil
}

// Permissions returns the union of permissions granted by roles.
func (c *Config) Permissions(roles []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range roles {
		for _, p := range c.RBAC.Roles[r].Permissions {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	return out
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "castline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses config on top of the defaults and validates it.
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

const defaultTemplate = `store:
  driver: sqlite
  batch_limit: 500

retry:
  attempts: 3
  initial_interval: 200ms
  max_interval: 5s

roles:
  archive_fail_open: false
  booking_count_fail_open: true

reports:
  sink: fs
  dir: .castline/reports

server:
  addr: 127.0.0.1:8080
  base_path: /v0

log:
  level: info
  format: text

rbac:
  roles:
    owner:
      description: "Full control over casting data"
      permissions:
        - project.read
        - project.advance
        - project.archive
        - role.read
        - role.archive
        - role.restore
        - submission.update
        - booking.update
        - integrity.audit
        - integrity.repair
        - migration.run
        - events.read
    casting:
      description: "Casting staff"
      permissions:
        - project.read
        - role.read
        - role.archive
        - role.restore
        - submission.update
        - booking.update
    viewer:
      description: "Read-only dashboard access"
      permissions:
        - project.read
        - role.read
        - events.read
`
