package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yourorg/diagflow/pkg/types"
)

const (
	defaultConfigRelPath = ".diagflow/config.yaml"
	defaultDBRelPath     = ".diagflow/diagflow.db"
)

type OutputConfig struct {
	Dir     string   `yaml:"dir"`
	Formats []string `yaml:"formats"`
}

type FilterConfig struct {
	IgnoreProtocols       []string `yaml:"ignore_protocols"`
	IgnoreAddresses       []string `yaml:"ignore_addresses"`
	CollapseTesterPresent bool     `yaml:"collapse_tester_present"`
}

type SanitizeConfig struct {
	DIDs        []string `yaml:"dids"`
	Replacement string   `yaml:"replacement"`
}

type GroupingConfig struct {
	WindowMs            int64    `yaml:"window_ms"`
	FunctionalAddresses []string `yaml:"functional_addresses"`
}

type DiscoveryConfig struct {
	AutoApplyThreshold *float64          `yaml:"auto_apply_threshold"`
	ApplyTimeoutSec    int               `yaml:"apply_timeout_sec"`
	CreatedBy          string            `yaml:"created_by"`
	KnownECUs          map[string]string `yaml:"known_ecus"`
	KnownDTCs          map[string]string `yaml:"known_dtcs"`
}

type ODXConfig struct {
	VehicleName  string `yaml:"vehicle_name"`
	ProtocolName string `yaml:"protocol_name"`
}

type ClickHouseConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Addr      []string `yaml:"addr"`
	Database  string   `yaml:"database"`
	Username  string   `yaml:"username"`
	Password  string   `yaml:"password"`
	Table     string   `yaml:"table"`
	BatchSize int      `yaml:"batch_size"`
}

type ArchiveConfig struct {
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
}

type ServerConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	CORSOrigin      string `yaml:"cors_origin"`
	DecodeCacheSize int    `yaml:"decode_cache_size"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type Config struct {
	Output    OutputConfig    `yaml:"output"`
	Filter    FilterConfig    `yaml:"filter"`
	Sanitize  SanitizeConfig  `yaml:"sanitize"`
	Grouping  GroupingConfig  `yaml:"grouping"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Scope     types.Scope     `yaml:"scope"`
	ODX       ODXConfig       `yaml:"odx"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Log       LogConfig       `yaml:"log"`
}

// Load loads YAML config, then applies env overrides.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		configPath = filepath.Join(home, defaultConfigRelPath)
	}

	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg.SetDefaults()
	applyEnvOverrides(cfg)
	return cfg, nil
}

func (c *Config) SetDefaults() {
	if c.Output.Dir == "" {
		c.Output.Dir = "./output"
	}
	if len(c.Output.Formats) == 0 {
		c.Output.Formats = []string{"markdown", "odx"}
	}
	if c.Sanitize.Replacement == "" {
		c.Sanitize.Replacement = "00"
	}
	if c.Grouping.WindowMs == 0 {
		c.Grouping.WindowMs = 10_000
	}
	if len(c.Grouping.FunctionalAddresses) == 0 {
		c.Grouping.FunctionalAddresses = []string{"E400", "E000", "7DF"}
	}
	if c.Discovery.AutoApplyThreshold == nil {
		t := 0.9
		c.Discovery.AutoApplyThreshold = &t
	}
	if c.Discovery.ApplyTimeoutSec == 0 {
		c.Discovery.ApplyTimeoutSec = 30
	}
	if c.Discovery.CreatedBy == "" {
		c.Discovery.CreatedBy = "diagflow"
	}
	if c.ODX.VehicleName == "" {
		c.ODX.VehicleName = "VEHICLE"
	}
	if c.ODX.ProtocolName == "" {
		c.ODX.ProtocolName = "UDS_ON_DOIP"
	}
	if len(c.Archive.ClickHouse.Addr) == 0 {
		c.Archive.ClickHouse.Addr = []string{"127.0.0.1:9000"}
	}
	if c.Archive.ClickHouse.Database == "" {
		c.Archive.ClickHouse.Database = "diagflow"
	}
	if c.Archive.ClickHouse.Username == "" {
		c.Archive.ClickHouse.Username = "default"
	}
	if c.Archive.ClickHouse.Table == "" {
		c.Archive.ClickHouse.Table = "trace_messages"
	}
	if c.Archive.ClickHouse.BatchSize == 0 {
		c.Archive.ClickHouse.BatchSize = 5000
	}
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if c.Server.DecodeCacheSize == 0 {
		c.Server.DecodeCacheSize = 1024
	}
	if c.Database.Path == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.Database.Path = filepath.Join(home, defaultDBRelPath)
		} else {
			c.Database.Path = "diagflow.db"
		}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Threshold is the auto-apply confidence. An explicit 0 applies every pattern.
func (c *Config) Threshold() float64 {
	if c.Discovery.AutoApplyThreshold == nil {
		return 0.9
	}
	return *c.Discovery.AutoApplyThreshold
}

// ApplyTimeout is the discovery-apply transaction bound.
func (c *Config) ApplyTimeout() time.Duration {
	return time.Duration(c.Discovery.ApplyTimeoutSec) * time.Second
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Output.Dir) == "" {
		return errors.New("output.dir cannot be empty")
	}
	if c.Grouping.WindowMs < 0 {
		return errors.New("grouping.window_ms must be positive")
	}
	if t := c.Threshold(); t < 0 || t > 1 {
		return fmt.Errorf("discovery.auto_apply_threshold must be within [0,1], got %v", t)
	}
	for _, f := range c.Output.Formats {
		switch f {
		case "markdown", "odx", "json", "yaml":
		default:
			return fmt.Errorf("output.formats: unknown format %q", f)
		}
	}
	if c.Archive.ClickHouse.Enabled && c.Archive.ClickHouse.BatchSize < 0 {
		return errors.New("archive.clickhouse.batch_size must be positive")
	}

	if err := ensureWritableDir(c.Output.Dir); err != nil {
		return fmt.Errorf("output.dir not writable: %w", err)
	}
	return nil
}

func ensureWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".writable-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

func applyEnvOverrides(c *Config) {
	setString(&c.Output.Dir, "DIAGFLOW_OUTPUT_DIR")
	setInt64(&c.Grouping.WindowMs, "DIAGFLOW_GROUPING_WINDOW_MS")
	setFloatPtr(&c.Discovery.AutoApplyThreshold, "DIAGFLOW_DISCOVERY_THRESHOLD")
	setInt(&c.Discovery.ApplyTimeoutSec, "DIAGFLOW_DISCOVERY_APPLY_TIMEOUT_SEC")
	setString(&c.Scope.OEM, "DIAGFLOW_SCOPE_OEM")
	setString(&c.Scope.Model, "DIAGFLOW_SCOPE_MODEL")
	setString(&c.Scope.ModelYear, "DIAGFLOW_SCOPE_MODEL_YEAR")
	setBool(&c.Archive.ClickHouse.Enabled, "DIAGFLOW_CLICKHOUSE_ENABLED")
	setString(&c.Archive.ClickHouse.Password, "DIAGFLOW_CLICKHOUSE_PASSWORD")
	setString(&c.Server.Host, "DIAGFLOW_SERVER_HOST")
	setInt(&c.Server.Port, "DIAGFLOW_SERVER_PORT")
	setString(&c.Database.Path, "DIAGFLOW_DATABASE_PATH")
	setString(&c.Log.Level, "DIAGFLOW_LOG_LEVEL")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setFloatPtr(dst **float64, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = &n
		}
	}
}
