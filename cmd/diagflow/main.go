package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yourorg/diagflow/internal/config"
	"github.com/yourorg/diagflow/internal/store"
)

const defaultConfigContent = `output:
  dir: "./output"
  formats:
    - markdown
    - odx

filter:
  ignore_protocols: []
  ignore_addresses: []
  collapse_tester_present: false

sanitize:
  dids:
    - F190
  replacement: "00"

grouping:
  window_ms: 10000
  functional_addresses:
    - E400
    - E000
    - 7DF

discovery:
  auto_apply_threshold: 0.9
  apply_timeout_sec: 30
  created_by: "diagflow"
  known_ecus: {}
  known_dtcs: {}

scope:
  oem: ""
  model: ""
  model_year: ""

odx:
  vehicle_name: "VEHICLE"
  protocol_name: "UDS_ON_DOIP"

archive:
  clickhouse:
    enabled: false
    addr:
      - "127.0.0.1:9000"
    database: "diagflow"
    username: "default"
    password: ""
    table: "trace_messages"
    batch_size: 5000

server:
  host: "127.0.0.1"
  port: 3000
  cors_origin: ""
  decode_cache_size: 1024

log:
  level: "info"
`

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app carries what every command needs, loaded on first use.
type app struct {
	cfgPath string
	debug   bool

	cfg    *config.Config
	logger *zap.Logger
}

func (a *app) config() (*config.Config, error) {
	if a.cfg != nil {
		return a.cfg, nil
	}
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return nil, err
	}
	if a.debug {
		cfg.Log.Level = "debug"
	}
	a.cfg = cfg
	return cfg, nil
}

func (a *app) log() *zap.Logger {
	if a.logger != nil {
		return a.logger
	}
	level := "info"
	if a.cfg != nil {
		level = a.cfg.Log.Level
	}
	logger, err := newLogger(level)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		logger = zap.NewNop()
	}
	a.logger = logger
	return logger
}

func (a *app) openStore() (*store.SQLiteStore, error) {
	cfg, err := a.config()
	if err != nil {
		return nil, err
	}
	if dir := filepath.Dir(cfg.Database.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}
	return store.NewSQLiteStore(cfg.Database.Path)
}

// newLogger builds a development logger for "debug" and a production one otherwise.
func newLogger(level string) (*zap.Logger, error) {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "debug" {
		return zap.NewDevelopmentConfig().Build()
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Encoding = "console"
	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, err
		}
		zcfg.Level = lvl
	}
	return zcfg.Build()
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "diagflow",
		Short:         "UDS-over-DoIP trace analysis CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&a.cfgPath, "config", "", "config file path")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "enable debug logging")

	root.AddCommand(newInitCmd())
	root.AddCommand(newImportCmd(a))
	root.AddCommand(newAnalyzeCmd(a))
	root.AddCommand(newListCmd(a))
	root.AddCommand(newShowCmd(a))
	root.AddCommand(newDeleteCmd(a))
	root.AddCommand(newDecodeCmd())
	root.AddCommand(newKnowledgeCmd(a))
	root.AddCommand(newODXCmd(a))
	root.AddCommand(newServeCmd(a))

	return root
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize ~/.diagflow directory and default config",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			baseDir := filepath.Join(home, ".diagflow")
			if err := os.MkdirAll(baseDir, 0o755); err != nil {
				return err
			}

			cfgFile := filepath.Join(baseDir, "config.yaml")
			if _, err := os.Stat(cfgFile); errors.Is(err, os.ErrNotExist) {
				if err := os.WriteFile(cfgFile, []byte(defaultConfigContent), 0o644); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "created", cfgFile)
			} else if err == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "exists", cfgFile)
			} else {
				return err
			}

			dbPath := filepath.Join(baseDir, "diagflow.db")
			s, err := store.NewSQLiteStore(dbPath)
			if err != nil {
				return err
			}
			defer s.Close()
			fmt.Fprintln(cmd.OutOrStdout(), "database ready", dbPath)
			fmt.Fprintln(cmd.OutOrStdout(), "set scope.oem, scope.model and scope.model_year in", cfgFile)
			return nil
		},
	}
}
