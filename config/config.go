// Package config loads engine and checkpoint store settings from YAML or
// from a generic map.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/smallnest/graphrun/graph"
	"github.com/smallnest/graphrun/log"
	"github.com/smallnest/graphrun/store"
	filestore "github.com/smallnest/graphrun/store/file"
	"github.com/smallnest/graphrun/store/memory"
	mysqlstore "github.com/smallnest/graphrun/store/mysql"
	"github.com/smallnest/graphrun/store/postgres"
	redisstore "github.com/smallnest/graphrun/store/redis"
	"github.com/smallnest/graphrun/store/sqlite"
	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendSqlite   = "sqlite"
	BackendMySQL    = "mysql"
)

// Config is the complete runtime configuration.
type Config struct {
	LogLevel   string           `yaml:"log_level" mapstructure:"log_level"`
	Executor   ExecutorConfig   `yaml:"executor" mapstructure:"executor"`
	Checkpoint CheckpointConfig `yaml:"checkpoint" mapstructure:"checkpoint"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
}

// ExecutorConfig holds the executor limits and routing.
type ExecutorConfig struct {
	MaxSteps     int           `yaml:"max_steps" mapstructure:"max_steps"`
	Timeout      time.Duration `yaml:"timeout" mapstructure:"timeout"`
	Routing      string        `yaml:"routing" mapstructure:"routing"`
	Parallelism  int           `yaml:"parallelism" mapstructure:"parallelism"`
	StreamBuffer int           `yaml:"stream_buffer" mapstructure:"stream_buffer"`
	// MergePolicy is the default policy for concurrent writes to a key.
	MergePolicy string `yaml:"merge_policy" mapstructure:"merge_policy"`
}

// CheckpointConfig selects the checkpoint triggers and retention.
type CheckpointConfig struct {
	Enabled       bool                  `yaml:"enabled" mapstructure:"enabled"`
	NodeInterval  int                   `yaml:"node_interval" mapstructure:"node_interval"`
	TimeInterval  time.Duration         `yaml:"time_interval" mapstructure:"time_interval"`
	CriticalNodes []string              `yaml:"critical_nodes" mapstructure:"critical_nodes"`
	OnError       bool                  `yaml:"on_error" mapstructure:"on_error"`
	OnStart       bool                  `yaml:"on_start" mapstructure:"on_start"`
	OnComplete    bool                  `yaml:"on_complete" mapstructure:"on_complete"`
	FailOnError   bool                  `yaml:"fail_on_error" mapstructure:"fail_on_error"`
	Retention     store.RetentionPolicy `yaml:"retention" mapstructure:"retention"`
}

// StoreConfig picks a checkpoint backend and its connection settings.
type StoreConfig struct {
	Backend  string                   `yaml:"backend" mapstructure:"backend"`
	File     FileConfig               `yaml:"file" mapstructure:"file"`
	Redis    redisstore.RedisOptions  `yaml:"redis" mapstructure:"redis"`
	Postgres postgres.PostgresOptions `yaml:"postgres" mapstructure:"postgres"`
	Sqlite   sqlite.SqliteOptions     `yaml:"sqlite" mapstructure:"sqlite"`
	MySQL    mysqlstore.MySQLOptions  `yaml:"mysql" mapstructure:"mysql"`
}

// FileConfig locates the file backend.
type FileConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// Default returns an in-memory setup with error and completion checkpoints.
func Default() Config {
	return Config{
		LogLevel: "info",
		Executor: ExecutorConfig{
			MaxSteps:     500,
			Routing:      graph.RoutingFanOut.String(),
			Parallelism:  1,
			StreamBuffer: 64,
			MergePolicy:  graph.PreferSecond.String(),
		},
		Checkpoint: CheckpointConfig{
			Enabled:    true,
			OnError:    true,
			OnComplete: true,
		},
		Store: StoreConfig{
			Backend: BackendMemory,
			File:    FileConfig{Dir: ".graphrun/checkpoints"},
			Sqlite:  sqlite.SqliteOptions{Path: ".graphrun/checkpoints.db"},
		},
	}
}

// Load reads a YAML file on top of Default.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML on top of Default. Unknown keys are errors.
func Parse(data []byte) (Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("invalid yaml: %w", err)
	}
	return FromMap(raw)
}

// FromMap decodes a generic map, as produced by YAML or JSON decoders, on
// top of Default. Durations may be given as strings such as "30s".
func FromMap(m map[string]any) (Config, error) {
	cfg := Default()
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		TagName:          "mapstructure",
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return Config{}, err
	}
	if err := dec.Decode(m); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if _, err := graph.ParseRoutingMode(c.Executor.Routing); err != nil {
		errs = append(errs, err)
	}
	if _, err := graph.ParseMergePolicy(c.Executor.MergePolicy); err != nil {
		errs = append(errs, err)
	}
	if c.Executor.MaxSteps < 0 {
		errs = append(errs, fmt.Errorf("executor.max_steps must not be negative: %d", c.Executor.MaxSteps))
	}
	if c.Executor.Parallelism < 0 {
		errs = append(errs, fmt.Errorf("executor.parallelism must not be negative: %d", c.Executor.Parallelism))
	}
	if c.Executor.Timeout < 0 {
		errs = append(errs, errors.New("executor.timeout must not be negative"))
	}
	if c.Checkpoint.NodeInterval < 0 {
		errs = append(errs, errors.New("checkpoint.node_interval must not be negative"))
	}

	switch strings.ToLower(c.Store.Backend) {
	case BackendMemory:
	case BackendFile:
		if c.Store.File.Dir == "" {
			errs = append(errs, errors.New("store.file.dir is required"))
		}
	case BackendRedis:
		if c.Store.Redis.Addr == "" {
			errs = append(errs, errors.New("store.redis.addr is required"))
		}
	case BackendPostgres:
		if c.Store.Postgres.ConnString == "" {
			errs = append(errs, errors.New("store.postgres.conn_string is required"))
		}
	case BackendSqlite:
		if c.Store.Sqlite.Path == "" {
			errs = append(errs, errors.New("store.sqlite.path is required"))
		}
	case BackendMySQL:
		if _, err := mysqlstore.ParseOptions(c.Store.MySQL); err != nil {
			errs = append(errs, err)
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q", c.Store.Backend))
	}
	return errors.Join(errs...)
}

// Logger builds the golog-backed logger for LogLevel.
func (c Config) Logger() log.Logger {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		level = log.LogLevelInfo
	}
	return log.NewDefaultLogger(level)
}

// ExecutorOptions converts the executor section to graph options. extra
// options are appended and win over the configured ones.
func (c Config) ExecutorOptions(extra ...graph.Option) ([]graph.Option, error) {
	routing, err := graph.ParseRoutingMode(c.Executor.Routing)
	if err != nil {
		return nil, err
	}
	policy, err := graph.ParseMergePolicy(c.Executor.MergePolicy)
	if err != nil {
		return nil, err
	}
	opts := []graph.Option{
		graph.WithMaxSteps(c.Executor.MaxSteps),
		graph.WithTimeout(c.Executor.Timeout),
		graph.WithRoutingMode(routing),
		graph.WithParallelism(c.Executor.Parallelism),
		graph.WithMergeConfig(graph.NewMergeConfig().WithDefault(policy)),
	}
	return append(opts, extra...), nil
}

// CheckpointOptions converts the checkpoint section.
func (c Config) CheckpointOptions() graph.CheckpointOptions {
	cp := c.Checkpoint
	return graph.CheckpointOptions{
		NodeInterval:          cp.NodeInterval,
		TimeInterval:          cp.TimeInterval,
		CriticalNodes:         append([]string(nil), cp.CriticalNodes...),
		OnError:               cp.OnError,
		OnStart:               cp.OnStart,
		OnComplete:            cp.OnComplete,
		FailOnCheckpointError: cp.FailOnError,
	}
}

// StreamConfig converts the stream buffer setting.
func (c Config) StreamConfig() graph.StreamConfig {
	sc := graph.DefaultStreamConfig()
	if c.Executor.StreamBuffer > 0 {
		sc.BufferSize = c.Executor.StreamBuffer
	}
	return sc
}

// OpenStore connects the configured backend. The returned close function
// releases its connections and is never nil.
func (c Config) OpenStore(ctx context.Context) (store.CheckpointStore, func() error, error) {
	noop := func() error { return nil }
	switch strings.ToLower(c.Store.Backend) {
	case BackendMemory:
		return memory.NewMemoryCheckpointStore(), noop, nil
	case BackendFile:
		st, err := filestore.NewFileCheckpointStore(c.Store.File.Dir)
		if err != nil {
			return nil, noop, err
		}
		return st, noop, nil
	case BackendRedis:
		st := redisstore.NewRedisCheckpointStore(c.Store.Redis)
		return st, st.Close, nil
	case BackendPostgres:
		st, err := postgres.NewPostgresCheckpointStore(ctx, c.Store.Postgres)
		if err != nil {
			return nil, noop, err
		}
		return st, func() error { st.Close(); return nil }, nil
	case BackendSqlite:
		st, err := sqlite.NewSqliteCheckpointStore(c.Store.Sqlite)
		if err != nil {
			return nil, noop, err
		}
		return st, st.Close, nil
	case BackendMySQL:
		st, err := mysqlstore.NewMySQLCheckpointStore(ctx, c.Store.MySQL)
		if err != nil {
			return nil, noop, err
		}
		return st, st.Close, nil
	}
	return nil, noop, fmt.Errorf("unknown store backend %q", c.Store.Backend)
}

// CheckpointManager opens the store and builds a manager for it, or
// returns nil when checkpointing is disabled.
func (c Config) CheckpointManager(ctx context.Context, logger log.Logger, mopts ...graph.ManagerOption) (*graph.CheckpointManager, func() error, error) {
	if !c.Checkpoint.Enabled {
		return nil, func() error { return nil }, nil
	}
	st, closeFn, err := c.OpenStore(ctx)
	if err != nil {
		return nil, closeFn, fmt.Errorf("failed to open %s checkpoint store: %w", c.Store.Backend, err)
	}
	mopts = append([]graph.ManagerOption{graph.WithManagerLogger(logger)}, mopts...)
	return graph.NewCheckpointManager(st, c.CheckpointOptions(), mopts...), closeFn, nil
}
