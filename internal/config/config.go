// Package config defines Zerver's process-wide configuration surface: pool
// sizing, timeouts, the compute budget enforcer, and telemetry promotion
// thresholds (spec §4.5, §4.7, §4.8). It follows the teacher's
// load-then-validate shape: YAML via gopkg.in/yaml.v3, struct validation via
// go-playground/validator/v10 with a couple of package-local custom tags.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	zerrors "github.com/zerverhq/zerver/pkg/errors"
)

// Config is the root configuration document.
type Config struct {
	Server  ServerConfig  `yaml:"server" validate:"required"`
	Pools   PoolsConfig   `yaml:"pools" validate:"required"`
	Budget  BudgetConfig  `yaml:"budget"`
	Tracing TracingConfig `yaml:"tracing"`
}

// ServerConfig holds the HTTP frontend's listening and deadline settings.
type ServerConfig struct {
	Addr           string        `yaml:"addr" validate:"required,hostname_port|fqdn_port"`
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"required"`
	DrainTimeout   time.Duration `yaml:"drain_timeout" validate:"required"`
}

// PoolConfig configures one worker pool (spec §4.5 "Pool topology").
type PoolConfig struct {
	Workers     int  `yaml:"workers" validate:"required,gt=0"`
	Capacity    int  `yaml:"capacity" validate:"required,gt=0"`
	FairnessK   int  `yaml:"fairness_k" validate:"required,gt=0"`
	BlockOnFull bool `yaml:"block_on_full"`
}

// ComputeMode selects how the compute pool relates to the continuation pool
// (spec §4.5 "three modes — Disabled, Shared, Dedicated").
type ComputeMode string

const (
	ComputeDisabled ComputeMode = "disabled"
	ComputeShared   ComputeMode = "shared"
	ComputeDedicated ComputeMode = "dedicated"
)

// PoolsConfig configures the three worker pools.
type PoolsConfig struct {
	Continuation PoolConfig  `yaml:"continuation" validate:"required"`
	Effector     PoolConfig  `yaml:"effector" validate:"required"`
	ComputeMode  ComputeMode `yaml:"compute_mode" validate:"required,computemode"`
	Compute      PoolConfig  `yaml:"compute" validate:"required_if=ComputeMode dedicated"`
	ReactorIOWorkers int     `yaml:"reactor_io_workers" validate:"required,gt=0"`
	ReactorQueue     int     `yaml:"reactor_queue" validate:"required,gt=0"`
}

// BudgetConfig mirrors spec §4.7's enforcer configuration.
type BudgetConfig struct {
	MaxRequestCPUMs      int64         `yaml:"max_request_cpu_ms" validate:"gte=0"`
	MaxTaskCPUMs         int64         `yaml:"max_task_cpu_ms" validate:"gte=0"`
	Enforce              bool          `yaml:"enforce"`
	ParkOnExceeded       bool          `yaml:"park_on_exceeded"`
	DefaultPriority      int           `yaml:"default_priority" validate:"gte=0"`
	DefaultYieldInterval time.Duration `yaml:"default_yield_interval"`
}

// TracingConfig mirrors spec §4.8's promotion thresholds.
type TracingConfig struct {
	PromoteQueueMs float64 `yaml:"promote_queue_ms" validate:"gte=0"`
	PromoteParkMs  float64 `yaml:"promote_park_ms" validate:"gte=0"`
	ForcePromote   bool    `yaml:"force_promote"`
}

// Default returns the configuration the teacher-style DefaultConfig helpers
// across the pack return: conservative pool sizing and the spec's default
// thresholds, meant as a starting point for local development.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:           "127.0.0.1:8080",
			RequestTimeout: 30 * time.Second,
			DrainTimeout:   10 * time.Second,
		},
		Pools: PoolsConfig{
			Continuation:     PoolConfig{Workers: 4, Capacity: 1024, FairnessK: 8},
			Effector:         PoolConfig{Workers: 4, Capacity: 1024, FairnessK: 8},
			ComputeMode:      ComputeShared,
			Compute:          PoolConfig{Workers: 4, Capacity: 1024, FairnessK: 8},
			ReactorIOWorkers: 4,
			ReactorQueue:     1024,
		},
		Budget: BudgetConfig{
			MaxRequestCPUMs:      1000,
			MaxTaskCPUMs:         500,
			Enforce:              true,
			ParkOnExceeded:       true,
			DefaultPriority:      1,
			DefaultYieldInterval: 50 * time.Millisecond,
		},
		Tracing: TracingConfig{PromoteQueueMs: 5, PromoteParkMs: 5},
	}
}

// Load reads, parses, and validates a YAML configuration file (teacher
// shape: internal/config.ParseConfig in the source repo).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, zerrors.New(zerrors.Internal, "config", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		if line, ok := extractLine(err); ok {
			return nil, zerrors.New(zerrors.InvalidInput, "config", path,
				fmt.Errorf("line %d: %w", line, err))
		}
		return nil, zerrors.New(zerrors.InvalidInput, "config", path, err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var yamlLineRegex = regexp.MustCompile(`line (\d+)`)

// extractLine pulls a line number out of yaml.v3's error text, the way the
// teacher's parser.go does, so a bad config points at something useful.
func extractLine(err error) (int, bool) {
	m := yamlLineRegex.FindStringSubmatch(err.Error())
	if m == nil {
		return 0, false
	}
	var line int
	if _, scanErr := fmt.Sscanf(m[1], "%d", &line); scanErr != nil {
		return 0, false
	}
	return line, true
}

// Validate runs struct validation plus the cross-field checks validator
// tags cannot express.
func Validate(cfg *Config) error {
	v := validatorInstance()
	if err := v.Struct(cfg); err != nil {
		return zerrors.New(zerrors.InvalidInput, "config", "", err)
	}

	if cfg.Pools.ComputeMode == ComputeDedicated {
		if cfg.Pools.Compute.Workers <= 0 {
			return zerrors.New(zerrors.InvalidInput, "config", "pools.compute.workers",
				fmt.Errorf("dedicated compute mode requires pools.compute.workers > 0"))
		}
	}
	return nil
}
