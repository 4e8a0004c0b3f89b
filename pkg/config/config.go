// Package config loads engine settings from a YAML file.
//
//	data_dir: /var/lib/kvs
//	segment_size: 67108864
//	sync_writes: false
//	mmap_sealed_segments: true
//	read_cache_entries: 1024
//	log_level: info
//	compaction:
//	  auto: true
//	  min_obsolete_bytes: 1048576
//	  obsolete_ratio: 0.5
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/dd0wney/cluso-kvs/pkg/kvs"
	"github.com/dd0wney/cluso-kvs/pkg/logging"
	"github.com/dd0wney/cluso-kvs/pkg/metrics"
)

// validate is a singleton validator instance
var validate = validator.New()

// Config is the on-disk configuration of one engine.
type Config struct {
	DataDir            string           `yaml:"data_dir" validate:"required"`
	SegmentSize        uint64           `yaml:"segment_size" validate:"omitempty,min=1024"`
	SyncWrites         bool             `yaml:"sync_writes"`
	MmapSealedSegments bool             `yaml:"mmap_sealed_segments"`
	ReadCacheEntries   int              `yaml:"read_cache_entries" validate:"min=0"`
	LogLevel           string           `yaml:"log_level" validate:"oneof=debug info warn warning error"`
	Compaction         CompactionConfig `yaml:"compaction"`
}

// CompactionConfig mirrors kvs.CompactionPolicy.
type CompactionConfig struct {
	Auto             bool    `yaml:"auto"`
	MinObsoleteBytes uint64  `yaml:"min_obsolete_bytes"`
	ObsoleteRatio    float64 `yaml:"obsolete_ratio" validate:"gte=0,lte=1"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	policy := kvs.DefaultCompactionPolicy()
	return Config{
		DataDir:     ".",
		SegmentSize: kvs.DefaultSegmentSize,
		LogLevel:    "warn",
		Compaction: CompactionConfig{
			Auto:             policy.Auto,
			MinObsoleteBytes: policy.MinObsoleteBytes,
			ObsoleteRatio:    policy.ObsoleteRatio,
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		cfg := Default()
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := Parse(bytes.NewReader(data))
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML from r over the defaults and validates the result.
// Unknown keys are rejected.
func Parse(r io.Reader) (Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}
	return nil
}

// Level returns the configured log level.
func (c Config) Level() logging.Level {
	level, _ := logging.ParseLevel(c.LogLevel)
	return level
}

// CompactionPolicy converts the compaction section.
func (c Config) CompactionPolicy() kvs.CompactionPolicy {
	return kvs.CompactionPolicy{
		Auto:             c.Compaction.Auto,
		MinObsoleteBytes: c.Compaction.MinObsoleteBytes,
		ObsoleteRatio:    c.Compaction.ObsoleteRatio,
	}
}

// EngineOptions converts the configuration to engine options. logger and
// registry may be nil.
func (c Config) EngineOptions(logger logging.Logger, registry *metrics.Registry) []kvs.Option {
	opts := []kvs.Option{
		kvs.WithSegmentSize(c.SegmentSize),
		kvs.WithSyncWrites(c.SyncWrites),
		kvs.WithMmapSealedSegments(c.MmapSealedSegments),
		kvs.WithReadCache(c.ReadCacheEntries),
		kvs.WithCompactionPolicy(c.CompactionPolicy()),
	}
	if logger != nil {
		opts = append(opts, kvs.WithLogger(logger))
	}
	if registry != nil {
		opts = append(opts, kvs.WithMetrics(registry))
	}
	return opts
}

func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) || len(validationErrs) == 0 {
		return err
	}

	e := validationErrs[0]
	field := e.Namespace()
	switch e.Tag() {
	case "required":
		return fmt.Errorf("%s: field is required", field)
	case "min", "gte":
		return fmt.Errorf("%s: must be at least %s", field, e.Param())
	case "lte":
		return fmt.Errorf("%s: must not exceed %s", field, e.Param())
	case "oneof":
		return fmt.Errorf("%s: must be one of [%s], got %q", field, e.Param(), e.Value())
	default:
		return fmt.Errorf("%s: validation failed (%s)", field, e.Tag())
	}
}
