// Package config loads engine configuration from YAML and maps it onto
// tree options.
package config

import (
	"os"

	"github.com/goccy/go-yaml"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"layerkv/utils"
	"layerkv/utils/cmp"
)

type Config struct {
	Storage    StorageConfig    `yaml:"storage"`
	Compaction CompactionConfig `yaml:"compaction"`
	Logging    LoggerConfig     `yaml:"logger"`
}

// StorageConfig covers on-disk layout and mutable-layer sizing.
type StorageConfig struct {
	Dir             string `yaml:"dir"`
	MemtableBytes   int64  `yaml:"memtable_bytes"`
	BlockSizeBytes  int    `yaml:"block_size_bytes"`
	BlockCacheSize  int    `yaml:"block_cache_size"`
	Compression     bool   `yaml:"compression"`
	MaxIOConcurrent int64  `yaml:"max_io_concurrent"`
}

// CompactionConfig tunes layer selection. The split ratio is the point at
// which the next-older layer counts as disproportionately large; the
// single-large-layer backoff against the journal reclaim size is fixed
// behavior and not configurable.
type CompactionConfig struct {
	SplitRatioNum int64 `yaml:"split_ratio_num"`
	SplitRatioDen int64 `yaml:"split_ratio_den"`
}

type LoggerConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns a baseline development config.
func Default() Config {
	return Config{
		Storage: StorageConfig{
			Dir:             "./data",
			MemtableBytes:   64 << 20,
			BlockSizeBytes:  4 << 10,
			BlockCacheSize:  1024,
			MaxIOConcurrent: 4,
		},
		Compaction: CompactionConfig{SplitRatioNum: 4, SplitRatioDen: 3},
		Logging:    LoggerConfig{Level: "info"},
	}
}

// Load reads a YAML file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	if cfg.Compaction.SplitRatioNum <= 0 || cfg.Compaction.SplitRatioDen <= 0 {
		return cfg, errors.New("split ratio must be positive")
	}
	return cfg, nil
}

// Options maps the config onto tree options with a byte-ordered keyspace.
func (c Config) Options() *utils.Options {
	return &utils.Options{
		Comparable:       cmp.ByteComparator{},
		WorkDir:          c.Storage.Dir,
		MemTableSize:     c.Storage.MemtableBytes,
		BlockSize:        c.Storage.BlockSizeBytes,
		BlockCacheSize:   c.Storage.BlockCacheSize,
		Compression:      c.Storage.Compression,
		SplitRatioNum:    c.Compaction.SplitRatioNum,
		SplitRatioDen:    c.Compaction.SplitRatioDen,
		MaxIOConcurrency: c.Storage.MaxIOConcurrent,
	}
}

// Logger builds a zap logger per the logging section.
func (c Config) Logger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.Logging.Level)
	if err != nil {
		return nil, errors.Wrapf(err, "log level %q", c.Logging.Level)
	}
	zc := zap.NewProductionConfig()
	if !c.Logging.JSON {
		zc.Encoding = "console"
	}
	zc.Level = level
	return zc.Build()
}
