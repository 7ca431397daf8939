package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the lmfit configuration file (~/.config/lmfit/config.yaml).
// Pointer fields distinguish "not set" from zero values.
type Config struct {
	// Engine
	Device        string   `yaml:"device"`
	Solver        string   `yaml:"solver"`
	MemoryMargin  *float64 `yaml:"memory_margin"`
	MemoryReserve string   `yaml:"memory_reserve"`
	MemoryBudget  string   `yaml:"memory_budget"`
	MaxChunkSize  *int     `yaml:"max_chunk_size"`
	Workers       *int     `yaml:"workers"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "lmfit", "config.yaml")
}

// LoadConfig reads the config file at path, or the default path when empty.
// A missing file yields a zero Config; a malformed one is an error.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		path = configPath()
	}
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func applyLoggingConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyEngineConfig applies config file defaults to the engine flags that
// were not set on the command line.
func applyEngineConfig(c *cli.Command, cfg Config) {
	if cfg.Device != "" && !c.IsSet("device") {
		deviceName = cfg.Device
	}
	if cfg.Solver != "" && !c.IsSet("solver") {
		solverName = cfg.Solver
	}
	if cfg.MemoryMargin != nil && !c.IsSet("memory-margin") {
		memoryMargin = *cfg.MemoryMargin
	}
	if cfg.MemoryReserve != "" && !c.IsSet("memory-reserve") {
		memoryReserve = cfg.MemoryReserve
	}
	if cfg.MemoryBudget != "" && !c.IsSet("memory-budget") {
		memoryBudget = cfg.MemoryBudget
	}
	if cfg.MaxChunkSize != nil && !c.IsSet("max-chunk-size") {
		maxChunkSize = *cfg.MaxChunkSize
	}
	if cfg.Workers != nil && !c.IsSet("workers") {
		workers = *cfg.Workers
	}
}

func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}

var sizeUnits = []struct {
	suffix string
	scale  uint64
}{
	{"kib", 1 << 10},
	{"mib", 1 << 20},
	{"gib", 1 << 30},
	{"tib", 1 << 40},
	{"kb", 1e3},
	{"mb", 1e6},
	{"gb", 1e9},
	{"tb", 1e12},
	{"k", 1 << 10},
	{"m", 1 << 20},
	{"g", 1 << 30},
	{"b", 1},
}

// parseSize parses a byte count with an optional unit suffix ("64MiB",
// "1.5GB", "4096"). The empty string is zero.
func parseSize(s string) (uint64, error) {
	orig := s
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, nil
	}
	scale := uint64(1)
	for _, u := range sizeUnits {
		if strings.HasSuffix(s, u.suffix) {
			s = strings.TrimSpace(strings.TrimSuffix(s, u.suffix))
			scale = u.scale
			break
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid size %q", orig)
	}
	return uint64(v * float64(scale)), nil
}
