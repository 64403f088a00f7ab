// Copyright 2024 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config defines the kernel's boot-time configuration: the number
// of simulated CPUs, the disk image to mount as SFS, the emulator and
// semfs mount points, and the ambient logging/pool-debug knobs. Values are
// decoded from a YAML file via viper + mapstructure and may be overridden
// by command line flags (see cmd/kernel).
package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Severity names, shared by internal/logger.
const (
	TRACE   = "TRACE"
	DEBUG   = "DEBUG"
	INFO    = "INFO"
	WARNING = "WARNING"
	ERROR   = "ERROR"
	OFF     = "OFF"
)

// LogRotateConfig mirrors gcsfuse's log-rotation knobs.
type LogRotateConfig struct {
	MaxFileSizeMB   int  `mapstructure:"max-file-size-mb"`
	BackupFileCount int  `mapstructure:"backup-file-count"`
	Compress        bool `mapstructure:"compress"`
}

func DefaultLogRotateConfig() LogRotateConfig {
	return LogRotateConfig{
		MaxFileSizeMB:   100,
		BackupFileCount: 5,
		Compress:        true,
	}
}

// Logging holds where and how the kernel should log.
type Logging struct {
	Severity string `mapstructure:"severity"`
	Format   string `mapstructure:"format"`
	FilePath string `mapstructure:"file-path"`
	Rotate   LogRotateConfig
}

// PoolDebug selects which of the L0 allocator's optional debugging modes
// (§4.1) are compiled-in behaviors to enable at runtime.
type PoolDebug struct {
	FillOnFree  bool `mapstructure:"fill-on-free"`
	GuardBands  bool `mapstructure:"guard-bands"`
	Labels      bool `mapstructure:"labels"`
	SweepOnFree bool `mapstructure:"sweep-on-free"`
}

// MountSpec names one entry of the boot-time mount table (§6.3).
type MountSpec struct {
	Device string `mapstructure:"device"`
	Kind   string `mapstructure:"kind"` // "sfs", "emu", "sem"
	Path   string `mapstructure:"path"` // disk image path for "sfs"; device index for "emu"
	Boot   bool   `mapstructure:"boot"` // becomes the bootfs alias
}

// Config is the fully decoded boot configuration.
type Config struct {
	NumCPUs       int           `mapstructure:"num-cpus"`
	MigrationTick time.Duration `mapstructure:"migration-tick"`
	Logging       Logging       `mapstructure:"logging"`
	PoolDebug     PoolDebug     `mapstructure:"pool-debug"`
	Mounts        []MountSpec   `mapstructure:"mounts"`
}

func Default() Config {
	return Config{
		NumCPUs:       4,
		MigrationTick: 100 * time.Millisecond,
		Logging: Logging{
			Severity: INFO,
			Format:   "text",
			Rotate:   DefaultLogRotateConfig(),
		},
	}
}

// BindFlags registers pflag flags on fs mirroring every Config field that
// makes sense to override at the command line, in the style of gcsfuse's
// cmd/root.go flag registration.
func BindFlags(fs *pflag.FlagSet, v *viper.Viper) {
	fs.Int("num-cpus", 4, "number of simulated CPUs")
	fs.Duration("migration-tick", 100*time.Millisecond, "period of the simulated timer interrupt that drives load balancing")
	fs.String("logging.severity", INFO, "TRACE, DEBUG, INFO, WARNING, ERROR, or OFF")
	fs.String("logging.format", "text", "text or json")
	fs.String("logging.file-path", "", "log file path; empty means stderr")

	_ = v.BindPFlags(fs)
}

// Decode turns a viper instance (already populated from flags/file/env)
// into a validated Config.
func Decode(v *viper.Viper) (Config, error) {
	cfg := Default()

	decoderOpt := func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.ErrorUnused = false
	}

	if err := v.Unmarshal(&cfg, decoderOpt); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) Validate() error {
	if c.NumCPUs <= 0 {
		return fmt.Errorf("num-cpus must be positive, got %d", c.NumCPUs)
	}

	switch c.Logging.Severity {
	case TRACE, DEBUG, INFO, WARNING, ERROR, OFF, "":
	default:
		return fmt.Errorf("unknown logging severity %q", c.Logging.Severity)
	}

	for _, m := range c.Mounts {
		switch m.Kind {
		case "sfs", "emu", "sem":
		default:
			return fmt.Errorf("mount %q: unknown kind %q", m.Device, m.Kind)
		}
	}

	return nil
}
