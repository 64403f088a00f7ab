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

// Command kernel boots the simulated core: it reads a config file
// describing the number of CPUs and the boot-time mount table, brings up
// the scheduler and the VFS namespace, runs the menu's boot string against
// it, and optionally exports the result over FUSE (see cmd/kernel/boot.go).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ops-class/os161-sub000/internal/config"
)

var (
	cfgFile string
	bindErr error
	cfgErr  error
	Config  config.Config

	mountPoint string
	bootCmds   string
	dumpConfig bool
)

var rootCmd = &cobra.Command{
	Use:   "kernel [flags]",
	Short: "Boot the simulated kernel core and optionally export it over FUSE",
	RunE: func(cmd *cobra.Command, args []string) error {
		if bindErr != nil {
			return bindErr
		}
		if cfgErr != nil {
			return cfgErr
		}
		if dumpConfig {
			out, err := yaml.Marshal(Config)
			if err != nil {
				return fmt.Errorf("dumping config: %w", err)
			}
			fmt.Fprint(os.Stdout, string(out))
			return nil
		}
		return boot(Config, bootCmds, mountPoint)
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "path to the YAML boot configuration")
	rootCmd.PersistentFlags().StringVar(&bootCmds, "boot-cmds", "", "extra semicolon-separated menu commands to run after the configured mounts")
	rootCmd.PersistentFlags().StringVar(&mountPoint, "fuse-mount", "", "directory to export the boot filesystem over FUSE; empty disables export")
	rootCmd.PersistentFlags().BoolVar(&dumpConfig, "dump-config", false, "print the fully resolved configuration as YAML and exit")

	config.BindFlags(rootCmd.PersistentFlags(), viper.GetViper())
}

func initConfig() {
	v := viper.GetViper()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			cfgErr = fmt.Errorf("reading config file: %w", err)
			return
		}
	}

	Config, cfgErr = config.Decode(v)
}
