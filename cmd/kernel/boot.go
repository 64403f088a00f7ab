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

package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/jacobsa/timeutil"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/context"

	"github.com/ops-class/os161-sub000/internal/blockdev"
	"github.com/ops-class/os161-sub000/internal/config"
	"github.com/ops-class/os161-sub000/internal/emufs"
	"github.com/ops-class/os161-sub000/internal/fuseexport"
	"github.com/ops-class/os161-sub000/internal/logger"
	"github.com/ops-class/os161-sub000/internal/menu"
	"github.com/ops-class/os161-sub000/internal/metrics"
	"github.com/ops-class/os161-sub000/internal/sched"
	"github.com/ops-class/os161-sub000/internal/semfs"
	"github.com/ops-class/os161-sub000/internal/sfs"
	"github.com/ops-class/os161-sub000/internal/vfs"
)

// sfsImageBlocks sizes any SFS image this core formats for itself, since
// there is no separate mkfs tool in this module; a boot-time mount of a
// path that doesn't exist yet gets a fresh, empty volume this size.
const sfsImageBlocks = 8192

// metricsAddr is where /metrics is served; empty disables it. There is no
// config knob for this because it's a development convenience, not part
// of the simulated kernel's own behavior.
const metricsAddr = ":9161"

func boot(cfg config.Config, extraCmds, mountPoint string) error {
	if err := logger.InitLogFile(cfg.Logging.Rotate, cfg.Logging); err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}

	if metricsAddr != "" {
		go func() {
			http.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
			if err := http.ListenAndServe(metricsAddr, nil); err != nil {
				logger.Warnf("metrics server: %v", err)
			}
		}()
	}

	scheduler := sched.NewScheduler(cfg.NumCPUs, timeutil.RealClock())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	scheduler.Run(ctx, cfg.MigrationTick)
	defer scheduler.Stop()

	table := vfs.NewTable()
	dispatcher := menu.New(table)
	dispatcher.RegisterFS("sfs", openSFS)
	dispatcher.RegisterFS("emu", openEmu)
	dispatcher.RegisterFS("sem", openSem)

	logger.Infof("kernel: booting with %d CPUs", cfg.NumCPUs)

	var boot []string
	for _, m := range cfg.Mounts {
		boot = append(boot, fmt.Sprintf("mount %s %s %s", m.Kind, m.Path, m.Device))
		if m.Boot {
			boot = append(boot, fmt.Sprintf("bootfs %s", m.Device))
		}
	}
	if extraCmds != "" {
		boot = append(boot, extraCmds)
	}

	line := joinStatements(boot)
	if line != "" {
		if err := dispatcher.Run(line); err != nil {
			return fmt.Errorf("boot sequence: %w", err)
		}
	}

	if mountPoint == "" {
		logger.Infof("kernel: boot complete, no FUSE mount requested")
		<-ctx.Done()
		return nil
	}

	return exportOverFUSE(table, mountPoint)
}

func joinStatements(stmts []string) string {
	out := ""
	for i, s := range stmts {
		if i > 0 {
			out += "; "
		}
		out += s
	}
	return out
}

func openSFS(device string) (vfs.FileSystem, error) {
	if _, err := os.Stat(device); os.IsNotExist(err) {
		f, err := os.Create(device)
		if err != nil {
			return nil, fmt.Errorf("creating sfs image %s: %w", device, err)
		}
		if err := f.Truncate(int64(sfsImageBlocks) * blockdev.BlockSize); err != nil {
			f.Close()
			return nil, fmt.Errorf("sizing sfs image %s: %w", device, err)
		}
		f.Close()

		dev, err := blockdev.OpenFileDevice(device, sfsImageBlocks)
		if err != nil {
			return nil, err
		}
		if err := sfs.Format(dev, device); err != nil {
			dev.Close()
			return nil, err
		}
		dev.Close()
	}

	dev, err := blockdev.OpenFileDevice(device, sfsImageBlocks)
	if err != nil {
		return nil, err
	}
	return sfs.Mount(device, dev)
}

func openEmu(device string) (vfs.FileSystem, error) {
	return emufs.Mount(device, emufs.NewMockHardware())
}

func openSem(device string) (vfs.FileSystem, error) {
	return semfs.New(), nil
}

func exportOverFUSE(table *vfs.Table, mountPoint string) error {
	bootFS, err := table.ResolveBootFS()
	if err != nil {
		return fmt.Errorf("fuse export: %w", err)
	}
	root, err := bootFS.Root()
	if err != nil {
		return fmt.Errorf("fuse export: resolving root: %w", err)
	}

	exported := fuseexport.New(root, uint32(os.Getuid()), uint32(os.Getgid()))
	server := fuseutil.NewFileSystemServer(exported)

	mfs, err := fuse.Mount(mountPoint, server, &fuse.MountConfig{})
	if err != nil {
		return fmt.Errorf("fuse mount: %w", err)
	}

	registerSIGINTHandler(mountPoint)

	logger.Infof("kernel: exported %s over FUSE at %s", bootFS.Name(), mountPoint)
	return mfs.Join(context.Background())
}

func registerSIGINTHandler(mountPoint string) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt)

	go func() {
		for range signalChan {
			logger.Infof("kernel: received SIGINT, attempting to unmount %s", mountPoint)
			if err := fuse.Unmount(mountPoint); err != nil {
				logger.Errorf("kernel: unmount failed: %v", err)
				continue
			}
			logger.Infof("kernel: unmounted %s", mountPoint)
			return
		}
	}()
}
