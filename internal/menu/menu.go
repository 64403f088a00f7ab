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

// Package menu implements the boot-time/interactive command dispatcher
// (spec §6.3): a fixed table of named commands the core registers
// (mount, unmount, bootfs, sync), fed either a semicolon-separated
// bootloader string or a single interactive line. It has no state of
// its own beyond the table and the vfs.Table it was built around;
// everything it dispatches to already exists elsewhere in this module.
package menu

import (
	"fmt"
	"strings"

	"github.com/ops-class/os161-sub000/internal/logger"
	"github.com/ops-class/os161-sub000/internal/vfs"
)

// Command is one dispatch-table entry: args excludes the command word
// itself. An error is reported but never aborts the rest of a
// semicolon-separated batch (spec §6.3: no exit codes).
type Command func(args []string) error

// FSOpener mounts device (a filesystem-specific, arbitrary string — a
// disk image path, "hardware", the literal device name, whatever that
// filesystem kind needs) and returns the resulting vfs.FileSystem.
// cmd/kernel registers one of these per filesystem kind this core
// supports (sfs, emu, sem) at boot.
type FSOpener func(device string) (vfs.FileSystem, error)

// Dispatcher holds the fixed command table plus the registered
// filesystem openers backing the "mount" command.
type Dispatcher struct {
	table   *vfs.Table
	cmds    map[string]Command
	openers map[string]FSOpener
}

// New creates a Dispatcher wired to table, with mount/unmount/bootfs/
// sync already registered. Callers add filesystem-kind openers with
// RegisterFS and, if desired, further commands with Register.
func New(table *vfs.Table) *Dispatcher {
	d := &Dispatcher{
		table:   table,
		cmds:    make(map[string]Command),
		openers: make(map[string]FSOpener),
	}
	d.Register("mount", d.cmdMount)
	d.Register("unmount", d.cmdUnmount)
	d.Register("bootfs", d.cmdBootFS)
	d.Register("sync", d.cmdSync)
	return d
}

// Register adds or replaces a command-table entry.
func (d *Dispatcher) Register(name string, cmd Command) {
	d.cmds[name] = cmd
}

// RegisterFS wires kind (e.g. "sfs", "emu", "sem") into the mount
// command, so `mount <kind> <device> [name]` knows how to open it.
func (d *Dispatcher) RegisterFS(kind string, opener FSOpener) {
	d.openers[kind] = opener
}

// Run tokenizes line as semicolon-separated commands, each further
// tokenized by spaces/tabs, and dispatches every one in order. Each
// command's failure is logged and collected; Run keeps going so one
// bad command in a boot string doesn't stop the rest (spec §6.3: no
// exit codes, no environment variables).
func (d *Dispatcher) Run(line string) error {
	var errs []string

	for _, stmt := range strings.Split(line, ";") {
		fields := strings.Fields(stmt)
		if len(fields) == 0 {
			continue
		}
		name, args := fields[0], fields[1:]

		cmd, ok := d.cmds[name]
		if !ok {
			msg := fmt.Sprintf("menu: unknown command %q", name)
			logger.Errorf("%s", msg)
			errs = append(errs, msg)
			continue
		}
		if err := cmd(args); err != nil {
			msg := fmt.Sprintf("menu: %s: %v", name, err)
			logger.Errorf("%s", msg)
			errs = append(errs, msg)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// cmdMount implements `mount <kind> <device> [name]`. name defaults to
// device, matching the OS/161 convention that a device's own name
// (e.g. "lhd0:") doubles as its mount point unless told otherwise.
func (d *Dispatcher) cmdMount(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: mount <kind> <device> [name]")
	}
	kind, device := args[0], args[1]
	name := device
	if len(args) >= 3 {
		name = args[2]
	}

	opener, ok := d.openers[kind]
	if !ok {
		return fmt.Errorf("no filesystem kind registered: %q", kind)
	}
	fs, err := opener(device)
	if err != nil {
		return err
	}

	d.table.Mount(name, fs)
	logger.Infof("menu: mounted %s (%s) on %s", device, kind, name)
	return nil
}

// cmdUnmount implements `unmount <name>`.
func (d *Dispatcher) cmdUnmount(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: unmount <name>")
	}
	if err := d.table.Unmount(args[0]); err != nil {
		return err
	}
	logger.Infof("menu: unmounted %s", args[0])
	return nil
}

// cmdBootFS implements `bootfs <name>`; with no argument it just logs
// the current boot fs resolution (spec §6.3's "bootfs alias").
func (d *Dispatcher) cmdBootFS(args []string) error {
	if len(args) == 0 {
		fs, err := d.table.ResolveBootFS()
		if err != nil {
			return err
		}
		logger.Infof("menu: bootfs is %s", fs.Name())
		return nil
	}
	if len(args) != 1 {
		return fmt.Errorf("usage: bootfs [name]")
	}
	if err := d.table.SetBootFS(args[0]); err != nil {
		return err
	}
	logger.Infof("menu: bootfs set to %s", args[0])
	return nil
}

// cmdSync implements `sync`, flushing every mounted filesystem.
func (d *Dispatcher) cmdSync(args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("usage: sync")
	}
	if err := d.table.Sync(); err != nil {
		return err
	}
	logger.Infof("menu: synced all mounted filesystems")
	return nil
}
