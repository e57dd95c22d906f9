//
// Copyright 2023-2024 Vmbox, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

package mount

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vmbox/vmbox-rootfs/domain"
	"github.com/vmbox/vmbox-rootfs/sysio"

	"github.com/opencontainers/runtime-spec/specs-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Host mountpoint of the unified (v2) cgroup hierarchy.
const cgroupUnifiedPath = "/sys/fs/cgroup"

// The cgroup tmpfs scaffold never inherits caller flags; in particular a
// read-only request must not prevent the controller bind mounts that
// follow. Read-only is applied by a final remount instead.
const cgroupTmpfsFlags = domain.FlagNoExec | domain.FlagNoSuid | domain.FlagNoDev

// MountCgroups reconstructs the host's cgroup controller hierarchy under
// the mount's destination. On a v1 host this is a tmpfs scaffold with one
// bind mount per distinct controller hierarchy plus comount alias
// symlinks; on a v2 host it is a single cgroup2 mount.
//
// cpath maps controller name to the container's absolute cgroup directory
// within that controller's hierarchy; cgMounts maps controller name to the
// host mountpoint of the hierarchy. The bind source is the container's own
// cgroup directory, never the hierarchy root, so a container cannot see
// sibling cgroups. Controllers absent from cpath are skipped.
func (mts *MountService) MountCgroups(
	m *specs.Mount,
	rootfs string,
	flags domain.MountFlags,
	cpath, cgMounts map[string]string) error {

	if mts.cgroupV2() {
		return mts.mountCgroupsV2(m, rootfs, flags)
	}

	scaffold := &specs.Mount{
		Source:      "tmpfs",
		Type:        "tmpfs",
		Destination: m.Destination,
	}

	if err := mts.MountFrom(scaffold, rootfs, cgroupTmpfsFlags, "mode=755", ""); err != nil {
		return err
	}

	// Alias symlinks are created relative to the rootfs, so the loop below
	// runs with the rootfs as working directory.
	guard, err := sysio.NewCwdGuard()
	if err != nil {
		return err
	}
	defer guard.Restore()

	if err := os.Chdir(rootfs); err != nil {
		return err
	}

	keys := make([]string, 0, len(cgMounts))
	for key := range cgMounts {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	srcs := make(map[string]bool)

	for _, key := range keys {
		source, ok := cpath[key]
		if !ok {
			continue
		}

		// Comount aliasing keys off the hierarchy mountpoint's base name.
		base := filepath.Base(cgMounts[key])
		destination := m.Destination + "/" + base

		if srcs[source] {
			// Comounted hierarchy (e.g. cpu,cpuacct) already bound; the
			// individual controller name becomes an alias symlink.
			if key != base {
				alias := m.Destination + "/" + key
				if err := os.Symlink(destination, alias[1:]); err != nil {
					return domain.SyscallError("symlink", alias, err)
				}
			}
			continue
		}
		srcs[source] = true

		logrus.Debugf("Mounting cgroup subsystem %s", key)

		bm := &specs.Mount{
			Source:      source,
			Type:        "bind",
			Destination: destination,
		}

		mountFlags := flags.With(domain.FlagRec | domain.FlagBind)
		if strings.Contains(key, "systemd") {
			mountFlags = mountFlags.Without(domain.FlagReadOnly)
		}

		if err := mts.MountFrom(bm, rootfs, mountFlags, "", ""); err != nil {
			return err
		}

		if key != base {
			alias := m.Destination + "/" + key
			if err := os.Symlink(destination, alias[1:]); err != nil {
				return domain.SyscallError("symlink", alias, err)
			}
		}
	}

	guard.Restore()

	if flags.IsReadOnly() {
		dest := filepath.Join(rootfs, m.Destination)
		roFlags := flags.With(domain.FlagBind | domain.FlagRemount)
		if err := mts.sys.Mount(dest, dest, "", roFlags, ""); err != nil {
			return domain.SyscallError("remount", dest, err)
		}
	}

	return nil
}

func (mts *MountService) mountCgroupsV2(
	m *specs.Mount, rootfs string, flags domain.MountFlags) error {

	guard, err := sysio.NewCwdGuard()
	if err != nil {
		return err
	}
	defer guard.Restore()

	if err := os.Chdir(rootfs); err != nil {
		return err
	}

	bm := &specs.Mount{
		Source:      "cgroup",
		Type:        "cgroup2",
		Destination: m.Destination,
	}

	if err := mts.MountFrom(bm, rootfs, flags, "", ""); err != nil {
		return err
	}

	guard.Restore()

	if flags.IsReadOnly() {
		dest := filepath.Join(rootfs, m.Destination)
		roFlags := flags.With(domain.FlagBind | domain.FlagRemount)
		if err := mts.sys.Mount(dest, dest, "", roFlags, ""); err != nil {
			return domain.SyscallError("remount", dest, err)
		}
	}

	return nil
}

// cgroupV2 reports whether the host runs the unified cgroup hierarchy.
func (mts *MountService) cgroupV2() bool {
	magic, err := mts.sys.FsMagic(cgroupUnifiedPath)
	return err == nil && magic == unix.CGROUP2_SUPER_MAGIC
}

// Bind mounts over these procfs entries are legitimate (e.g. to expose
// adjusted VM-level stats); anything else under /proc is refused.
var procWhitelist = []string{
	"/proc/cpuinfo",
	"/proc/diskstats",
	"/proc/meminfo",
	"/proc/stat",
	"/proc/swaps",
	"/proc/uptime",
	"/proc/loadavg",
	"/proc/net/dev",
}

// CheckProcMount rejects bind mounts that would obscure procfs. A mount
// onto /proc itself is allowed only when the source is already a procfs;
// when the source cannot be statfs'd (it may not exist in this mount
// namespace yet) the mount is given the benefit of the doubt.
func (mts *MountService) CheckProcMount(m *specs.Mount) error {
	for _, p := range procWhitelist {
		if m.Destination == p {
			return nil
		}
	}

	if m.Destination == "/proc" {
		magic, err := mts.sys.FsMagic(m.Source)
		if err != nil {
			return nil
		}
		if magic == unix.PROC_SUPER_MAGIC {
			return nil
		}
		return domain.InvalidPathError(
			m.Destination, fmt.Sprintf("%s cannot be mounted on /proc", m.Source))
	}

	if strings.HasPrefix(m.Destination, "/proc") {
		return domain.InvalidPathError(
			m.Destination, "mounts over /proc are limited to whitelisted entries")
	}

	return nil
}
