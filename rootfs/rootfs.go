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

package rootfs

import (
	"fmt"
	"os"
	"strings"

	"github.com/vmbox/vmbox-rootfs/domain"
	"github.com/vmbox/vmbox-rootfs/sysio"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/opencontainers/runtime-spec/specs-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// InitRootfs assembles the container's filesystem view inside the guest:
// root-mount propagation, the rootfs self-bind, every declared mount, and
// (unless /dev is bind-mounted wholesale) the default symlinks, device
// nodes and the ptmx link.
//
// It runs in the container's mount namespace but before the root switch,
// so all mount targets are resolved against the rootfs path.
func (rfs *RootfsService) InitRootfs(
	spec *specs.Spec,
	cpath, cgMounts map[string]string,
	bindDevice bool) error {

	if spec.Linux == nil {
		return fmt.Errorf("configuration has no linux section")
	}
	if spec.Root == nil {
		return fmt.Errorf("configuration has no root section")
	}
	linux := spec.Linux
	mountLabel := linux.MountLabel

	rootfs, err := sysio.Canonicalize(spec.Root.Path)
	if err != nil {
		return err
	}

	// Adjust the propagation of everything below "/" first; the default
	// (recursive slave) keeps guest-side mount events from leaking out
	// while still receiving host-side ones.
	pflags := rfs.mts.RootPropagationFlags(linux.RootfsPropagation)
	if err := rfs.sys.Mount("", "/", "", pflags, ""); err != nil {
		return domain.SyscallError("mount", "/", err)
	}

	if err := rfs.rootfsParentMountPrivate(rootfs); err != nil {
		return err
	}

	// pivot_root requires the new root to be a mount point.
	if err := rfs.sys.Mount(
		rootfs, rootfs, "", domain.FlagBind|domain.FlagRec, ""); err != nil {
		return domain.SyscallError("mount", rootfs, err)
	}

	bindMountDev := false

	for i := range spec.Mounts {
		m := spec.Mounts[i]

		if err := checkPath(m.Destination); err != nil {
			return err
		}

		flags, pgflags, data := rfs.mts.TranslateMountOptions(m.Options)

		if m.Type == "cgroup" {
			if err := rfs.mts.MountCgroups(&m, rootfs, flags, cpath, cgMounts); err != nil {
				return err
			}
			continue
		}

		// Some configurations declare bind mounts as type "none" with a
		// bind option; normalize before any type check (the /dev bind
		// detection below included) so downstream checks see them.
		if m.Type == "none" && flags.IsBind() {
			m.Type = "bind"
		}

		if m.Destination == "/dev" {
			if m.Type == "bind" {
				bindMountDev = true
			}
			// /dev must stay writable until the devices are in place; a
			// requested read-only /dev is reapplied during the finish pass.
			flags = flags.Without(domain.FlagReadOnly)
		}

		if m.Type == "bind" {
			if err := rfs.mts.CheckProcMount(&m); err != nil {
				return err
			}
		}

		// Refuse to mount proc/sysfs through a pre-existing non-directory
		// (e.g. a symlink left in the image); it has been a source of
		// container escapes.
		if m.Type == "proc" || m.Type == "sysfs" {
			dest, err := securejoin.SecureJoin(rootfs, m.Destination)
			if err != nil {
				return domain.InvalidPathError(m.Destination, err.Error())
			}
			if fi, err := sysio.Lstat(dest); err == nil && !fi.IsDir() {
				return domain.InvalidPathError(
					m.Destination, "mount point must be an ordinary directory")
			}
		}

		if err := rfs.mts.MountFrom(&m, rootfs, flags, data, mountLabel); err != nil {
			return err
		}

		// Propagation changes don't combine with the bind itself; they
		// take a separate mount call on the new mountpoint.
		if flags.IsBind() && pgflags != 0 {
			dest, err := securejoin.SecureJoin(rootfs, m.Destination)
			if err != nil {
				return domain.InvalidPathError(m.Destination, err.Error())
			}
			if err := rfs.sys.Mount("", dest, "", pgflags, ""); err != nil {
				return domain.SyscallError("mount", dest, err)
			}
		}
	}

	guard, err := sysio.NewCwdGuard()
	if err != nil {
		return err
	}
	defer guard.Restore()

	if err := os.Chdir(rootfs); err != nil {
		return err
	}

	// A wholesale /dev bind mount brings the guest's nodes along; creating
	// our own would clobber it.
	if !bindMountDev {
		if err := createDefaultSymlinks(); err != nil {
			return err
		}
		if err := rfs.dvs.CreateDevices(linux.Devices, bindDevice); err != nil {
			return err
		}
		if err := ensurePtmx(); err != nil {
			return err
		}
	}

	return nil
}

// FinishRootfs applies the post-setup lockdown, after the root switch:
// the process working directory is created, masked and read-only paths
// are sealed, and the read-only /dev and whole-root remounts requested by
// the configuration take effect.
func (rfs *RootfsService) FinishRootfs(spec *specs.Spec) error {
	guard, err := sysio.NewCwdGuard()
	if err != nil {
		return err
	}
	defer guard.Restore()

	if err := os.Chdir("/"); err != nil {
		return err
	}

	if spec.Process != nil && spec.Process.Cwd != "" {
		cwd := spec.Process.Cwd
		if !strings.HasPrefix(cwd, "/") {
			return domain.InvalidPathError(cwd, "process cwd must be absolute")
		}
		if err := sysio.AppFs.MkdirAll(cwd[1:], 0o755); err != nil {
			return err
		}
	}

	if spec.Linux != nil {
		for _, path := range spec.Linux.MaskedPaths {
			if err := rfs.maskPath(path); err != nil {
				return err
			}
		}
		for _, path := range spec.Linux.ReadonlyPaths {
			if err := rfs.readonlyPath(path); err != nil {
				return err
			}
		}
	}

	for i := range spec.Mounts {
		m := &spec.Mounts[i]
		if m.Destination != "/dev" {
			continue
		}
		flags, _, _ := rfs.mts.TranslateMountOptions(m.Options)
		if flags.IsReadOnly() {
			if err := rfs.sys.Mount(
				"/dev", "/dev", "", flags.With(domain.FlagRemount), ""); err != nil {
				return domain.SyscallError("remount", "/dev", err)
			}
		}
	}

	if spec.Root != nil && spec.Root.Readonly {
		roFlags := domain.FlagBind | domain.FlagReadOnly |
			domain.FlagNoDev | domain.FlagRemount
		if err := rfs.sys.Mount("", "/", "", roFlags, ""); err != nil {
			return domain.SyscallError("remount", "/", err)
		}
	}

	unix.Umask(0o022)

	return nil
}

// maskPath hides a path by bind-mounting /dev/null over it. A path that
// does not exist, or that is a directory where a file is expected, is
// silently skipped.
func (rfs *RootfsService) maskPath(path string) error {
	if err := checkPath(path); err != nil {
		return err
	}

	err := rfs.sys.Mount("/dev/null", path, "", domain.FlagBind, "")
	if err != nil && !domain.IsErrno(err, unix.ENOENT, unix.ENOTDIR) {
		return domain.SyscallError("mount", path, err)
	}

	return nil
}

// readonlyPath seals a path with a recursive read-only self bind mount.
// A path absent from the container is skipped.
func (rfs *RootfsService) readonlyPath(path string) error {
	if err := checkPath(path); err != nil {
		return err
	}

	err := rfs.sys.Mount(
		path[1:], path, "", domain.FlagBind|domain.FlagRec, "")
	if err != nil {
		if domain.IsErrno(err, unix.ENOENT) {
			return nil
		}
		return domain.SyscallError("mount", path, err)
	}

	roFlags := domain.FlagBind | domain.FlagRec |
		domain.FlagReadOnly | domain.FlagRemount
	if err := rfs.sys.Mount(path[1:], path[1:], "", roFlags, ""); err != nil {
		return domain.SyscallError("remount", path, err)
	}

	return nil
}

// rootfsParentMountPrivate finds the longest mount-point prefix of the
// rootfs and, if that mount is shared, makes it private so the rootfs
// self-bind below it does not propagate back to the host.
func (rfs *RootfsService) rootfsParentMountPrivate(rootfs string) error {
	infos, err := rfs.mts.ParseMountTable(rfs.mountinfoPath)
	if err != nil {
		return err
	}

	var mountPoint, optional string
	maxLen := 0

	for _, info := range infos {
		if strings.HasPrefix(rootfs, info.MountPoint) && len(info.MountPoint) > maxLen {
			maxLen = len(info.MountPoint)
			mountPoint = info.MountPoint
			optional = info.OptionalFields
		}
	}

	if strings.Contains(optional, "shared:") {
		logrus.Debugf("Making rootfs parent mount %s private", mountPoint)
		if err := rfs.sys.Mount("", mountPoint, "", domain.FlagPrivate, ""); err != nil {
			return domain.SyscallError("mount", mountPoint, err)
		}
	}

	return nil
}

// checkPath rejects mount destinations and lockdown paths that are not
// absolute or that carry parent-directory traversal.
func checkPath(path string) error {
	if !strings.HasPrefix(path, "/") || strings.Contains(path, "..") {
		return domain.InvalidPathError(path, "must be absolute with no \"..\" segments")
	}
	return nil
}
