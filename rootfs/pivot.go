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
	"os"
	"path/filepath"
	"strings"

	"github.com/vmbox/vmbox-rootfs/domain"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// PivotRootfs switches the process root to path via pivot_root(2), using
// the stacked-mount form: new root and put-old are the same directory, so
// no staging directory is needed inside the rootfs. The old root ends up
// stacked underneath and is lazily detached.
func (rfs *RootfsService) PivotRootfs(path string) error {
	oldroot, err := rfs.sys.OpenDir("/")
	if err != nil {
		return domain.SyscallError("open", "/", err)
	}
	defer rfs.sys.Close(oldroot)

	newroot, err := rfs.sys.OpenDir(path)
	if err != nil {
		return domain.SyscallError("open", path, err)
	}
	defer rfs.sys.Close(newroot)

	if err := rfs.sys.Fchdir(newroot); err != nil {
		return domain.SyscallError("fchdir", path, err)
	}

	if err := rfs.sys.PivotRoot(".", "."); err != nil {
		return domain.SyscallError("pivot_root", path, err)
	}

	// The old root is now stacked on the same path as the new one; anchor
	// on its descriptor so the detach below removes the old root and not
	// the namespace root.
	if err := rfs.sys.Fchdir(oldroot); err != nil {
		return domain.SyscallError("fchdir", "/", err)
	}

	// Keep the detach of the old root from propagating to the host.
	if err := rfs.sys.Mount(
		"", ".", "", domain.FlagSlave|domain.FlagRec, ""); err != nil {
		return domain.SyscallError("mount", ".", err)
	}

	if err := rfs.sys.Unmount(".", unix.MNT_DETACH); err != nil {
		return domain.SyscallError("umount", ".", err)
	}

	if err := os.Chdir("/"); err != nil {
		return err
	}

	unix.Umask(0o022)

	return nil
}

// MsMoveRoot moves the rootfs mount onto "/" with MS_MOVE and chroots
// into it. This is the root switch used when the process is the guest's
// init: pivot_root is not usable on the initramfs.
//
// Every proc and sysfs instance outside the rootfs is detached first so
// it does not end up orphaned under the moved root; where unmounting is
// not permitted, the mountpoint is covered with an empty tmpfs instead.
func (rfs *RootfsService) MsMoveRoot(rootfs string) error {
	if err := os.Chdir(rootfs); err != nil {
		return err
	}

	infos, err := rfs.mts.ParseMountTable(rfs.mountinfoPath)
	if err != nil {
		return err
	}

	absRoot, err := filepath.Abs(rootfs)
	if err != nil {
		return err
	}

	for _, info := range infos {
		if info.FsType != "proc" && info.FsType != "sysfs" {
			continue
		}

		absMountPoint, err := filepath.Abs(info.MountPoint)
		if err != nil {
			return err
		}
		if strings.HasPrefix(absMountPoint, absRoot) {
			continue
		}

		if err := rfs.sys.Mount(
			"", absMountPoint, "", domain.FlagSlave|domain.FlagRec, ""); err != nil {
			return domain.SyscallError("mount", absMountPoint, err)
		}

		if err := rfs.sys.Unmount(absMountPoint, unix.MNT_DETACH); err != nil {
			if !domain.IsErrno(err, unix.EINVAL, unix.EPERM) {
				return domain.SyscallError("umount", absMountPoint, err)
			}
			// No privilege to unmount; hide the mountpoint instead.
			logrus.Debugf("Covering mount point %s with tmpfs", absMountPoint)
			if err := rfs.sys.Mount(
				"tmpfs", absMountPoint, "tmpfs", 0, ""); err != nil {
				return domain.SyscallError("mount", absMountPoint, err)
			}
		}
	}

	if err := rfs.sys.Mount(absRoot, "/", "", domain.FlagMove, ""); err != nil {
		return domain.SyscallError("mount", "/", err)
	}

	if err := rfs.sys.Chroot("."); err != nil {
		return domain.SyscallError("chroot", ".", err)
	}

	return os.Chdir("/")
}
