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
	"os"
	"path/filepath"

	"github.com/vmbox/vmbox-rootfs/domain"
	"github.com/vmbox/vmbox-rootfs/sysio"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/opencontainers/runtime-spec/specs-go"
	"github.com/opencontainers/selinux/go-selinux/label"
	"github.com/sirupsen/logrus"
)

// Behavioral flags outside this set on a bind mount do not take effect on
// the initial mount(2) call; they require a follow-up remount of the bind
// target onto itself.
const remountExemptFlags = domain.FlagRec |
	domain.FlagRemount |
	domain.FlagBind |
	domain.FlagPrivate |
	domain.FlagShared |
	domain.FlagSlave

// MountFrom executes one declared mount into the container's rootfs. The
// destination is resolved against the rootfs with symlink containment, the
// mountpoint is created according to the source's type, and bind mounts
// carrying behavioral flags get a second remount pass to apply them.
func (mts *MountService) MountFrom(
	m *specs.Mount,
	rootfs string,
	flags domain.MountFlags,
	data string,
	mountLabel string) error {

	source := m.Source

	dest, err := securejoin.SecureJoin(rootfs, m.Destination)
	if err != nil {
		return domain.InvalidPathError(m.Destination, err.Error())
	}

	if flags.IsBind() {
		// The bind source must exist; its type dictates whether the
		// mountpoint is a directory or a plain file.
		source, err = sysio.Canonicalize(m.Source)
		if err != nil {
			return err
		}

		fi, err := sysio.AppFs.Stat(source)
		if err != nil {
			return err
		}

		if fi.IsDir() {
			if err := sysio.AppFs.MkdirAll(dest, 0o755); err != nil {
				return err
			}
		} else {
			if err := sysio.AppFs.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return err
			}
			f, err := sysio.AppFs.OpenFile(dest, os.O_WRONLY|os.O_CREATE, 0o644)
			if err != nil {
				return err
			}
			f.Close()
		}
	} else {
		// Kernel-backed filesystems populate the mountpoint themselves;
		// creating it can only fail meaningfully at the stat below.
		if err := sysio.AppFs.MkdirAll(dest, 0o755); err != nil {
			logrus.Warnf("Could not create directory %s: %v", dest, err)
		}

		if m.Type == "cgroup2" {
			source = "cgroup2"
		}
	}

	if _, err := sysio.AppFs.Stat(dest); err != nil {
		return err
	}

	// mqueue does not accept a context= mount option; its label is set
	// via xattr on the mountpoint after mounting instead.
	useXattr := m.Type == "mqueue"

	d := data
	if mountLabel != "" && !useXattr && m.Type != "proc" && m.Type != "sysfs" {
		d = label.FormatMountLabel(data, mountLabel)
	}

	if err := mts.sys.Mount(source, dest, m.Type, flags, d); err != nil {
		return domain.SyscallError("mount", dest, err)
	}

	if mountLabel != "" && useXattr {
		if err := label.SetFileLabel(dest, mountLabel); err != nil {
			return domain.SyscallError("setxattr", dest, err)
		}
	}

	if flags.IsBind() && flags.Without(remountExemptFlags) != 0 {
		if err := mts.sys.Mount(
			dest, dest, "", flags.With(domain.FlagRemount), ""); err != nil {
			return domain.SyscallError("remount", dest, err)
		}
	}

	return nil
}
