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

package device

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/vmbox/vmbox-rootfs/domain"
	"github.com/vmbox/vmbox-rootfs/sysio"

	"github.com/opencontainers/runtime-spec/specs-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Ensure DeviceService implements the device-service interface.
var _ domain.DeviceServiceIface = (*DeviceService)(nil)

// DeviceService materializes device nodes inside a container's rootfs,
// either by mknod(2) or by bind-mounting the guest's nodes.
type DeviceService struct {
	sys domain.SyscallServiceIface
}

func NewDeviceService() *DeviceService {
	return &DeviceService{}
}

func (dvs *DeviceService) Setup(sys domain.SyscallServiceIface) {
	dvs.sys = sys
}

// Device-class letter to the corresponding inode-type bits of mknod(2).
var deviceClass = map[string]uint32{
	"c": unix.S_IFCHR,
	"b": unix.S_IFBLK,
	"p": unix.S_IFIFO,
}

func modePtr(mode os.FileMode) *os.FileMode {
	return &mode
}

// The standard device set every container gets regardless of what its
// configuration declares.
var defaultDevices = []specs.LinuxDevice{
	{Path: "/dev/null", Type: "c", Major: 1, Minor: 3, FileMode: modePtr(0o066)},
	{Path: "/dev/zero", Type: "c", Major: 1, Minor: 5, FileMode: modePtr(0o066)},
	{Path: "/dev/full", Type: "c", Major: 1, Minor: 7, FileMode: modePtr(0o066)},
	{Path: "/dev/tty", Type: "c", Major: 5, Minor: 0, FileMode: modePtr(0o066)},
	{Path: "/dev/urandom", Type: "c", Major: 1, Minor: 9, FileMode: modePtr(0o066)},
	{Path: "/dev/random", Type: "c", Major: 1, Minor: 8, FileMode: modePtr(0o066)},
}

// CreateDevices materializes the default device set followed by the
// declared devices, relative to the current working directory (the caller
// has already chdir'd into the rootfs). With bind set, nodes are
// bind-mounted from the guest's /dev instead of created with mknod; this
// is the path for user namespaces, where mknod is not permitted.
//
// The umask is zeroed for the duration so the requested device modes are
// applied exactly.
func (dvs *DeviceService) CreateDevices(devices []specs.LinuxDevice, bind bool) error {
	op := dvs.mknodDev
	if bind {
		op = dvs.bindDev
	}

	guard := sysio.NewUmaskGuard(0o000)
	defer guard.Restore()

	for _, dev := range defaultDevices {
		if err := op(&dev, dev.Path[1:]); err != nil {
			return err
		}
	}

	for _, dev := range devices {
		relPath, ok := devRelPath(dev.Path)
		if !ok {
			return domain.InvalidPathError(dev.Path, "not a valid device path")
		}

		if dir := filepath.Dir(relPath); dir != "." {
			if err := sysio.AppFs.MkdirAll(dir, 0o755); err != nil {
				return err
			}
		}

		if err := op(&dev, relPath); err != nil {
			return err
		}
	}

	return nil
}

// devRelPath validates a declared device path and returns it relative to
// the rootfs. Paths outside /dev, /dev itself, and paths with parent-dir
// segments are rejected.
func devRelPath(path string) (string, bool) {
	cleaned := filepath.Clean(path)
	if cleaned == "/dev" || !strings.HasPrefix(cleaned, "/dev/") {
		return "", false
	}

	for _, seg := range strings.Split(path, "/") {
		if seg == ".." {
			return "", false
		}
	}

	return cleaned[1:], true
}

func (dvs *DeviceService) mknodDev(dev *specs.LinuxDevice, relPath string) error {
	class, ok := deviceClass[dev.Type]
	if !ok {
		return domain.UnsupportedDeviceClassError(dev.Type)
	}

	logrus.Debugf("Creating device node %s", dev.Path)

	var perm uint32
	if dev.FileMode != nil {
		perm = uint32(*dev.FileMode) & 0o7777
	}

	devno := int(unix.Mkdev(uint32(dev.Major), uint32(dev.Minor)))
	if err := dvs.sys.Mknod(relPath, class|perm, devno); err != nil {
		return domain.SyscallError("mknod", dev.Path, err)
	}

	uid, gid := -1, -1
	if dev.UID != nil {
		uid = int(*dev.UID)
	}
	if dev.GID != nil {
		gid = int(*dev.GID)
	}

	if err := dvs.sys.Chown(relPath, uid, gid); err != nil {
		return domain.SyscallError("chown", dev.Path, err)
	}

	return nil
}

func (dvs *DeviceService) bindDev(dev *specs.LinuxDevice, relPath string) error {
	logrus.Debugf("Bind-mounting device node %s", dev.Path)

	// Placeholder for the bind target; the mount hides its contents.
	f, err := sysio.AppFs.OpenFile(relPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	f.Close()

	if err := dvs.sys.Mount(dev.Path, relPath, "bind", domain.FlagBind, ""); err != nil {
		return domain.SyscallError("mount", dev.Path, err)
	}

	return nil
}
