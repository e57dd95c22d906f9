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

package domain

import (
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"golang.org/x/sys/unix"
)

// MountFlags is a typed bitset of mount(2) behaviors. It aliases the
// kernel's MS_* values so it can be handed to the mount syscall verbatim,
// but call sites manipulate it through the named constants and predicates
// below rather than raw integers.
type MountFlags uintptr

const (
	FlagReadOnly    MountFlags = unix.MS_RDONLY
	FlagNoSuid      MountFlags = unix.MS_NOSUID
	FlagNoDev       MountFlags = unix.MS_NODEV
	FlagNoExec      MountFlags = unix.MS_NOEXEC
	FlagSynchronous MountFlags = unix.MS_SYNCHRONOUS
	FlagRemount     MountFlags = unix.MS_REMOUNT
	FlagMandLock    MountFlags = unix.MS_MANDLOCK
	FlagDirSync     MountFlags = unix.MS_DIRSYNC
	FlagNoAtime     MountFlags = unix.MS_NOATIME
	FlagNoDirAtime  MountFlags = unix.MS_NODIRATIME
	FlagBind        MountFlags = unix.MS_BIND
	FlagMove        MountFlags = unix.MS_MOVE
	FlagRec         MountFlags = unix.MS_REC
	FlagSilent      MountFlags = unix.MS_SILENT
	FlagPosixACL    MountFlags = unix.MS_POSIXACL
	FlagUnbindable  MountFlags = unix.MS_UNBINDABLE
	FlagPrivate     MountFlags = unix.MS_PRIVATE
	FlagSlave       MountFlags = unix.MS_SLAVE
	FlagShared      MountFlags = unix.MS_SHARED
	FlagRelatime    MountFlags = unix.MS_RELATIME
	FlagIVersion    MountFlags = unix.MS_I_VERSION
	FlagStrictAtime MountFlags = unix.MS_STRICTATIME
	FlagLazytime    MountFlags = unix.MS_LAZYTIME
)

// The propagation flags in a mount syscall indicate a change in the
// propagation type of an existing mountpoint.
const FlagPropagationMask = FlagShared | FlagPrivate | FlagSlave | FlagUnbindable

// Has returns true if all bits in f are set.
func (m MountFlags) Has(f MountFlags) bool {
	return m&f == f
}

// With returns the union of m and f.
func (m MountFlags) With(f MountFlags) MountFlags {
	return m | f
}

// Without returns m with the bits in f cleared.
func (m MountFlags) Without(f MountFlags) MountFlags {
	return m &^ f
}

// IsBind returns true if the flags indicate a bind-mount operation.
func (m MountFlags) IsBind() bool {
	return m.Has(FlagBind)
}

// IsRemount returns true if the flags indicate a remount operation.
func (m MountFlags) IsRemount() bool {
	return m.Has(FlagRemount)
}

// IsReadOnly returns true if the flags request a read-only mount.
func (m MountFlags) IsReadOnly() bool {
	return m.Has(FlagReadOnly)
}

// HasPropagation returns true if the flags carry a propagation change.
func (m MountFlags) HasPropagation() bool {
	return m&FlagPropagationMask != 0
}

//
// MountInfo reveals information about a particular mounted filesystem. This
// struct is populated from the content of the /proc/<pid>/mountinfo file.
// The fields of each mountinfo entry are described here:
// http://man7.org/linux/man-pages/man5/proc.5.html
//
//   36 35 98:0 /mnt1 /mnt2 rw,noatime master:1 - ext3 /dev/root rw,errors=continue
//   (1)(2)(3)   (4)   (5)      (6)      (7)   (8) (9)   (10)         (11)
//
//    (1) mount ID:  unique identifier of the mount (may be reused after umount)
//    (2) parent ID:  ID of parent (or of self for the top of the mount tree)
//    (3) major:minor:  value of st_dev for files on filesystem
//    (4) root:  root of the mount within the filesystem
//    (5) mount point:  mount point relative to the process's root
//    (6) mount options:  per mount options
//    (7) optional fields:  zero or more fields of the form "tag[:value]"
//    (8) separator:  marks the end of the optional fields
//    (9) filesystem type:  name of filesystem of the form "type[.subtype]"
//    (10) mount source:  filesystem specific information or "none"
//    (11) super options:  per super block options
//
type MountInfo struct {
	// Mount identifier.
	MountID int

	// Parent-mount identifier.
	ParentID int

	// Major/minor 'st_dev' values for files in the FS.
	Major int
	Minor int

	// Pathname of root of the mount within the FS.
	Root string

	// Pathname of the mount point relative to the root.
	MountPoint string

	// Mount-specific options.
	Options string

	// Optional fields ("tag[:value]"); empty when the entry carries none.
	OptionalFields string

	// File-system type.
	FsType string

	// File-system specific information or "none".
	Source string

	// Superblock options.
	VfsOptions string
}

// Service interface to expose the mount-service's components.
type MountServiceIface interface {
	Setup(sys SyscallServiceIface)

	// TranslateMountOptions maps OCI mount-option strings to mount flags,
	// propagation flags, and a residual filesystem-specific data string.
	TranslateMountOptions(options []string) (flags, pgflags MountFlags, data string)

	// RootPropagationFlags picks the recursive propagation flag set for
	// the spec's rootfsPropagation value.
	RootPropagationFlags(mode string) MountFlags

	// MountFrom resolves the mount's source/target against the rootfs and
	// issues the mount, with a conditional remount pass for bind mounts.
	MountFrom(m *specs.Mount, rootfs string, flags MountFlags, data, mountLabel string) error

	// MountCgroups reconstructs the cgroup hierarchy under the mount's
	// destination, bind-mounting each discovered controller.
	MountCgroups(m *specs.Mount, rootfs string, flags MountFlags, cpath, cgMounts map[string]string) error

	// CheckProcMount rejects bind mounts that would obscure procfs.
	CheckProcMount(m *specs.Mount) error

	// ParseMountTable parses a mountinfo pseudo-file into records.
	ParseMountTable(path string) ([]*MountInfo, error)
}

// Service interface to expose the device-service's components.
type DeviceServiceIface interface {
	Setup(sys SyscallServiceIface)

	// CreateDevices materializes the default device set plus the given
	// spec devices, via mknod or bind mounts depending on bind.
	CreateDevices(devices []specs.LinuxDevice, bind bool) error
}

// Service interface to expose the rootfs-service's components. These are
// the three orchestration entry points invoked by the container-lifecycle
// orchestrator, which owns process-fork/namespace-unshare timing.
type RootfsServiceIface interface {
	Setup(
		sys SyscallServiceIface,
		mts MountServiceIface,
		dvs DeviceServiceIface)

	// InitRootfs assembles the container's filesystem view: propagation
	// setup, declared mounts, default symlinks, and device nodes.
	InitRootfs(spec *specs.Spec, cpath, cgMounts map[string]string, bindDevice bool) error

	// FinishRootfs applies the post-start lockdown: masked paths,
	// read-only paths, and the read-only whole-root remount.
	FinishRootfs(spec *specs.Spec) error

	// PivotRootfs switches the process root to path via pivot_root(2).
	PivotRootfs(path string) error

	// MsMoveRoot moves the new root onto "/"; used only when this process
	// is the guest's init.
	MsMoveRoot(rootfs string) error
}
