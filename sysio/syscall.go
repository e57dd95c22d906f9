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

package sysio

import (
	"github.com/vmbox/vmbox-rootfs/domain"

	"golang.org/x/sys/unix"
)

// Ensure syscallService implements the syscall-service interface.
var _ domain.SyscallServiceIface = (*syscallService)(nil)

//
// Syscall service issuing the engine's privileged kernel operations.
//
type syscallService struct{}

func NewSyscallService() domain.SyscallServiceIface {
	return &syscallService{}
}

func (s *syscallService) Mount(
	source, target, fstype string, flags domain.MountFlags, data string) error {

	return unix.Mount(source, target, fstype, uintptr(flags), data)
}

func (s *syscallService) Unmount(target string, flags int) error {
	return unix.Unmount(target, flags)
}

func (s *syscallService) Mknod(path string, mode uint32, dev int) error {
	return unix.Mknod(path, mode, dev)
}

func (s *syscallService) Chown(path string, uid, gid int) error {
	return unix.Chown(path, uid, gid)
}

func (s *syscallService) PivotRoot(newroot, putold string) error {
	return unix.PivotRoot(newroot, putold)
}

func (s *syscallService) Chroot(dir string) error {
	return unix.Chroot(dir)
}

func (s *syscallService) Fchdir(fd int) error {
	return unix.Fchdir(fd)
}

func (s *syscallService) OpenDir(path string) (int, error) {
	return unix.Open(path, unix.O_DIRECTORY|unix.O_RDONLY, 0)
}

func (s *syscallService) Close(fd int) error {
	return unix.Close(fd)
}

func (s *syscallService) FsMagic(path string) (int64, error) {
	var st unix.Statfs_t

	if err := unix.Statfs(path, &st); err != nil {
		return 0, err
	}

	return int64(st.Type), nil
}
