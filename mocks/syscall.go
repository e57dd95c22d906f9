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

// Package mocks provides test doubles for the engine's service
// interfaces.
package mocks

import (
	"github.com/vmbox/vmbox-rootfs/domain"
)

// SyscallCall records one invocation on the fake syscall service.
type SyscallCall struct {
	Name string

	// mount/umount/mknod/chown arguments, as applicable.
	Source string
	Target string
	FsType string
	Flags  domain.MountFlags
	Data   string

	Mode uint32
	Dev  int
	UID  int
	GID  int

	// umount flags, open/close/fchdir descriptor.
	IntFlags int
	Fd       int
}

// SyscallService is a recording fake of domain.SyscallServiceIface. Every
// call appends to Calls; error hooks inject failures per operation.
type SyscallService struct {
	Calls []SyscallCall

	// Per-operation failure injection; called with the primary path
	// argument, a nil hook never fails.
	MountErr   func(target string) error
	UnmountErr func(target string) error
	MknodErr   func(path string) error

	// FsMagic results per path; paths absent from the map fail with
	// MagicErr (or return 0 when MagicErr is nil).
	Magic    map[string]int64
	MagicErr error

	nextFd int
}

var _ domain.SyscallServiceIface = (*SyscallService)(nil)

func NewSyscallService() *SyscallService {
	return &SyscallService{nextFd: 3}
}

// CallsNamed returns the recorded calls with the given operation name, in
// order.
func (s *SyscallService) CallsNamed(name string) []SyscallCall {
	var out []SyscallCall
	for _, c := range s.Calls {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

func (s *SyscallService) Mount(
	source, target, fstype string, flags domain.MountFlags, data string) error {

	s.Calls = append(s.Calls, SyscallCall{
		Name:   "mount",
		Source: source,
		Target: target,
		FsType: fstype,
		Flags:  flags,
		Data:   data,
	})

	if s.MountErr != nil {
		return s.MountErr(target)
	}
	return nil
}

func (s *SyscallService) Unmount(target string, flags int) error {
	s.Calls = append(s.Calls, SyscallCall{
		Name:     "umount",
		Target:   target,
		IntFlags: flags,
	})

	if s.UnmountErr != nil {
		return s.UnmountErr(target)
	}
	return nil
}

func (s *SyscallService) Mknod(path string, mode uint32, dev int) error {
	s.Calls = append(s.Calls, SyscallCall{
		Name:   "mknod",
		Target: path,
		Mode:   mode,
		Dev:    dev,
	})

	if s.MknodErr != nil {
		return s.MknodErr(path)
	}
	return nil
}

func (s *SyscallService) Chown(path string, uid, gid int) error {
	s.Calls = append(s.Calls, SyscallCall{
		Name:   "chown",
		Target: path,
		UID:    uid,
		GID:    gid,
	})
	return nil
}

func (s *SyscallService) PivotRoot(newroot, putold string) error {
	s.Calls = append(s.Calls, SyscallCall{
		Name:   "pivot_root",
		Source: newroot,
		Target: putold,
	})
	return nil
}

func (s *SyscallService) Chroot(dir string) error {
	s.Calls = append(s.Calls, SyscallCall{
		Name:   "chroot",
		Target: dir,
	})
	return nil
}

func (s *SyscallService) Fchdir(fd int) error {
	s.Calls = append(s.Calls, SyscallCall{
		Name: "fchdir",
		Fd:   fd,
	})
	return nil
}

func (s *SyscallService) OpenDir(path string) (int, error) {
	fd := s.nextFd
	s.nextFd++
	s.Calls = append(s.Calls, SyscallCall{
		Name:   "open",
		Target: path,
		Fd:     fd,
	})
	return fd, nil
}

func (s *SyscallService) Close(fd int) error {
	s.Calls = append(s.Calls, SyscallCall{
		Name: "close",
		Fd:   fd,
	})
	return nil
}

func (s *SyscallService) FsMagic(path string) (int64, error) {
	if magic, ok := s.Magic[path]; ok {
		return magic, nil
	}
	if s.MagicErr != nil {
		return 0, s.MagicErr
	}
	return 0, nil
}
