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

// SyscallServiceIface collects the privileged kernel operations issued by
// the rootfs engine. All errors surface the raw OS errno so callers can
// match the tolerated subsets described in the error taxonomy.
type SyscallServiceIface interface {
	Mount(source, target, fstype string, flags MountFlags, data string) error
	Unmount(target string, flags int) error
	Mknod(path string, mode uint32, dev int) error
	Chown(path string, uid, gid int) error
	PivotRoot(newroot, putold string) error
	Chroot(dir string) error
	Fchdir(fd int) error
	OpenDir(path string) (int, error)
	Close(fd int) error

	// FsMagic returns the filesystem-type magic of the filesystem backing
	// path (statfs f_type).
	FsMagic(path string) (int64, error)
}
