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

	"github.com/vmbox/vmbox-rootfs/domain"
	"github.com/vmbox/vmbox-rootfs/sysio"

	"github.com/spf13/afero"
)

// Standard /dev symlinks; targets are relative to the rootfs, created
// with the rootfs as working directory.
var defaultSymlinks = []struct {
	src, dst string
}{
	{"/proc/self/fd", "dev/fd"},
	{"/proc/self/fd/0", "dev/stdin"},
	{"/proc/self/fd/1", "dev/stdout"},
	{"/proc/self/fd/2", "dev/stderr"},
}

// createDefaultSymlinks populates /dev with the standard fd symlinks,
// plus /dev/kcore when the guest kernel exposes /proc/kcore.
func createDefaultSymlinks() error {
	if ok, _ := afero.Exists(sysio.AppFs, "/proc/kcore"); ok {
		if err := os.Symlink("/proc/kcore", "dev/kcore"); err != nil {
			return domain.SyscallError("symlink", "dev/kcore", err)
		}
	}

	for _, link := range defaultSymlinks {
		if err := os.Symlink(link.src, link.dst); err != nil {
			return domain.SyscallError("symlink", link.dst, err)
		}
	}

	return nil
}

// ensurePtmx points /dev/ptmx at the devpts instance's ptmx, replacing
// whatever the image shipped. Idempotent.
func ensurePtmx() error {
	os.Remove("dev/ptmx")

	if err := os.Symlink("pts/ptmx", "dev/ptmx"); err != nil {
		return domain.SyscallError("symlink", "dev/ptmx", err)
	}

	return nil
}
