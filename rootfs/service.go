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
	"github.com/vmbox/vmbox-rootfs/domain"
)

const defaultMountinfoPath = "/proc/self/mountinfo"

// Ensure RootfsService implements the rootfs-service interface.
var _ domain.RootfsServiceIface = (*RootfsService)(nil)

// RootfsService orchestrates the construction of a container's root
// filesystem: mount-tree assembly, device materialization, the root
// switch, and the final lockdown.
type RootfsService struct {
	sys domain.SyscallServiceIface
	mts domain.MountServiceIface
	dvs domain.DeviceServiceIface

	// Mount-table location; overridden in tests.
	mountinfoPath string
}

func NewRootfsService() *RootfsService {
	return &RootfsService{
		mountinfoPath: defaultMountinfoPath,
	}
}

func (rfs *RootfsService) Setup(
	sys domain.SyscallServiceIface,
	mts domain.MountServiceIface,
	dvs domain.DeviceServiceIface) {

	rfs.sys = sys
	rfs.mts = mts
	rfs.dvs = dvs
}
