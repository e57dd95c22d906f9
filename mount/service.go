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
	"github.com/vmbox/vmbox-rootfs/domain"
)

// Ensure MountService implements the mount-service interface.
var _ domain.MountServiceIface = (*MountService)(nil)

// MountService bundles the mount-option translator, the generic mount
// executor, the cgroup mount builder, and the mount-table parser. One
// instance serves all containers; it carries no per-container state.
type MountService struct {
	sys domain.SyscallServiceIface // for kernel interactions
}

func NewMountService() *MountService {
	return &MountService{}
}

func (mts *MountService) Setup(sys domain.SyscallServiceIface) {
	mts.sys = sys
}
