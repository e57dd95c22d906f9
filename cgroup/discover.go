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

package cgroup

import (
	"bufio"
	"path/filepath"
	"strings"

	"github.com/vmbox/vmbox-rootfs/domain"
	"github.com/vmbox/vmbox-rootfs/sysio"
)

const (
	defaultCgroupPath    = "/proc/self/cgroup"
	defaultMountinfoPath = "/proc/self/mountinfo"
)

// DiscoveryService derives the two controller maps the cgroup mount
// builder consumes from the guest's own view of the cgroup hierarchy:
// the per-controller cgroup path of this process, and the host (guest
// kernel) mountpoint of each controller hierarchy.
type DiscoveryService struct {
	mts domain.MountServiceIface

	// Pseudo-file locations; overridden in tests.
	cgroupPath    string
	mountinfoPath string
}

func NewDiscoveryService() *DiscoveryService {
	return &DiscoveryService{
		cgroupPath:    defaultCgroupPath,
		mountinfoPath: defaultMountinfoPath,
	}
}

func (dsc *DiscoveryService) Setup(mts domain.MountServiceIface) {
	dsc.mts = mts
}

// Discover returns the controller-to-cgroup-path and the
// controller-to-mountpoint maps. The cgroup path is absolute: the
// hierarchy mountpoint composed with this process's path within it, i.e.
// the directory a container's cgroup mount must bind. Named hierarchies
// appear under their bare name (the "name=" prefix is stripped);
// controllers mounted but absent from this process's cgroup file are
// omitted.
func (dsc *DiscoveryService) Discover() (map[string]string, map[string]string, error) {
	paths, err := dsc.parseProcCgroup()
	if err != nil {
		return nil, nil, err
	}

	infos, err := dsc.mts.ParseMountTable(dsc.mountinfoPath)
	if err != nil {
		return nil, nil, err
	}

	cpath := make(map[string]string)
	cgMounts := make(map[string]string)

	for _, info := range infos {
		if info.FsType != "cgroup" {
			continue
		}
		for _, opt := range strings.Split(info.VfsOptions, ",") {
			subsystem := strings.TrimPrefix(opt, "name=")
			if path, ok := paths[subsystem]; ok {
				cpath[subsystem] = filepath.Join(info.MountPoint, path)
				cgMounts[subsystem] = info.MountPoint
			}
		}
	}

	return cpath, cgMounts, nil
}

// parseProcCgroup reads /proc/self/cgroup, whose lines have the form
//
//   hierarchy-id:controller-list:cgroup-path
//
// and maps each controller to the process's cgroup path in its hierarchy.
func (dsc *DiscoveryService) parseProcCgroup() (map[string]string, error) {
	f, err := sysio.AppFs.Open(dsc.cgroupPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	paths := make(map[string]string)

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		fields := strings.SplitN(line, ":", 3)
		if len(fields) != 3 {
			return nil, domain.ParseError("failed to parse cgroup file line")
		}

		for _, subsystem := range strings.Split(fields[1], ",") {
			if subsystem == "" {
				continue
			}
			paths[strings.TrimPrefix(subsystem, "name=")] = fields[2]
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return paths, nil
}
