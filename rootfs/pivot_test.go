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
	"path/filepath"
	"testing"

	"github.com/vmbox/vmbox-rootfs/domain"
	"github.com/vmbox/vmbox-rootfs/sysio"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestPivotRootfs(t *testing.T) {
	saveUmask(t)

	wd, err := os.Getwd()
	require.NoError(t, err)
	t.Cleanup(func() { os.Chdir(wd) })

	rfs, sys := newRootfsTestService(t, defaultMountinfoPath)

	err = rfs.PivotRootfs("/newroot")
	require.NoError(t, err)

	var names []string
	for _, c := range sys.Calls {
		names = append(names, c.Name)
	}

	assert.Equal(t, []string{
		"open",       // old root
		"open",       // new root
		"fchdir",     // anchor on new root
		"pivot_root", // stacked pivot
		"fchdir",     // anchor on old root
		"mount",      // recursive slave on "."
		"umount",     // detach old root
		"close",
		"close",
	}, names)

	opens := sys.CallsNamed("open")
	assert.Equal(t, "/", opens[0].Target)
	assert.Equal(t, "/newroot", opens[1].Target)

	// The pivot anchors on the new root; the slave remount and detach must
	// act on the old root's descriptor, so only the old root goes away.
	fchdirs := sys.CallsNamed("fchdir")
	assert.Equal(t, opens[1].Fd, fchdirs[0].Fd)
	assert.Equal(t, opens[0].Fd, fchdirs[1].Fd)

	pivots := sys.CallsNamed("pivot_root")
	assert.Equal(t, ".", pivots[0].Source)
	assert.Equal(t, ".", pivots[0].Target)

	mounts := sys.CallsNamed("mount")
	assert.Equal(t, ".", mounts[0].Target)
	assert.Equal(t, domain.FlagSlave|domain.FlagRec, mounts[0].Flags)

	umounts := sys.CallsNamed("umount")
	assert.Equal(t, ".", umounts[0].Target)
	assert.Equal(t, unix.MNT_DETACH, umounts[0].IntFlags)
}

func newMsMoveFixture(t *testing.T) (string, string) {
	t.Helper()

	rootfs := t.TempDir()

	mountinfo := writeMountinfo(t,
		"20 1 0:4 / /proc rw - proc proc rw\n"+
			"21 1 0:5 / /sys rw - sysfs sysfs rw\n"+
			"22 1 8:1 / / rw - ext4 /dev/sda1 rw\n"+
			"23 1 0:6 / "+rootfs+"/proc rw - proc proc rw\n")

	return rootfs, mountinfo
}

func TestMsMoveRoot(t *testing.T) {
	prevFs := sysio.AppFs
	sysio.AppFs = afero.NewOsFs()
	t.Cleanup(func() { sysio.AppFs = prevFs })

	wd, err := os.Getwd()
	require.NoError(t, err)
	t.Cleanup(func() { os.Chdir(wd) })

	rootfs, mountinfo := newMsMoveFixture(t)

	rfs, sys := newRootfsTestService(t, mountinfo)

	err = rfs.MsMoveRoot(rootfs)
	require.NoError(t, err)

	// /proc and /sys outside the rootfs are made slave and detached; the
	// instance under the rootfs is left alone.
	umounts := sys.CallsNamed("umount")
	require.Len(t, umounts, 2)
	assert.Equal(t, "/proc", umounts[0].Target)
	assert.Equal(t, "/sys", umounts[1].Target)
	assert.Equal(t, unix.MNT_DETACH, umounts[0].IntFlags)

	mounts := sys.CallsNamed("mount")
	require.Len(t, mounts, 3)

	absRoot, err := filepath.Abs(rootfs)
	require.NoError(t, err)

	last := mounts[len(mounts)-1]
	assert.Equal(t, absRoot, last.Source)
	assert.Equal(t, "/", last.Target)
	assert.Equal(t, domain.FlagMove, last.Flags)

	chroots := sys.CallsNamed("chroot")
	require.Len(t, chroots, 1)
	assert.Equal(t, ".", chroots[0].Target)
}

// Without unmount privileges the orphaned mountpoints are covered with a
// tmpfs instead.
func TestMsMoveRootUnmountNotPermitted(t *testing.T) {
	prevFs := sysio.AppFs
	sysio.AppFs = afero.NewOsFs()
	t.Cleanup(func() { sysio.AppFs = prevFs })

	wd, err := os.Getwd()
	require.NoError(t, err)
	t.Cleanup(func() { os.Chdir(wd) })

	rootfs, mountinfo := newMsMoveFixture(t)

	rfs, sys := newRootfsTestService(t, mountinfo)
	sys.UnmountErr = func(string) error { return unix.EPERM }

	err = rfs.MsMoveRoot(rootfs)
	require.NoError(t, err)

	var covers []string
	for _, c := range sys.CallsNamed("mount") {
		if c.FsType == "tmpfs" {
			covers = append(covers, c.Target)
		}
	}
	assert.Equal(t, []string{"/proc", "/sys"}, covers)
}

func TestMsMoveRootUnmountFatal(t *testing.T) {
	prevFs := sysio.AppFs
	sysio.AppFs = afero.NewOsFs()
	t.Cleanup(func() { sysio.AppFs = prevFs })

	wd, err := os.Getwd()
	require.NoError(t, err)
	t.Cleanup(func() { os.Chdir(wd) })

	rootfs, mountinfo := newMsMoveFixture(t)

	rfs, sys := newRootfsTestService(t, mountinfo)
	sys.UnmountErr = func(string) error { return unix.EBUSY }

	err = rfs.MsMoveRoot(rootfs)
	assert.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrSyscall))
}
