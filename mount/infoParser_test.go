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

package mount_test

import (
	"testing"

	"github.com/vmbox/vmbox-rootfs/domain"
	"github.com/vmbox/vmbox-rootfs/mount"
	"github.com/vmbox/vmbox-rootfs/sysio"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMountTable(t *testing.T) {
	prevFs := sysio.AppFs
	sysio.AppFs = afero.NewMemMapFs()
	defer func() { sysio.AppFs = prevFs }()

	content := "123 100 8:1 / /mnt rw,relatime - ext4 /dev/sda1 rw\n" +
		"\n" +
		"36 35 98:0 /mnt1 /mnt2 rw,noatime master:1 - ext3 /dev/root rw,errors=continue\n"

	err := afero.WriteFile(
		sysio.AppFs, "/proc/self/mountinfo", []byte(content), 0444)
	require.NoError(t, err)

	mts := mount.NewMountService()

	infos, err := mts.ParseMountTable("/proc/self/mountinfo")
	require.NoError(t, err)
	require.Len(t, infos, 2)

	assert.Equal(t, 123, infos[0].MountID)
	assert.Equal(t, 100, infos[0].ParentID)
	assert.Equal(t, 8, infos[0].Major)
	assert.Equal(t, 1, infos[0].Minor)
	assert.Equal(t, "/", infos[0].Root)
	assert.Equal(t, "/mnt", infos[0].MountPoint)
	assert.Equal(t, "rw,relatime", infos[0].Options)
	assert.Equal(t, "", infos[0].OptionalFields)
	assert.Equal(t, "ext4", infos[0].FsType)
	assert.Equal(t, "/dev/sda1", infos[0].Source)
	assert.Equal(t, "rw", infos[0].VfsOptions)

	assert.Equal(t, "master:1", infos[1].OptionalFields)
	assert.Equal(t, "ext3", infos[1].FsType)
}

func TestParseMountTableMissingFile(t *testing.T) {
	prevFs := sysio.AppFs
	sysio.AppFs = afero.NewMemMapFs()
	defer func() { sysio.AppFs = prevFs }()

	mts := mount.NewMountService()

	_, err := mts.ParseMountTable("/proc/self/mountinfo")
	assert.Error(t, err)
}

// A single malformed line aborts the whole parse; no partial results.
func TestParseMountTableMalformedLines(t *testing.T) {
	valid := "123 100 8:1 / /mnt rw,relatime - ext4 /dev/sda1 rw\n"

	tests := []struct {
		name string
		line string
	}{
		{
			name: "too few fields",
			line: "123 100 8:1 / /mnt rw",
		},
		{
			name: "non-numeric mount id",
			line: "abc 100 8:1 / /mnt rw,relatime - ext4 /dev/sda1 rw",
		},
		{
			name: "non-numeric parent id",
			line: "123 abc 8:1 / /mnt rw,relatime - ext4 /dev/sda1 rw",
		},
		{
			name: "malformed device number",
			line: "123 100 81 / /mnt rw,relatime - ext4 /dev/sda1 rw",
		},
		{
			name: "missing separator",
			line: "123 100 8:1 / /mnt rw,relatime ext4 /dev/sda1 rw",
		},
		{
			name: "too few final fields",
			line: "123 100 8:1 / /mnt rw,relatime - ext4 /dev/sda1",
		},
		{
			name: "too many final fields",
			line: "123 100 8:1 / /mnt rw,relatime - ext4 /dev/sda1 rw extra",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prevFs := sysio.AppFs
			sysio.AppFs = afero.NewMemMapFs()
			defer func() { sysio.AppFs = prevFs }()

			err := afero.WriteFile(
				sysio.AppFs,
				"/proc/self/mountinfo",
				[]byte(valid+tt.line+"\n"),
				0444)
			require.NoError(t, err)

			mts := mount.NewMountService()

			infos, err := mts.ParseMountTable("/proc/self/mountinfo")
			assert.Error(t, err)
			assert.True(t, domain.IsKind(err, domain.ErrParse))
			assert.Nil(t, infos)
		})
	}
}
