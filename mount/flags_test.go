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
	"io/ioutil"
	"testing"

	"github.com/vmbox/vmbox-rootfs/domain"
	"github.com/vmbox/vmbox-rootfs/mount"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestMain(m *testing.M) {

	// Disable log generation during UT.
	logrus.SetOutput(ioutil.Discard)

	m.Run()
}

func TestTranslateMountOptions(t *testing.T) {
	mts := mount.NewMountService()

	tests := []struct {
		name        string
		options     []string
		wantFlags   domain.MountFlags
		wantPgflags domain.MountFlags
		wantData    string
	}{
		{
			name:      "empty",
			options:   []string{},
			wantFlags: 0,
		},
		{
			name:      "typical tmpfs set",
			options:   []string{"nosuid", "nodev", "noexec", "mode=755"},
			wantFlags: domain.FlagNoSuid | domain.FlagNoDev | domain.FlagNoExec,
			wantData:  "mode=755",
		},
		{
			name:      "defaults is a no-op token",
			options:   []string{"defaults", "ro"},
			wantFlags: domain.FlagReadOnly,
		},
		{
			name:      "last of contradicting tokens wins: rw then ro",
			options:   []string{"rw", "ro"},
			wantFlags: domain.FlagReadOnly,
		},
		{
			name:      "last of contradicting tokens wins: ro then rw",
			options:   []string{"ro", "rw"},
			wantFlags: 0,
		},
		{
			name:      "rbind expands to bind plus recursive",
			options:   []string{"rbind"},
			wantFlags: domain.FlagBind | domain.FlagRec,
		},
		{
			name:        "propagation tokens accumulate separately",
			options:     []string{"rbind", "rshared"},
			wantFlags:   domain.FlagBind | domain.FlagRec,
			wantPgflags: domain.FlagShared | domain.FlagRec,
		},
		{
			name:      "unknown tokens pass through comma-joined",
			options:   []string{"size=65536k", "mode=755", "nosuid"},
			wantFlags: domain.FlagNoSuid,
			wantData:  "size=65536k,mode=755",
		},
		{
			name:      "negating tokens clear prior flags",
			options:   []string{"noatime", "atime", "sync", "async"},
			wantFlags: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flags, pgflags, data := mts.TranslateMountOptions(tt.options)

			assert.Equal(t, tt.wantFlags, flags)
			assert.Equal(t, tt.wantPgflags, pgflags)
			assert.Equal(t, tt.wantData, data)
		})
	}
}

// Non-contradicting option lists must translate identically in any order.
func TestTranslateMountOptionsOrderIndependence(t *testing.T) {
	mts := mount.NewMountService()

	permutations := [][]string{
		{"nosuid", "nodev", "noexec", "mode=755"},
		{"nodev", "mode=755", "nosuid", "noexec"},
		{"mode=755", "noexec", "nodev", "nosuid"},
		{"noexec", "nosuid", "mode=755", "nodev"},
	}

	wantFlags, wantPgflags, _ := mts.TranslateMountOptions(permutations[0])

	for _, p := range permutations[1:] {
		flags, pgflags, data := mts.TranslateMountOptions(p)

		assert.Equal(t, wantFlags, flags)
		assert.Equal(t, wantPgflags, pgflags)
		assert.Equal(t, "mode=755", data)
	}
}

func TestRootPropagationFlags(t *testing.T) {
	mts := mount.NewMountService()

	tests := []struct {
		name string
		mode string
		want domain.MountFlags
	}{
		{
			name: "absent mode defaults to recursive slave",
			mode: "",
			want: domain.FlagRec | domain.FlagSlave,
		},
		{
			name: "unrecognized mode defaults to recursive slave",
			mode: "bogus",
			want: domain.FlagRec | domain.FlagSlave,
		},
		{
			name: "shared",
			mode: "shared",
			want: domain.FlagRec | domain.FlagShared,
		},
		{
			name: "rprivate",
			mode: "rprivate",
			want: domain.FlagRec | domain.FlagPrivate,
		},
		{
			name: "unbindable",
			mode: "unbindable",
			want: domain.FlagRec | domain.FlagUnbindable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mts.RootPropagationFlags(tt.mode))
		})
	}
}
