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

package main

import (
	"testing"

	"github.com/vmbox/vmbox-rootfs/sysio"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSpec(t *testing.T) {
	prevFs := sysio.AppFs
	sysio.AppFs = afero.NewMemMapFs()
	defer func() { sysio.AppFs = prevFs }()

	config := `{
		"ociVersion": "1.0.2",
		"root": {"path": "/run/vmbox/rootfs", "readonly": true},
		"process": {"cwd": "/"},
		"linux": {"rootfsPropagation": "rslave"},
		"mounts": [
			{"destination": "/proc", "type": "proc", "source": "proc"}
		]
	}`

	require.NoError(t, afero.WriteFile(
		sysio.AppFs, "/run/config.json", []byte(config), 0o644))

	spec, err := loadSpec("/run/config.json")
	require.NoError(t, err)

	assert.Equal(t, "/run/vmbox/rootfs", spec.Root.Path)
	assert.True(t, spec.Root.Readonly)
	assert.Equal(t, "rslave", spec.Linux.RootfsPropagation)
	require.Len(t, spec.Mounts, 1)
	assert.Equal(t, "/proc", spec.Mounts[0].Destination)
}

func TestLoadSpecErrors(t *testing.T) {
	prevFs := sysio.AppFs
	sysio.AppFs = afero.NewMemMapFs()
	defer func() { sysio.AppFs = prevFs }()

	_, err := loadSpec("/run/missing.json")
	assert.Error(t, err)

	require.NoError(t, afero.WriteFile(
		sysio.AppFs, "/run/bad.json", []byte("{not json"), 0o644))

	_, err = loadSpec("/run/bad.json")
	assert.Error(t, err)
}
