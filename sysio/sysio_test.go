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

package sysio

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestMain(m *testing.M) {

	// Disable log generation during UT.
	logrus.SetOutput(ioutil.Discard)

	m.Run()
}

func TestCwdGuard(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	t.Cleanup(func() { os.Chdir(wd) })

	guard, err := NewCwdGuard()
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, os.Chdir(dir))

	guard.Restore()

	cur, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, wd, cur)

	// Second Restore is a no-op.
	guard.Restore()

	cur, err = os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, wd, cur)
}

func TestUmaskGuard(t *testing.T) {
	old := unix.Umask(0o022)
	unix.Umask(old)
	t.Cleanup(func() { unix.Umask(old) })

	guard := NewUmaskGuard(0o000)

	cur := unix.Umask(0o000)
	assert.Equal(t, 0o000, cur)

	guard.Restore()

	cur = unix.Umask(0o022)
	assert.Equal(t, old, cur)
	unix.Umask(old)
}

func TestCanonicalizeMemFs(t *testing.T) {
	prevFs := AppFs
	AppFs = afero.NewMemMapFs()
	t.Cleanup(func() { AppFs = prevFs })

	// No symlink resolution on a memory fs; absolute + clean only.
	got, err := Canonicalize("/a/b/../c")
	require.NoError(t, err)
	assert.Equal(t, "/a/c", got)
}

func TestCanonicalizeOsFs(t *testing.T) {
	prevFs := AppFs
	AppFs = afero.NewOsFs()
	t.Cleanup(func() { AppFs = prevFs })

	dir := t.TempDir()
	target := filepath.Join(dir, "target")
	link := filepath.Join(dir, "link")

	require.NoError(t, os.MkdirAll(target, 0o755))
	require.NoError(t, os.Symlink(target, link))

	got, err := Canonicalize(link)
	require.NoError(t, err)

	want, err := filepath.EvalSymlinks(target)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = Canonicalize(filepath.Join(dir, "nonexistent"))
	assert.Error(t, err)
}

func TestLstat(t *testing.T) {
	prevFs := AppFs
	AppFs = afero.NewOsFs()
	t.Cleanup(func() { AppFs = prevFs })

	dir := t.TempDir()
	target := filepath.Join(dir, "target")
	link := filepath.Join(dir, "link")

	require.NoError(t, os.MkdirAll(target, 0o755))
	require.NoError(t, os.Symlink(target, link))

	fi, err := Lstat(link)
	require.NoError(t, err)
	assert.NotZero(t, fi.Mode()&os.ModeSymlink)
	assert.False(t, fi.IsDir())
}
