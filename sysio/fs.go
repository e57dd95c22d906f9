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
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// AppFs is the filesystem backing all unprivileged file operations of the
// engine (directory trees, placeholder files, stats). Tests swap it for an
// afero.MemMapFs.
var AppFs afero.Fs = afero.NewOsFs()

// Canonicalize returns an absolute path with symlinks resolved; the path
// must exist. On a memory-backed AppFs (no symlink support) the path is
// only made absolute and cleaned.
func Canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	if _, ok := AppFs.(*afero.OsFs); !ok {
		return filepath.Clean(abs), nil
	}

	return filepath.EvalSymlinks(abs)
}

// Lstat stats path without following a trailing symlink, falling back to a
// regular stat on filesystems without lstat support.
func Lstat(path string) (os.FileInfo, error) {
	if lst, ok := AppFs.(afero.Lstater); ok {
		fi, _, err := lst.LstatIfPossible(path)
		return fi, err
	}

	return AppFs.Stat(path)
}
