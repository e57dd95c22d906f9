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

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// The working directory and the umask are process-wide mutable state.
// Every multi-step operation that touches them captures the prior value in
// a guard and restores it on all exit paths (deferred Restore).

// CwdGuard captures the current working directory for later restoration.
type CwdGuard struct {
	prev string
}

func NewCwdGuard() (*CwdGuard, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	return &CwdGuard{prev: wd}, nil
}

// Restore returns to the captured working directory. Safe to call more
// than once.
func (g *CwdGuard) Restore() {
	if err := os.Chdir(g.prev); err != nil {
		logrus.Warnf("Could not restore working directory %s: %v", g.prev, err)
	}
}

// UmaskGuard sets the process umask and captures the prior value.
type UmaskGuard struct {
	prev int
}

func NewUmaskGuard(mask int) *UmaskGuard {
	return &UmaskGuard{prev: unix.Umask(mask)}
}

// Restore reinstates the captured umask.
func (g *UmaskGuard) Restore() {
	unix.Umask(g.prev)
}
