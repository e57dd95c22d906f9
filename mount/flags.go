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
	"strings"

	"github.com/vmbox/vmbox-rootfs/domain"

	iradix "github.com/hashicorp/go-immutable-radix"
)

// mountOption describes the effect of one OCI mount-option token: set the
// flag, or clear it (negating forms such as "rw" vs "ro").
type mountOption struct {
	clear bool
	flag  domain.MountFlags
}

//
// The option and propagation tables are built once at process start and
// never mutated afterward; concurrent readers from multiple
// container-setup workers share them safely.
//
var (
	options     *iradix.Tree // option token -> mountOption
	propagation *iradix.Tree // propagation token -> domain.MountFlags
)

func init() {
	otxn := iradix.New().Txn()
	for k, v := range map[string]mountOption{
		"acl":           {false, domain.FlagPosixACL},
		"async":         {true, domain.FlagSynchronous},
		"atime":         {true, domain.FlagNoAtime},
		"bind":          {false, domain.FlagBind},
		"defaults":      {false, 0},
		"dev":           {true, domain.FlagNoDev},
		"diratime":      {true, domain.FlagNoDirAtime},
		"dirsync":       {false, domain.FlagDirSync},
		"exec":          {true, domain.FlagNoExec},
		"iversion":      {false, domain.FlagIVersion},
		"lazytime":      {false, domain.FlagLazytime},
		"loud":          {true, domain.FlagSilent},
		"mand":          {false, domain.FlagMandLock},
		"noacl":         {true, domain.FlagPosixACL},
		"noatime":       {false, domain.FlagNoAtime},
		"nodev":         {false, domain.FlagNoDev},
		"nodiratime":    {false, domain.FlagNoDirAtime},
		"noexec":        {false, domain.FlagNoExec},
		"noiversion":    {true, domain.FlagIVersion},
		"nolazytime":    {true, domain.FlagLazytime},
		"nomand":        {true, domain.FlagMandLock},
		"norelatime":    {true, domain.FlagRelatime},
		"nostrictatime": {true, domain.FlagStrictAtime},
		"nosuid":        {false, domain.FlagNoSuid},
		"rbind":         {false, domain.FlagBind | domain.FlagRec},
		"relatime":      {false, domain.FlagRelatime},
		"remount":       {false, domain.FlagRemount},
		"ro":            {false, domain.FlagReadOnly},
		"rw":            {true, domain.FlagReadOnly},
		"silent":        {false, domain.FlagSilent},
		"strictatime":   {false, domain.FlagStrictAtime},
		"suid":          {true, domain.FlagNoSuid},
		"sync":          {false, domain.FlagSynchronous},
	} {
		otxn.Insert([]byte(k), v)
	}
	options = otxn.Commit()

	ptxn := iradix.New().Txn()
	for k, v := range map[string]domain.MountFlags{
		"private":     domain.FlagPrivate,
		"rprivate":    domain.FlagPrivate | domain.FlagRec,
		"rshared":     domain.FlagShared | domain.FlagRec,
		"rslave":      domain.FlagSlave | domain.FlagRec,
		"runbindable": domain.FlagUnbindable | domain.FlagRec,
		"shared":      domain.FlagShared,
		"slave":       domain.FlagSlave,
		"unbindable":  domain.FlagUnbindable,
	} {
		ptxn.Insert([]byte(k), v)
	}
	propagation = ptxn.Commit()
}

// TranslateMountOptions iterates the option list in order: matched tokens
// set or clear their flag in the accumulator, propagation tokens gather
// into pgflags, and unknown tokens pass through verbatim, comma-joined,
// as filesystem-specific data (e.g. "mode=0755"). Pure; cannot fail.
func (mts *MountService) TranslateMountOptions(
	opts []string) (domain.MountFlags, domain.MountFlags, string) {

	var flags, pgflags domain.MountFlags
	var data []string

	for _, o := range opts {
		if v, ok := options.Get([]byte(o)); ok {
			opt := v.(mountOption)
			if opt.clear {
				flags = flags.Without(opt.flag)
			} else {
				flags = flags.With(opt.flag)
			}
		} else if v, ok := propagation.Get([]byte(o)); ok {
			pgflags = pgflags.With(v.(domain.MountFlags))
		} else {
			data = append(data, o)
		}
	}

	return flags, pgflags, strings.Join(data, ",")
}

// RootPropagationFlags maps the spec's rootfsPropagation value to a
// recursive propagation flag combination, defaulting to slave-recursive
// for absent or unrecognized modes.
func (mts *MountService) RootPropagationFlags(mode string) domain.MountFlags {
	flags := domain.FlagRec

	if v, ok := propagation.Get([]byte(mode)); ok {
		return flags.With(v.(domain.MountFlags))
	}

	return flags.With(domain.FlagSlave)
}
