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

//
// This file parses the kernel's mountinfo pseudo-file (one record per
// line):
//
//   id parent major:minor root mount_point options optional... - fstype source vfs_options
//
// The optional fields end at the literal " - " separator. A line that does
// not decompose into this layout fails the whole parse; partial results
// are never returned.
//

package mount

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/vmbox/vmbox-rootfs/domain"
	"github.com/vmbox/vmbox-rootfs/sysio"
)

const (
	// Separator between the variable-length optional fields and the
	// fixed final fields.
	mountinfoSeparator = " - "

	errMountinfoFormat      = "failed to parse mountinfo line"
	errMountinfoFinalFields = "failed to parse final fields in mountinfo line"
)

// ParseMountTable reads and parses the mountinfo file at path (typically
// /proc/self/mountinfo).
func (mts *MountService) ParseMountTable(path string) ([]*domain.MountInfo, error) {
	f, err := sysio.AppFs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return parseMountTable(f)
}

// parseMountTable decouples file handling from the actual parsing so the
// parser can take a plain reader.
func parseMountTable(r io.Reader) ([]*domain.MountInfo, error) {
	var infos []*domain.MountInfo

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		info, err := parseMountInfoLine(line)
		if err != nil {
			return nil, err
		}

		infos = append(infos, info)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return infos, nil
}

func parseMountInfoLine(line string) (*domain.MountInfo, error) {

	// Seven fixed fields precede the separator: id, parent, major:minor,
	// root, mount point, options, and the (first) optional field, which
	// the kernel emits as a literal "-" when the entry carries none.
	fields := strings.Fields(line)
	if len(fields) < 7 {
		return nil, domain.ParseError(errMountinfoFormat)
	}

	id, err := strconv.Atoi(fields[0])
	if err != nil {
		return nil, domain.ParseError(errMountinfoFormat)
	}

	parent, err := strconv.Atoi(fields[1])
	if err != nil {
		return nil, domain.ParseError(errMountinfoFormat)
	}

	devno := strings.SplitN(fields[2], ":", 2)
	if len(devno) != 2 {
		return nil, domain.ParseError(errMountinfoFormat)
	}
	major, err := strconv.Atoi(devno[0])
	if err != nil {
		return nil, domain.ParseError(errMountinfoFormat)
	}
	minor, err := strconv.Atoi(devno[1])
	if err != nil {
		return nil, domain.ParseError(errMountinfoFormat)
	}

	optional := fields[6]
	if optional == "-" {
		optional = ""
	}

	segments := strings.Split(line, mountinfoSeparator)
	if len(segments) != 2 {
		return nil, domain.ParseError(errMountinfoFormat)
	}

	final := strings.Fields(segments[1])
	if len(final) != 3 {
		return nil, domain.ParseError(errMountinfoFinalFields)
	}

	return &domain.MountInfo{
		MountID:        id,
		ParentID:       parent,
		Major:          major,
		Minor:          minor,
		Root:           fields[3],
		MountPoint:     fields[4],
		Options:        fields[5],
		OptionalFields: optional,
		FsType:         final[0],
		Source:         final[1],
		VfsOptions:     final[2],
	}, nil
}
