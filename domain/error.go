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

package domain

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// ErrorKind classifies the failures produced by the rootfs engine. The set
// is closed so call sites can match the tolerated subsets per kind without
// string comparison.
type ErrorKind int

const (
	// ErrInvalidPath flags a destination or device path that failed the
	// absolute-path/traversal checks. Reported before any syscall runs.
	ErrInvalidPath ErrorKind = iota

	// ErrSyscall flags a mount/umount/mknod/chown/symlink/pivot_root
	// failure, carrying the underlying OS error.
	ErrSyscall

	// ErrParse flags a malformed mount-table line; the whole parse is
	// aborted with no partial results.
	ErrParse

	// ErrUnsupportedDeviceClass flags an unknown device-class letter.
	ErrUnsupportedDeviceClass
)

func (k ErrorKind) String() string {
	switch k {
	case ErrInvalidPath:
		return "invalid path"
	case ErrSyscall:
		return "syscall failure"
	case ErrParse:
		return "parse failure"
	case ErrUnsupportedDeviceClass:
		return "unsupported device class"
	}
	return "unknown"
}

// Error is the engine's error type.
type Error struct {
	Kind ErrorKind

	// Name of the failing syscall (ErrSyscall only).
	Call string

	// Offending path, device-class letter, or empty.
	Path string

	// Underlying cause; a unix.Errno for syscall failures.
	Cause error
}

func (e *Error) Error() string {
	switch e.Kind {
	case ErrSyscall:
		return fmt.Sprintf("%s %s: %v", e.Call, e.Path, e.Cause)
	case ErrInvalidPath:
		return fmt.Sprintf("invalid path %q: %v", e.Path, e.Cause)
	case ErrParse:
		return fmt.Sprintf("%v", e.Cause)
	case ErrUnsupportedDeviceClass:
		return fmt.Sprintf("unsupported device class %q", e.Path)
	}
	return fmt.Sprintf("%v", e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// InvalidPathError reports a path that failed validation.
func InvalidPathError(path, reason string) *Error {
	return &Error{Kind: ErrInvalidPath, Path: path, Cause: errors.New(reason)}
}

// SyscallError reports a failed kernel operation.
func SyscallError(call, path string, cause error) *Error {
	return &Error{Kind: ErrSyscall, Call: call, Path: path, Cause: cause}
}

// ParseError reports a malformed mount-table entry.
func ParseError(reason string) *Error {
	return &Error{Kind: ErrParse, Cause: errors.New(reason)}
}

// UnsupportedDeviceClassError reports an unknown device-class letter.
func UnsupportedDeviceClassError(class string) *Error {
	return &Error{Kind: ErrUnsupportedDeviceClass, Path: class}
}

// IsKind returns true if err is an engine error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// IsErrno returns true if err was ultimately caused by one of the given
// OS errnos. Used to match the narrow tolerated-error sets (e.g. ENOENT on
// masked paths, EPERM/EINVAL on root-move unmounts).
func IsErrno(err error, errnos ...unix.Errno) bool {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return false
	}
	for _, e := range errnos {
		if errno == e {
			return true
		}
	}
	return false
}
