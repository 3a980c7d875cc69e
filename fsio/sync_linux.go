// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// +build linux

package fsio

import (
	"os"

	"golang.org/x/sys/unix"
)

func datasync(f *os.File) error {
	return unix.Fdatasync(int(f.Fd()))
}

// dropCache advises the kernel that the file's cached pages will not
// be needed again.
func dropCache(f *os.File) error {
	return unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_DONTNEED)
}

func dropRange(f *os.File, off, n int64) error {
	return unix.Fadvise(int(f.Fd()), off, n, unix.FADV_DONTNEED)
}

func syncAll() {
	unix.Sync()
}
