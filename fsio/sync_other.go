// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// +build !linux

package fsio

import (
	"os"

	"golang.org/x/sys/unix"
)

func datasync(f *os.File) error {
	return f.Sync()
}

func dropCache(*os.File) error { return nil }

func dropRange(*os.File, int64, int64) error { return nil }

func syncAll() {
	unix.Sync()
}
