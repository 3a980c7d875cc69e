// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package transfer

import (
	"context"

	"github.com/grailbio/base/log"
	"github.com/grailbio/bigio/comm"
	"github.com/grailbio/bigio/fsio"
)

// File is a shared file opened collectively by a group. Every worker
// holds its own File; together they maintain the group's shared file
// pointer, which each worker keeps an identical copy of.
type File struct {
	comm comm.Comm
	file *fsio.File

	// pointer is the shared file pointer. It is only advanced by
	// collective rounds, so it is the same on every worker.
	pointer int64
}

// OpenFile opens path on every worker in c. In create mode the file
// is created and truncated to zero length by rank 0 before any other
// worker opens it. OpenFile is collective: if the open fails on any
// worker, it fails on all of them, with a fatal error.
func OpenFile(ctx context.Context, c comm.Comm, path string, mode fsio.Mode, hints fsio.Hints) (*File, error) {
	var (
		f   *fsio.File
		err error
	)
	if mode == fsio.ModeCreate {
		if c.Rank() == 0 {
			f, err = fsio.Open(ctx, path, mode, hints)
			if err == nil {
				if err = f.Truncate(0); err != nil {
					f.Close()
					f = nil
				}
			}
		}
		if err = comm.Agree(ctx, c, "create", err); err != nil {
			if f != nil {
				f.Close()
			}
			return nil, err
		}
	}
	if f == nil {
		f, err = fsio.Open(ctx, path, mode, hints)
	}
	if err = comm.Agree(ctx, c, "open", err); err != nil {
		if f != nil {
			f.Close()
		}
		return nil, err
	}
	if c.Rank() == 0 {
		log.Printf("transfer: opened %s for %s: hints %s", path, mode, f.Info())
	}
	return &File{comm: c, file: f}, nil
}

// Info returns the hints in effect for the file.
func (f *File) Info() fsio.Hints { return f.file.Info() }

// Close closes the file on every worker in c. Close is collective:
// each worker reports the error, if any, of its transfer, and the
// group agrees on the outcome. Close returns nil only if the
// transfer and the close succeeded on every worker.
func (f *File) Close(ctx context.Context, err error) error {
	if cerr := f.file.Close(); err == nil {
		err = cerr
	}
	return comm.Agree(ctx, f.comm, "close", err)
}
