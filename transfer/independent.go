// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package transfer

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigio/comm"
)

// ObjectPath returns the path of the object written by the worker with
// the provided rank in an independent write to path.
func ObjectPath(path string, rank int) string {
	return fmt.Sprintf("%s.%d.bin", path, rank)
}

// Independent transfers issue their I/O without collective rounds;
// each worker proceeds at its own pace, in units of at most the
// engine's unit size. Objects are accessed through package file, and
// so may reside on any filesystem it supports, including S3. The
// group still agrees on the outcome once all workers are done.
func (e *Engine) independent(ctx context.Context, req Request) (Result, error) {
	var (
		res Result
		err error
	)
	switch req.Dir {
	case Write:
		res.Bytes, err = e.writeObject(ctx, ObjectPath(req.Path, e.Comm.Rank()), req.Buf)
	case Read:
		var region Region
		region, res.Total, err = Allocate(ctx, e.Comm, int64(len(req.Buf)))
		if err != nil {
			return Result{}, err
		}
		res.Bytes, err = e.readRegion(ctx, req.Path, region, req.Buf)
	default:
		return Result{}, errors.E(errors.Invalid, fmt.Sprintf("invalid direction %v", req.Dir))
	}
	if err != nil {
		log.Error.Printf("transfer: rank %d: independent %s %s: %v", e.Comm.Rank(), req.Dir, req.Path, err)
	}
	if err = comm.Agree(ctx, e.Comm, "independent "+req.Dir.String(), err); err != nil {
		return Result{}, err
	}
	if req.Dir == Write {
		if res.Total, err = comm.AllreduceSum(ctx, e.Comm, res.Bytes); err != nil {
			return Result{}, err
		}
	}
	return res, nil
}

func (e *Engine) writeObject(ctx context.Context, path string, p []byte) (int64, error) {
	f, err := file.Create(ctx, path)
	if err != nil {
		return 0, errors.E(fmt.Sprintf("create %s", path), err)
	}
	var (
		w    = f.Writer(ctx)
		unit = e.unit()
		n    int64
	)
	for {
		m := int64(len(p)) - n
		if m > unit {
			m = unit
		}
		k, err := w.Write(p[n : n+m])
		e.record(int64(k))
		n += int64(k)
		if err != nil {
			f.Close(ctx)
			return n, errors.E(fmt.Sprintf("write %s", path), err)
		}
		if n == int64(len(p)) {
			break
		}
	}
	if err := f.Close(ctx); err != nil {
		return n, errors.E(fmt.Sprintf("close %s", path), err)
	}
	return n, nil
}

func (e *Engine) readRegion(ctx context.Context, path string, region Region, p []byte) (int64, error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, errors.E(errors.NotExist, fmt.Sprintf("open %s", path), err)
		}
		return 0, errors.E(fmt.Sprintf("open %s", path), err)
	}
	defer f.Close(ctx)
	r := f.Reader(ctx)
	if off, err := r.Seek(region.Offset, io.SeekStart); err != nil {
		return 0, errors.E(fmt.Sprintf("seek %s to %d", path, region.Offset), err)
	} else if off != region.Offset {
		return 0, errors.E(errors.Invalid, fmt.Sprintf("seek %s: seeked to %d, got %d", path, region.Offset, off))
	}
	var (
		unit = e.unit()
		n    int64
	)
	for {
		m := region.Length - n
		if m > unit {
			m = unit
		}
		k, err := io.ReadFull(r, p[n:n+m])
		e.record(int64(k))
		n += int64(k)
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return n, errors.E(errors.Integrity, errors.Fatal,
				fmt.Sprintf("read %s: requested %d bytes at offset %d, got %d", path, region.Length, region.Offset, n))
		}
		if err != nil {
			return n, errors.E(fmt.Sprintf("read %s", path), err)
		}
		if n == region.Length {
			return n, nil
		}
	}
}

func (e *Engine) record(n int64) {
	e.Stats.Int("calls").Add(1)
	e.Stats.Int("bytes").Add(n)
	e.Stats.Int("maxcall").Max(n)
	if n == 0 {
		e.Stats.Int("zero").Add(1)
	}
}
