// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package fsio is the filesystem layer beneath collective transfers.
// It opens a shared file in one of two modes, performs positional
// reads and writes on it, and applies the tuning hints it understands.
// Hints it does not understand are accepted and ignored.
package fsio

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/grailbio/base/data"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
)

// Mode is the access mode of an open file.
type Mode int

const (
	// ModeCreate opens the file write-only, creating it if necessary.
	ModeCreate Mode = iota
	// ModeRead opens an existing file read-only.
	ModeRead
)

func (m Mode) String() string {
	switch m {
	case ModeCreate:
		return "create"
	case ModeRead:
		return "read"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// File is a file opened by the filesystem layer. Its positional
// methods may be called concurrently.
type File struct {
	path string
	mode Mode
	f    *os.File

	// chunk is the largest system call issued, or 0 if unbounded.
	chunk       int64
	directRead  bool
	directWrite bool

	info Hints
}

// Open opens path in the provided mode and applies hints. Opening a
// missing path for reading returns an error of kind errors.NotExist.
func Open(ctx context.Context, path string, mode Mode, hints Hints) (*File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var (
		f   *os.File
		err error
	)
	switch mode {
	case ModeCreate:
		f, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644)
	case ModeRead:
		f, err = os.Open(path)
	default:
		return nil, errors.E(errors.Invalid, fmt.Sprintf("open %s: invalid mode %v", path, mode))
	}
	if err != nil {
		kind := errors.Other
		if os.IsNotExist(err) {
			kind = errors.NotExist
		}
		return nil, errors.E(kind, fmt.Sprintf("open %s (%s)", path, mode), err)
	}
	file := &File{path: path, mode: mode, f: f}
	file.apply(hints)
	if mode == ModeRead && file.directRead {
		if err := dropCache(f); err != nil {
			log.Debug.Printf("fsio: %s: drop cache: %v", path, err)
		}
	}
	return file, nil
}

func (f *File) apply(hints Hints) {
	for _, hint := range hints {
		if !known[hint.Key] {
			log.Debug.Printf("fsio: %s: ignoring unsupported hint %s=%s", f.path, hint.Key, hint.Value)
			continue
		}
		switch hint.Key {
		case HintBufferSize:
			n, err := strconv.ParseInt(hint.Value, 10, 64)
			if err != nil || n <= 0 {
				log.Debug.Printf("fsio: %s: ignoring invalid %s=%s", f.path, hint.Key, hint.Value)
				continue
			}
			f.chunk = n
		case HintDirectRead:
			f.directRead = hints.Bool(HintDirectRead)
		case HintDirectWrite:
			f.directWrite = hints.Bool(HintDirectWrite)
		}
		f.info = append(f.info, hint)
	}
	if f.chunk > 0 {
		log.Debug.Printf("fsio: %s: buffering chunk %s", f.path, data.Size(f.chunk))
	}
}

// Path returns the file's path.
func (f *File) Path() string { return f.path }

// Mode returns the mode in which the file was opened.
func (f *File) Mode() Mode { return f.mode }

// Info returns the hints that are in effect for the file, in the
// order they were supplied. Ignored hints are omitted.
func (f *File) Info() Hints {
	info := make(Hints, len(f.info))
	copy(info, f.info)
	return info
}

// WriteAt writes len(p) bytes at offset off. Writes larger than the
// buffering chunk are split into several system calls.
func (f *File) WriteAt(p []byte, off int64) (int, error) {
	if f.mode != ModeCreate {
		return 0, errors.E(errors.Invalid, fmt.Sprintf("write %s: file opened for %s", f.path, f.mode))
	}
	var n int
	for len(p) > 0 {
		m := f.span(len(p))
		w, err := f.f.WriteAt(p[:m], off)
		n += w
		if err != nil {
			return n, errors.E(fmt.Sprintf("write %s at %d", f.path, off), err)
		}
		p = p[m:]
		off += int64(m)
	}
	return n, nil
}

// ReadAt reads len(p) bytes at offset off. Like io.ReaderAt, it
// returns an error whenever fewer than len(p) bytes are read; reading
// past the end of the file returns io.EOF.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	if f.mode != ModeRead {
		return 0, errors.E(errors.Invalid, fmt.Sprintf("read %s: file opened for %s", f.path, f.mode))
	}
	var (
		n     int
		start = off
	)
	for len(p) > 0 {
		m := f.span(len(p))
		r, err := f.f.ReadAt(p[:m], off)
		n += r
		if err == io.EOF {
			return n, err
		}
		if err != nil {
			return n, errors.E(fmt.Sprintf("read %s at %d", f.path, off), err)
		}
		p = p[m:]
		off += int64(m)
	}
	if f.directRead && n > 0 {
		if err := dropRange(f.f, start, int64(n)); err != nil {
			log.Debug.Printf("fsio: %s: drop range: %v", f.path, err)
		}
	}
	return n, nil
}

func (f *File) span(n int) int {
	if f.chunk > 0 && int64(n) > f.chunk {
		return int(f.chunk)
	}
	return n
}

// Truncate changes the size of the file.
func (f *File) Truncate(size int64) error {
	if err := f.f.Truncate(size); err != nil {
		return errors.E(fmt.Sprintf("truncate %s to %d", f.path, size), err)
	}
	return nil
}

// Sync commits the file's written data to stable storage.
func (f *File) Sync() error {
	if err := datasync(f.f); err != nil {
		return errors.E(fmt.Sprintf("sync %s", f.path), err)
	}
	return nil
}

// Close closes the file. Files opened for writing with direct writes
// requested are synced first, and their pages dropped from the cache.
func (f *File) Close() error {
	if f.mode == ModeCreate && f.directWrite {
		if err := f.Sync(); err != nil {
			f.f.Close()
			return err
		}
		if err := dropCache(f.f); err != nil {
			log.Debug.Printf("fsio: %s: drop cache: %v", f.path, err)
		}
	}
	if err := f.f.Close(); err != nil {
		return errors.E(fmt.Sprintf("close %s", f.path), err)
	}
	return nil
}

// SyncAll forces all outstanding filesystem writes to stable storage.
func SyncAll() {
	syncAll()
}
