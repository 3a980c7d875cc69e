// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package transfer

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/grailbio/base/data"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigio/comm"
	"github.com/grailbio/bigio/fsio"
	"github.com/grailbio/bigio/stats"
)

// Direction is the direction of a transfer.
type Direction int

const (
	// Write moves each worker's buffer into the shared file.
	Write Direction = iota
	// Read fills each worker's buffer from the shared file.
	Read
)

func (d Direction) String() string {
	switch d {
	case Write:
		return "write"
	case Read:
		return "read"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// Discipline determines where in the shared file each worker's units
// are placed.
type Discipline int

const (
	// SharedPointer places units at a file pointer shared by the
	// group. Within a round, units are placed in the order in which
	// workers arrive, so the layout of the file is not deterministic
	// for groups of more than one worker.
	SharedPointer Discipline = iota
	// ExplicitOffset places each worker's buffer contiguously in its
	// region, computed by Allocate; workers' regions are laid out in
	// rank order.
	ExplicitOffset
	// Independent moves data without collective rounds. Writes go to
	// a separate object per worker; reads fetch each worker's region
	// of the shared file.
	Independent
)

var disciplines = [...]string{
	SharedPointer:  "shared",
	ExplicitOffset: "explicit",
	Independent:    "independent",
}

func (d Discipline) String() string {
	if d < 0 || int(d) >= len(disciplines) {
		return fmt.Sprintf("Discipline(%d)", int(d))
	}
	return disciplines[d]
}

// Set parses a discipline name. It implements flag.Value.
func (d *Discipline) Set(s string) error {
	for i, name := range disciplines {
		if strings.EqualFold(s, name) {
			*d = Discipline(i)
			return nil
		}
	}
	return errors.E(errors.Invalid, fmt.Sprintf("unknown discipline %q; expected one of %s", s, strings.Join(disciplines[:], ", ")))
}

// ParseDiscipline returns the discipline named by s.
func ParseDiscipline(s string) (Discipline, error) {
	var d Discipline
	err := d.Set(s)
	return d, err
}

// A Request is a single collective transfer.
type Request struct {
	Dir        Direction
	Discipline Discipline
	// Path names the shared file.
	Path string
	// Buf is the worker's buffer. Writes transfer its contents; reads
	// fill it completely.
	Buf []byte
}

// Result describes a completed transfer, from one worker's point of
// view.
type Result struct {
	// Plan is the transfer plan used; Rounds is 0 for independent
	// transfers.
	Plan Plan
	// Bytes is the number of bytes this worker transferred.
	Bytes int64
	// Total is the number of bytes transferred by the group.
	Total int64
	// Info lists the hints in effect on the shared file.
	Info fsio.Hints
}

// failed is contributed to a round by a worker whose previous unit
// failed, so that all workers abandon the transfer at the same round.
const failed = -1

// Engine performs collective transfers on behalf of one worker.
type Engine struct {
	// Comm is the worker's group membership.
	Comm comm.Comm
	// UnitSize is the transfer unit size. If zero, MaxUnitSize is
	// used.
	UnitSize int64
	// Hints are passed to the filesystem layer when the shared file
	// is opened.
	Hints fsio.Hints
	// Stats, if not nil, collects transfer counters: "rounds",
	// "calls", "bytes", "zero" (zero-length calls) and "maxcall" (the
	// largest call, in bytes).
	Stats *stats.Map
}

func (e *Engine) unit() int64 {
	if e.UnitSize == 0 {
		return MaxUnitSize
	}
	return e.UnitSize
}

// Transfer performs the transfer described by req. Transfer is
// collective: every worker in the engine's group must call it with a
// request of the same direction, discipline and path, though each
// worker's buffer may be of any size, including zero. Transfer fails
// on every worker if it fails on any.
func (e *Engine) Transfer(ctx context.Context, req Request) (Result, error) {
	if req.Discipline == Independent {
		return e.independent(ctx, req)
	}
	size := int64(len(req.Buf))
	plan, err := NewPlan(ctx, e.Comm, size, e.unit())
	if err != nil {
		return Result{}, err
	}
	var (
		region Region
		total  int64
	)
	if req.Discipline == ExplicitOffset {
		region, total, err = Allocate(ctx, e.Comm, size)
		if err != nil {
			return Result{}, err
		}
	}
	mode := fsio.ModeCreate
	if req.Dir == Read {
		mode = fsio.ModeRead
	}
	f, err := OpenFile(ctx, e.Comm, req.Path, mode, e.Hints)
	if err != nil {
		return Result{}, err
	}
	if e.Comm.Rank() == 0 {
		log.Debug.Printf("transfer: %s %s %s: %s", req.Dir, req.Discipline, req.Path, plan)
	}
	n, roundTotal, err := e.rounds(ctx, f, req, plan, region)
	if err = f.Close(ctx, err); err != nil {
		return Result{}, err
	}
	if req.Discipline == SharedPointer {
		total = roundTotal
	}
	return Result{Plan: plan, Bytes: n, Total: total, Info: f.Info()}, nil
}

// rounds issues the plan's rounds against f. It returns the number of
// bytes this worker transferred and the number transferred by the
// group.
func (e *Engine) rounds(ctx context.Context, f *File, req Request, plan Plan, region Region) (n, total int64, err error) {
	var (
		rank    = e.Comm.Rank()
		size    = int64(len(req.Buf))
		ioErr   error
		rounds  = e.Stats.Int("rounds")
		calls   = e.Stats.Int("calls")
		bytes   = e.Stats.Int("bytes")
		zero    = e.Stats.Int("zero")
		maxcall = e.Stats.Int("maxcall")
	)
	for round := int64(0); round < plan.Rounds; round++ {
		// Once a worker's buffer is exhausted it keeps issuing
		// zero-length units until the group is done.
		m := size - n
		if m > plan.UnitSize {
			m = plan.UnitSize
		}
		contrib := m
		if ioErr != nil {
			contrib = failed
		}
		x, err := e.Comm.Exchange(ctx, "round", contrib)
		if err != nil {
			return n, total, errors.E(errors.Fatal, fmt.Sprintf("collective round %d", round), err)
		}
		rounds.Add(1)
		if ioErr != nil {
			return n, total, ioErr
		}
		for r, v := range x.Values {
			if v == failed {
				return n, total, errors.E(errors.Fatal, fmt.Sprintf("round %d: transfer failed on rank %d", round, r))
			}
		}
		var off int64
		switch req.Discipline {
		case SharedPointer:
			off = f.pointer + x.Before(rank)
			f.pointer += x.Sum()
		case ExplicitOffset:
			off = region.Offset + n
		}
		total += x.Sum()
		if err := e.call(f, req.Dir, req.Buf[n:n+m], off); err != nil {
			log.Error.Printf("transfer: rank %d round %d: %v", rank, round, err)
			ioErr = err
			continue
		}
		calls.Add(1)
		bytes.Add(m)
		maxcall.Max(m)
		if m == 0 {
			zero.Add(1)
		}
		n += m
	}
	if ioErr != nil {
		return n, total, ioErr
	}
	if rank == 0 {
		log.Debug.Printf("transfer: %s: %d rounds, %s", req.Path, plan.Rounds, data.Size(total))
	}
	return n, total, nil
}

// call performs one unit's filesystem call.
func (e *Engine) call(f *File, dir Direction, p []byte, off int64) error {
	var (
		n   int
		err error
	)
	switch dir {
	case Write:
		n, err = f.file.WriteAt(p, off)
	case Read:
		n, err = f.file.ReadAt(p, off)
		if err == io.EOF {
			err = nil
		}
	default:
		return errors.E(errors.Invalid, fmt.Sprintf("invalid direction %v", dir))
	}
	if err != nil {
		return err
	}
	if n != len(p) {
		return errors.E(errors.Integrity, errors.Fatal,
			fmt.Sprintf("%s %s at offset %d: requested %d bytes, transferred %d", dir, f.file.Path(), off, len(p), n))
	}
	return nil
}
