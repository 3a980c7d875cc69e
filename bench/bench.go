// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package bench implements the collective bandwidth benchmark. A
// Harness, run by every worker in a group, repeatedly transfers a
// dataset split evenly across the workers between their memory and a
// shared file, and measures the bandwidth achieved by the group.
package bench

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/grailbio/base/data"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/bigio/comm"
	"github.com/grailbio/bigio/fsio"
	"github.com/grailbio/bigio/stats"
	"github.com/grailbio/bigio/transfer"
)

// A Report is the outcome of one timed transfer.
type Report struct {
	// Trial is the 0-based trial number.
	Trial int
	// Op is the direction of the transfer.
	Op transfer.Direction
	// Bytes is the number of bytes moved by the group.
	Bytes int64
	// Elapsed is the time taken by the transfer, including the time
	// needed to commit written data to stable storage.
	Elapsed time.Duration
}

// Bandwidth returns the group's bandwidth in megabytes (10^6 bytes)
// per second.
func (r Report) Bandwidth() float64 {
	secs := r.Elapsed.Seconds()
	if secs == 0 {
		return 0
	}
	return float64(r.Bytes) / secs / 1e6
}

// String returns the report line printed by the benchmark.
func (r Report) String() string {
	return fmt.Sprintf("collective %s %d bytes in %.6g seconds: %.6g MB/s.",
		r.Op, r.Bytes, r.Elapsed.Seconds(), r.Bandwidth())
}

// Harness runs the benchmark on behalf of one worker.
type Harness struct {
	// Comm is the worker's group.
	Comm comm.Comm
	// Config is the benchmark configuration; it must be the same on
	// every worker.
	Config Config
	// Output, if not nil, receives the benchmark's output lines. Only
	// rank 0 writes output.
	Output io.Writer
	// Stats, if not nil, collects the worker's transfer counters.
	Stats *stats.Map
	// Status, if not nil, is used to report progress.
	Status *status.Group
}

func (h *Harness) println(line string) {
	if h.Comm.Rank() != 0 || h.Output == nil {
		return
	}
	fmt.Fprintln(h.Output, line)
}

// Run runs the configured trials and returns a report for each timed
// transfer, in order. Run is collective. Every worker returns its own
// timings; the output written by rank 0 reflects rank 0's.
func (h *Harness) Run(ctx context.Context) ([]Report, error) {
	if err := h.Config.Validate(); err != nil {
		return nil, err
	}
	var (
		rank   = h.Comm.Rank()
		size   = h.Comm.Size()
		config = h.Config
		engine = &transfer.Engine{
			Comm:     h.Comm,
			UnitSize: config.UnitSize,
			Hints:    config.Hints,
			Stats:    h.Stats,
		}
		verify = config.Verify
	)
	if verify && config.Discipline == transfer.SharedPointer && size > 1 {
		if rank == 0 {
			log.Printf("bench: verification disabled: shared pointer layout depends on arrival order")
		}
		verify = false
	}
	h.println("Running.")
	if rank == 0 {
		log.Printf("bench: %s on %d workers", config, size)
	}
	if err := comm.Barrier(ctx, h.Comm); err != nil {
		return nil, err
	}
	buf := make([]byte, config.BufferSize(rank, size))
	Fill(buf, rank)
	log.Debug.Printf("bench: rank %d: buffer %s", rank, data.Size(len(buf)))

	var reports []Report
	for trial := 0; trial < config.Repeat; trial++ {
		for _, dir := range config.Op.Directions() {
			var task *status.Task
			if h.Status != nil {
				task = h.Status.Startf("trial %d: %s", trial, dir)
			}
			report, err := h.trial(ctx, engine, trial, dir, buf)
			if task != nil {
				if err == nil {
					task.Print(report)
				}
				task.Done()
			}
			if err != nil {
				return reports, err
			}
			h.println(report.String())
			reports = append(reports, report)
			if verify && dir == transfer.Read {
				if err := h.verify(ctx, buf); err != nil {
					return reports, err
				}
			}
		}
	}
	if err := comm.Barrier(ctx, h.Comm); err != nil {
		return reports, err
	}
	if h.Stats != nil {
		log.Debug.Printf("bench: rank %d: %s", rank, h.Stats.Snapshot())
	}
	if err := comm.Barrier(ctx, h.Comm); err != nil {
		return reports, err
	}
	h.println("Done.")
	return reports, nil
}

// trial performs and times one transfer. Elapsed time is measured
// between barriers, and includes committing all outstanding writes to
// stable storage.
func (h *Harness) trial(ctx context.Context, engine *transfer.Engine, trial int, dir transfer.Direction, buf []byte) (Report, error) {
	if err := comm.Barrier(ctx, h.Comm); err != nil {
		return Report{}, err
	}
	start := time.Now()
	if err := comm.Barrier(ctx, h.Comm); err != nil {
		return Report{}, err
	}
	res, err := engine.Transfer(ctx, transfer.Request{
		Dir:        dir,
		Discipline: h.Config.Discipline,
		Path:       h.Config.Path(dir),
		Buf:        buf,
	})
	if err != nil {
		return Report{}, errors.E(fmt.Sprintf("trial %d: %s", trial, dir), err)
	}
	fsio.SyncAll()
	if err := comm.Barrier(ctx, h.Comm); err != nil {
		return Report{}, err
	}
	return Report{
		Trial:   trial,
		Op:      dir,
		Bytes:   res.Total,
		Elapsed: time.Since(start),
	}, nil
}

func (h *Harness) verify(ctx context.Context, buf []byte) error {
	var err error
	if got, want := Checksum(buf), PatternChecksum(len(buf), h.Comm.Rank()); got != want {
		err = errors.E(errors.Integrity, fmt.Sprintf("rank %d: checksum %x, expected %x", h.Comm.Rank(), got, want))
	}
	return comm.Agree(ctx, h.Comm, "verify", err)
}
