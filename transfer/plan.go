// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package transfer implements chunked collective transfers between a
// group of workers and one shared file. Each worker holds a buffer of
// arbitrary size; a transfer splits the buffers into units no larger
// than the filesystem's single-call limit and moves them in rounds,
// with every worker issuing the same number of rounds so that the
// collectives beneath stay matched.
package transfer

import (
	"context"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigio/comm"
)

// MaxUnitSize is the largest transfer unit. It is a quarter of the
// signed 32-bit element count accepted by a single I/O call.
const MaxUnitSize = 1 << 30

// A Plan describes how a worker's buffer is split into transfer
// units. Rounds is the same on every worker in the group.
type Plan struct {
	// UnitSize is the maximum number of bytes moved in a round.
	UnitSize int64
	// Rounds is the number of collective rounds every worker issues.
	Rounds int64
}

func (p Plan) String() string {
	return fmt.Sprintf("plan(unit=%d rounds=%d)", p.UnitSize, p.Rounds)
}

// LocalRounds returns the number of units needed to move size bytes,
// but never fewer than 1: a worker with nothing to move still takes
// part in one round.
func LocalRounds(size, unit int64) int64 {
	if size <= 0 {
		return 1
	}
	return (size + unit - 1) / unit
}

// NewPlan computes the transfer plan for a buffer of localSize bytes.
// NewPlan is collective: every worker in c must call it, and all
// receive the same number of rounds, the maximum of the workers'
// local round counts.
func NewPlan(ctx context.Context, c comm.Comm, localSize, unitSize int64) (Plan, error) {
	if unitSize <= 0 || unitSize > MaxUnitSize {
		return Plan{}, errors.E(errors.Invalid, fmt.Sprintf("transfer unit size %d out of range (0, %d]", unitSize, MaxUnitSize))
	}
	if localSize < 0 {
		return Plan{}, errors.E(errors.Invalid, fmt.Sprintf("negative buffer size %d", localSize))
	}
	rounds, err := comm.AllreduceMax(ctx, c, LocalRounds(localSize, unitSize))
	if err != nil {
		return Plan{}, err
	}
	return Plan{UnitSize: unitSize, Rounds: rounds}, nil
}
