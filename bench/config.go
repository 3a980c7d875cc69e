// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bench

import (
	"fmt"
	"strings"

	"github.com/grailbio/base/data"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigio/fsio"
	"github.com/grailbio/bigio/transfer"
)

// Op is the operation measured by a benchmark.
type Op int

const (
	// OpRead measures collective reads of an existing file.
	OpRead Op = iota
	// OpWrite measures collective writes.
	OpWrite
	// OpWriteRead measures a write followed by a read of the same
	// file in each trial.
	OpWriteRead
)

var ops = [...]string{
	OpRead:      "read",
	OpWrite:     "write",
	OpWriteRead: "writeread",
}

func (o Op) String() string {
	if o < 0 || int(o) >= len(ops) {
		return fmt.Sprintf("Op(%d)", int(o))
	}
	return ops[o]
}

// Set parses an operation name. It implements flag.Value.
func (o *Op) Set(s string) error {
	for i, name := range ops {
		if strings.EqualFold(s, name) {
			*o = Op(i)
			return nil
		}
	}
	return errors.E(errors.Invalid, fmt.Sprintf("unknown op %q; expected one of %s", s, strings.Join(ops[:], ", ")))
}

// Directions returns the transfer directions performed by each trial,
// in order.
func (o Op) Directions() []transfer.Direction {
	switch o {
	case OpRead:
		return []transfer.Direction{transfer.Read}
	case OpWrite:
		return []transfer.Direction{transfer.Write}
	case OpWriteRead:
		return []transfer.Direction{transfer.Write, transfer.Read}
	default:
		return nil
	}
}

// Config is the configuration of a benchmark run. It is shared by
// every worker in the group.
type Config struct {
	// DatasetSize is the total number of bytes moved by the group in
	// each transfer.
	DatasetSize int64
	// PathPrefix is prepended to the benchmark's file names. It is
	// usually a directory name ending in a slash.
	PathPrefix string
	// Repeat is the number of trials.
	Repeat int
	// Op is the operation measured.
	Op Op
	// Discipline is the file access discipline.
	Discipline transfer.Discipline
	// Hints are passed to the filesystem layer.
	Hints fsio.Hints
	// UnitSize is the transfer unit size.
	UnitSize int64
	// Verify checks the data read against the data written.
	Verify bool
}

// DefaultConfig is the default benchmark configuration: three
// collective reads of a 64 GiB file through a shared file pointer.
var DefaultConfig = Config{
	DatasetSize: 64 << 30,
	PathPrefix:  "/tmp/",
	Repeat:      3,
	Op:          OpRead,
	Discipline:  transfer.SharedPointer,
	Hints:       fsio.DefaultHints(),
	UnitSize:    transfer.MaxUnitSize,
}

// Validate returns an error of kind errors.Invalid if the
// configuration cannot be run.
func (c Config) Validate() error {
	switch {
	case c.DatasetSize <= 0:
		return errors.E(errors.Invalid, fmt.Sprintf("dataset size %d must be positive", c.DatasetSize))
	case c.Repeat <= 0:
		return errors.E(errors.Invalid, fmt.Sprintf("repeat count %d must be positive", c.Repeat))
	case c.UnitSize <= 0 || c.UnitSize > transfer.MaxUnitSize:
		return errors.E(errors.Invalid, fmt.Sprintf("unit size %d out of range (0, %d]", c.UnitSize, transfer.MaxUnitSize))
	case c.PathPrefix == "":
		return errors.E(errors.Invalid, "empty path prefix")
	case c.Op.Directions() == nil:
		return errors.E(errors.Invalid, fmt.Sprintf("invalid op %v", c.Op))
	case c.Discipline < transfer.SharedPointer || c.Discipline > transfer.Independent:
		return errors.E(errors.Invalid, fmt.Sprintf("invalid discipline %v", c.Discipline))
	case c.Op == OpWriteRead && c.Discipline == transfer.Independent:
		// Independent writes produce per-worker objects, while
		// independent reads consume the shared file.
		return errors.E(errors.Invalid, "op writeread is not supported with the independent discipline")
	}
	return nil
}

// Path returns the path of the file accessed in the given direction.
// Independent reads use the file laid out by explicit-offset writes.
func (c Config) Path(dir transfer.Direction) string {
	switch c.Discipline {
	case transfer.ExplicitOffset:
		return c.PathPrefix + "write_at_all.bin"
	case transfer.Independent:
		if dir == transfer.Read {
			return c.PathPrefix + "write_at_all.bin"
		}
		return c.PathPrefix + "posix_write"
	default:
		return c.PathPrefix + "write_shared.bin"
	}
}

func (c Config) String() string {
	return fmt.Sprintf("%s %s %s prefix=%s repeat=%d unit=%s hints=%s verify=%v",
		c.Op, c.Discipline, data.Size(c.DatasetSize), c.PathPrefix, c.Repeat,
		data.Size(c.UnitSize), c.Hints, c.Verify)
}

// BufferSize returns the size of the buffer held by the worker with
// the provided rank in a group of the provided size. The dataset is
// divided evenly; the remainder is spread one byte each over the
// lowest ranks.
func (c Config) BufferSize(rank, size int) int64 {
	n := c.DatasetSize / int64(size)
	if int64(rank) < c.DatasetSize%int64(size) {
		n++
	}
	return n
}
