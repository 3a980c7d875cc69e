// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package transfer

import (
	"context"
	"fmt"

	"github.com/grailbio/bigio/comm"
)

// A Region is the byte range of the shared file owned by one worker.
type Region struct {
	Offset, Length int64
}

// End returns the offset just past the region.
func (r Region) End() int64 { return r.Offset + r.Length }

func (r Region) String() string {
	return fmt.Sprintf("[%d, %d)", r.Offset, r.End())
}

// Allocate assigns each worker its region of the shared file. Regions
// are laid out in rank order with no gaps: the worker with rank r
// starts where rank r-1 ends. Allocate is collective. It also returns
// the total number of bytes across the group.
func Allocate(ctx context.Context, c comm.Comm, localSize int64) (Region, int64, error) {
	prefix, total, err := comm.Scan(ctx, c, localSize)
	if err != nil {
		return Region{}, 0, err
	}
	return Region{Offset: prefix - localSize, Length: localSize}, total, nil
}
