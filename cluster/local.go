// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package cluster

import (
	"context"

	"github.com/grailbio/base/status"
	"github.com/grailbio/bigio/bench"
	"github.com/grailbio/bigio/comm"
	"github.com/grailbio/bigio/stats"
)

// runLocal runs the benchmark on an in-process group. If any worker
// fails, the others are canceled out of their collectives.
func (s *Session) runLocal(ctx context.Context, config bench.Config, group *status.Group) ([]bench.Report, []stats.Values, error) {
	var (
		reports []bench.Report
		snaps   = make([]stats.Values, s.workers)
	)
	err := comm.Run(ctx, s.workers, func(ctx context.Context, c comm.Comm) error {
		h := &bench.Harness{Comm: c, Config: config, Stats: stats.NewMap()}
		if c.Rank() == 0 {
			h.Output = s.output
			h.Status = group
		}
		r, err := h.Run(ctx)
		snaps[c.Rank()] = h.Stats.Snapshot()
		if c.Rank() == 0 {
			reports = r
		}
		return err
	})
	return reports, snaps, err
}
