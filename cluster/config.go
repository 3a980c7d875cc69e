// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package cluster

import (
	"context"
	"fmt"

	"github.com/grailbio/base/config"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigmachine"
)

func init() {
	config.Register("bigio", func(inst *config.Constructor) {
		sess := newSession()
		inst.IntVar(&sess.workers, "workers", 4, "number of workers in the benchmark group")
		var system bigmachine.System
		inst.InstanceVar(&system, "system", "", "the bigmachine system on which workers run; local goroutines if empty")
		inst.Doc = "bigio configures the benchmark's worker group"
		inst.New = func() (interface{}, error) {
			if sess.workers <= 0 {
				return nil, errors.E(errors.Invalid, fmt.Sprintf("bigio: workers %d must be positive", sess.workers))
			}
			sess.system = system
			if err := sess.start(context.Background()); err != nil {
				sess.Shutdown()
				return nil, err
			}
			return sess, nil
		}
	})
}
