// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bench

import (
	"bytes"
	"context"
	"io/ioutil"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/status"
	"github.com/grailbio/bigio/comm"
	"github.com/grailbio/bigio/fsio"
	"github.com/grailbio/bigio/stats"
	"github.com/grailbio/bigio/transfer"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func testConfig(t *testing.T) (Config, func()) {
	t.Helper()
	dir, cleanup := testutil.TempDir(t, "", "")
	config := DefaultConfig
	config.DatasetSize = 4099
	config.PathPrefix = dir + "/"
	config.Repeat = 3
	config.UnitSize = 64
	config.Hints = fsio.DefaultHints().With(fsio.HintBufferSize, "16")
	return config, cleanup
}

// run runs a harness on each worker of an n-worker group.
func run(n int, config Config, out *bytes.Buffer) ([][]Report, []error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	var (
		comms   = comm.Local(n)
		reports = make([][]Report, n)
		errs    = make([]error, n)
		wg      sync.WaitGroup
	)
	for i := range comms {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h := &Harness{Comm: comms[i], Config: config, Stats: stats.NewMap()}
			if i == 0 && out != nil {
				h.Output = out
			}
			reports[i], errs[i] = h.Run(ctx)
		}(i)
	}
	wg.Wait()
	return reports, errs
}

func TestBufferSize(t *testing.T) {
	config := Config{DatasetSize: 10}
	var sum int64
	for rank, want := range []int64{3, 3, 2, 2} {
		got := config.BufferSize(rank, 4)
		expect.EQ(t, got, want)
		sum += got
	}
	expect.EQ(t, sum, int64(10))
	expect.EQ(t, config.BufferSize(0, 1), int64(10))
}

func TestValidate(t *testing.T) {
	config, cleanup := testConfig(t)
	defer cleanup()
	assert.NoError(t, config.Validate())
	for _, mod := range []func(*Config){
		func(c *Config) { c.DatasetSize = 0 },
		func(c *Config) { c.Repeat = -1 },
		func(c *Config) { c.UnitSize = 0 },
		func(c *Config) { c.UnitSize = transfer.MaxUnitSize + 1 },
		func(c *Config) { c.PathPrefix = "" },
		func(c *Config) { c.Op = Op(10) },
		func(c *Config) { c.Discipline = transfer.Discipline(10) },
		func(c *Config) { c.Op, c.Discipline = OpWriteRead, transfer.Independent },
	} {
		c := config
		mod(&c)
		if err := c.Validate(); !errors.Is(errors.Invalid, err) {
			t.Errorf("%v: unexpected error %v", c, err)
		}
	}
}

func TestOp(t *testing.T) {
	var op Op
	assert.NoError(t, op.Set("WriteRead"))
	expect.EQ(t, op, OpWriteRead)
	expect.EQ(t, op.Directions(), []transfer.Direction{transfer.Write, transfer.Read})
	if err := op.Set("append"); !errors.Is(errors.Invalid, err) {
		t.Errorf("unexpected error %v", err)
	}
}

func TestReport(t *testing.T) {
	r := Report{Op: transfer.Write, Bytes: 4e9, Elapsed: 2 * time.Second}
	expect.EQ(t, r.Bandwidth(), 2000.0)
	expect.EQ(t, r.String(), "collective write 4000000000 bytes in 2 seconds: 2000 MB/s.")
}

func TestPattern(t *testing.T) {
	for _, n := range []int{0, 1, patternChunk - 1, patternChunk, 2*patternChunk + 5} {
		p := make([]byte, n)
		Fill(p, 3)
		expect.EQ(t, Checksum(p), PatternChecksum(n, 3))
	}
	if PatternChecksum(1000, 0) == PatternChecksum(1000, 1) {
		t.Error("ranks share a pattern")
	}
}

var reportLine = regexp.MustCompile(`^collective (read|write) 4099 bytes in \S+ seconds: \S+ MB/s\.$`)

func TestRepeat(t *testing.T) {
	config, cleanup := testConfig(t)
	defer cleanup()
	config.Op = OpWrite
	config.Discipline = transfer.ExplicitOffset
	var out bytes.Buffer
	reports, errs := run(3, config, &out)
	for _, err := range errs {
		assert.NoError(t, err)
	}
	for rank := range reports {
		if got, want := len(reports[rank]), 3; got != want {
			t.Fatalf("rank %d: got %v, want %v", rank, got, want)
		}
		for trial, r := range reports[rank] {
			expect.EQ(t, r.Trial, trial)
			expect.EQ(t, r.Op, transfer.Write)
			expect.EQ(t, r.Bytes, int64(4099))
		}
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if got, want := len(lines), 5; got != want {
		t.Fatalf("got %v, want %v: %q", got, want, out.String())
	}
	expect.EQ(t, lines[0], "Running.")
	expect.EQ(t, lines[4], "Done.")
	for _, line := range lines[1:4] {
		if !reportLine.MatchString(line) {
			t.Errorf("bad report line %q", line)
		}
	}
	fi, err := ioutil.ReadFile(filepath.Join(config.PathPrefix, "write_at_all.bin"))
	assert.NoError(t, err)
	expect.EQ(t, len(fi), 4099)
}

func TestWriteReadVerify(t *testing.T) {
	for _, c := range []struct {
		n          int
		discipline transfer.Discipline
	}{
		{4, transfer.ExplicitOffset},
		{1, transfer.SharedPointer},
		// Verification is skipped for shared pointers in larger groups.
		{3, transfer.SharedPointer},
	} {
		config, cleanup := testConfig(t)
		config.Op = OpWriteRead
		config.Discipline = c.discipline
		config.Repeat = 2
		config.Verify = true
		reports, errs := run(c.n, config, nil)
		for rank, err := range errs {
			if err != nil {
				t.Errorf("%d %v: rank %d: %v", c.n, c.discipline, rank, err)
			}
		}
		for rank := range reports {
			if got, want := len(reports[rank]), 4; got != want {
				t.Errorf("%d %v: rank %d: got %v, want %v", c.n, c.discipline, rank, got, want)
				continue
			}
			for i, r := range reports[rank] {
				expect.EQ(t, r.Trial, i/2)
				expect.EQ(t, r.Op, config.Op.Directions()[i%2])
			}
		}
		cleanup()
	}
}

func TestVerifyCorrupt(t *testing.T) {
	config, cleanup := testConfig(t)
	defer cleanup()
	config.Op = OpWrite
	config.Discipline = transfer.ExplicitOffset
	config.Repeat = 1
	_, errs := run(2, config, nil)
	for _, err := range errs {
		assert.NoError(t, err)
	}
	// Corrupt the last byte, owned by rank 1.
	path := config.Path(transfer.Write)
	p, err := ioutil.ReadFile(path)
	assert.NoError(t, err)
	p[len(p)-1]++
	assert.NoError(t, ioutil.WriteFile(path, p, 0644))

	config.Op = OpRead
	config.Verify = true
	for _, discipline := range []transfer.Discipline{transfer.ExplicitOffset, transfer.Independent} {
		config.Discipline = discipline
		_, errs = run(2, config, nil)
		for rank, err := range errs {
			if err == nil {
				t.Errorf("%v: rank %d: expected error", discipline, rank)
			}
		}
		if !errors.Is(errors.Integrity, errs[1]) {
			t.Errorf("%v: expected integrity error, got %v", discipline, errs[1])
		}
	}
}

func TestReadMissing(t *testing.T) {
	config, cleanup := testConfig(t)
	defer cleanup()
	config.Op = OpRead
	var out bytes.Buffer
	_, errs := run(2, config, &out)
	for rank, err := range errs {
		if err == nil {
			t.Fatalf("rank %d: expected error", rank)
		}
		if !errors.Is(errors.NotExist, err) {
			t.Errorf("rank %d: unexpected error %v", rank, err)
		}
	}
	expect.EQ(t, out.String(), "Running.\n")
}

func TestStatus(t *testing.T) {
	config, cleanup := testConfig(t)
	defer cleanup()
	config.Op = OpWrite
	config.Repeat = 2
	var s status.Status
	h := &Harness{Comm: comm.Local(1)[0], Config: config, Status: s.Group("bench")}
	reports, err := h.Run(context.Background())
	assert.NoError(t, err)
	expect.EQ(t, len(reports), 2)
}
