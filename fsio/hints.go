// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package fsio

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
)

// Hint keys understood by the filesystem layer. The names follow the
// ROMIO conventions used by parallel filesystems.
const (
	// HintBufferSize is the buffering chunk size in bytes. The layer
	// never issues a single system call larger than this.
	HintBufferSize = "cb_buffer_size"
	// HintDirectRead asks that reads bypass the page cache.
	HintDirectRead = "direct_read"
	// HintDirectWrite asks that written data not linger in the page
	// cache.
	HintDirectWrite = "direct_write"
	// HintSieveRead controls data sieving for reads.
	HintSieveRead = "romio_ds_read"
	// HintSieveWrite controls data sieving for writes.
	HintSieveWrite = "romio_ds_write"
	// HintNoIndependent disables independent (non-collective)
	// request issuance.
	HintNoIndependent = "romio_no_indep_rw"
)

// known lists the hints that are reported back by File.Info.
// Other hints are accepted and ignored.
var known = map[string]bool{
	HintBufferSize:    true,
	HintDirectRead:    true,
	HintDirectWrite:   true,
	HintSieveRead:     true,
	HintSieveWrite:    true,
	HintNoIndependent: true,
	"romio_cb_read":   true,
	"romio_cb_write":  true,
	"striping_unit":   true,
	"striping_factor": true,
}

// A Hint is a single key/value tuning option.
type Hint struct {
	Key, Value string
}

// Hints is an ordered set of tuning options forwarded verbatim to the
// filesystem layer. A key appears at most once. Hints implements
// flag.Value.
type Hints []Hint

// DefaultHints returns the hint set used when none is configured:
// 32 MiB buffering chunks, no data sieving, no independent requests,
// and direct I/O for both reads and writes.
func DefaultHints() Hints {
	return Hints{
		{HintBufferSize, "33554432"},
		{HintSieveWrite, "disable"},
		{HintSieveRead, "disable"},
		{HintNoIndependent, "true"},
		{HintDirectRead, "true"},
		{HintDirectWrite, "true"},
	}
}

// ParseHints parses a comma-separated list of key=value pairs.
// Later occurrences of a key replace earlier ones.
func ParseHints(s string) (Hints, error) {
	var h Hints
	if err := h.Set(s); err != nil {
		return nil, err
	}
	return h, nil
}

// Set merges the comma-separated key=value pairs in s into h.
func (h *Hints) Set(s string) error {
	for _, kv := range strings.Split(s, ",") {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		i := strings.Index(kv, "=")
		if i <= 0 {
			return errors.E(errors.Invalid, fmt.Sprintf("hint %q: expected key=value", kv))
		}
		*h = h.With(strings.TrimSpace(kv[:i]), strings.TrimSpace(kv[i+1:]))
	}
	return nil
}

// With returns a copy of h in which key is set to value.
func (h Hints) With(key, value string) Hints {
	w := make(Hints, 0, len(h)+1)
	replaced := false
	for _, hint := range h {
		if hint.Key == key {
			hint.Value = value
			replaced = true
		}
		w = append(w, hint)
	}
	if !replaced {
		w = append(w, Hint{key, value})
	}
	return w
}

// Get returns the value of key, and whether it is set.
func (h Hints) Get(key string) (string, bool) {
	for _, hint := range h {
		if hint.Key == key {
			return hint.Value, true
		}
	}
	return "", false
}

// Bool reports whether key is set to a true value ("true", "enable",
// "1" and the like).
func (h Hints) Bool(key string) bool {
	v, ok := h.Get(key)
	if !ok {
		return false
	}
	switch strings.ToLower(v) {
	case "enable", "enabled", "yes", "on":
		return true
	}
	b, _ := strconv.ParseBool(v)
	return b
}

// String returns the hints in flag syntax.
func (h Hints) String() string {
	kvs := make([]string, len(h))
	for i, hint := range h {
		kvs[i] = hint.Key + "=" + hint.Value
	}
	return strings.Join(kvs, ",")
}
