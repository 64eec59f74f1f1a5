// Copyright 2024 The ut Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"code.cloudfoundry.org/clock"

	"github.com/jkammerland/ut/errors"
	"github.com/jkammerland/ut/internal/control"
	"github.com/jkammerland/ut/internal/logging"
)

const resultsName = "results.json" // file in the results dir listing per-test outcomes

// ErrorResult is one failure record in results.json.
type ErrorResult struct {
	Rank   int    `json:"rank"`
	Reason string `json:"reason"`
	File   string `json:"file"`
	Line   int    `json:"line"`
	Stack  string `json:"stack"`
}

// TestResult is one test's outcome in results.json.
type TestResult struct {
	Name string `json:"name"`
	// SkipReason is non-empty if the group skipped the test.
	SkipReason string `json:"skipReason,omitempty"`
	// GroupErrors is the failure count summed across all ranks.
	GroupErrors int           `json:"groupErrors"`
	Errors      []ErrorResult `json:"errors,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// streamProcessor folds the coordinator's control stream into per-test
// results and renders progress lines as messages arrive.
type streamProcessor struct {
	lg logging.Logger

	results   []*TestResult
	cur       *TestResult
	runErr    *control.RunError
	sawRunEnd bool
}

func newStreamProcessor(lg logging.Logger) *streamProcessor {
	return &streamProcessor{lg: lg}
}

func (p *streamProcessor) handle(msg interface{}) {
	switch m := msg.(type) {
	case *control.RunStart:
		p.lg.Logf("Running %d test(s) on %d process(es)", len(m.TestNames), m.Procs)
	case *control.RunLog:
		p.lg.Log(m.Text)
	case *control.RunError:
		p.runErr = m
		p.lg.Log("Run error: ", m.Error.Reason)
	case *control.RunEnd:
		p.sawRunEnd = true
	case *control.TestStart:
		p.cur = &TestResult{Name: m.Test.Name}
		p.lg.Log("=== RUN  ", m.Test.Name)
	case *control.TestLog:
		p.lg.Log("    ", m.Text)
	case *control.TestError:
		p.lg.Logf("    [rank %d] %s:%d: %s", m.Rank, filepath.Base(m.Error.File), m.Error.Line, m.Error.Reason)
		// File the record by the name the message carries: a body that
		// ignored its deadline can emit errors after its own TestEnd,
		// while a later test is already in progress.
		if res := p.resultFor(m.Name); res != nil {
			res.Errors = append(res.Errors, ErrorResult{
				Rank:   m.Rank,
				Reason: m.Error.Reason,
				File:   m.Error.File,
				Line:   m.Error.Line,
				Stack:  m.Error.Stack,
			})
		}
	case *control.TestEnd:
		if p.cur == nil || p.cur.Name != m.Name {
			// A TestEnd without its TestStart means the stream is mangled;
			// record what we can.
			p.cur = &TestResult{Name: m.Name}
		}
		p.cur.SkipReason = m.SkipReason
		p.cur.GroupErrors = m.GroupErrors
		p.cur.Duration = m.Duration
		switch {
		case m.SkipReason != "":
			p.lg.Logf("--- SKIP %s (%s)", m.Name, m.SkipReason)
		case m.GroupErrors > 0:
			p.lg.Logf("--- FAIL %s (%d error(s) across group, %v)", m.Name, m.GroupErrors, m.Duration.Round(time.Millisecond))
		default:
			p.lg.Logf("--- PASS %s (%v)", m.Name, m.Duration.Round(time.Millisecond))
		}
		p.results = append(p.results, p.cur)
		p.cur = nil
	case *control.Heartbeat:
		// Nothing to render; its arrival already fed the watchdog.
	}
}

// resultFor returns the in-progress or completed result named name, or nil
// if no such test has started. Duplicate names resolve to the most recent.
func (p *streamProcessor) resultFor(name string) *TestResult {
	if p.cur != nil && p.cur.Name == name {
		return p.cur
	}
	for i := len(p.results) - 1; i >= 0; i-- {
		if p.results[i].Name == name {
			return p.results[i]
		}
	}
	return nil
}

// counts returns how many tests passed, failed, and were skipped.
func (p *streamProcessor) counts() (passed, failed, skipped int) {
	for _, r := range p.results {
		switch {
		case r.SkipReason != "":
			skipped++
		case r.GroupErrors > 0:
			failed++
		default:
			passed++
		}
	}
	return passed, failed, skipped
}

// consumeStream reads control messages from mr until the stream ends,
// feeding each into p. If no message arrives within stallTimeout the stream
// is considered stalled: onStall is invoked once (the caller is expected to
// kill the run, which ends the stream) and stalled is true on return.
func consumeStream(mr *control.MessageReader, p *streamProcessor, c clock.Clock, stallTimeout time.Duration, onStall func()) (stalled bool, err error) {
	type readResult struct {
		msg interface{}
		err error
	}
	ch := make(chan readResult)
	go func() {
		defer close(ch)
		for mr.More() {
			msg, err := mr.ReadMessage()
			ch <- readResult{msg, err}
			if err != nil {
				return
			}
		}
	}()

	watchdog := c.NewTimer(stallTimeout)
	defer watchdog.Stop()

	for {
		select {
		case r, ok := <-ch:
			if !ok {
				return stalled, nil
			}
			if r.err != nil {
				return stalled, r.err
			}
			watchdog.Reset(stallTimeout)
			p.handle(r.msg)
		case <-watchdog.C():
			if !stalled {
				stalled = true
				onStall()
			}
			// Keep draining: killing the run closes the stream, which is
			// what ends the reader goroutine.
		}
	}
}

// writeResults writes results to resultsName under resDir.
func writeResults(resDir string, results []*TestResult) error {
	f, err := os.Create(filepath.Join(resDir, resultsName))
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		return errors.Wrapf(err, "failed to write %s", resultsName)
	}
	return nil
}
