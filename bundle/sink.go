// Copyright 2024 The ut Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package bundle

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/jkammerland/ut/grouptest"
	"github.com/jkammerland/ut/internal/control"
)

// sink receives run events. Only the coordinator rank's sink reaches the
// outside world; the other ranks use a nopSink so that the consolidated
// report is emitted exactly once.
type sink interface {
	RunStart(testNames []string, procs int)
	RunLog(msg string)
	RunError(e *grouptest.Error, status int)
	TestStart(t *grouptest.Test)
	TestLog(ts time.Time, msg string)
	TestError(ts time.Time, name string, rank int, e *grouptest.Error)
	TestEnd(t *grouptest.Test, skipReason string, groupErrors int, dur time.Duration)
	RunEnd()
}

// controlSink forwards events to a control.MessageWriter, for consumption
// by the utrun launcher.
type controlSink struct {
	mw *control.MessageWriter
}

func newControlSink(mw *control.MessageWriter) *controlSink {
	return &controlSink{mw: mw}
}

func (cs *controlSink) RunStart(testNames []string, procs int) {
	cs.mw.WriteMessage(&control.RunStart{Time: time.Now(), TestNames: testNames, Procs: procs})
}

func (cs *controlSink) RunLog(msg string) {
	cs.mw.WriteMessage(&control.RunLog{Time: time.Now(), Text: msg})
}

func (cs *controlSink) RunError(e *grouptest.Error, status int) {
	cs.mw.WriteMessage(&control.RunError{Time: time.Now(), Error: *e, Status: status})
}

func (cs *controlSink) TestStart(t *grouptest.Test) {
	cs.mw.WriteMessage(&control.TestStart{Time: time.Now(), Test: *t})
}

func (cs *controlSink) TestLog(ts time.Time, msg string) {
	cs.mw.WriteMessage(&control.TestLog{Time: ts, Text: msg})
}

func (cs *controlSink) TestError(ts time.Time, name string, rank int, e *grouptest.Error) {
	cs.mw.WriteMessage(&control.TestError{Time: ts, Name: name, Rank: rank, Error: *e})
}

func (cs *controlSink) TestEnd(t *grouptest.Test, skipReason string, groupErrors int, dur time.Duration) {
	cs.mw.WriteMessage(&control.TestEnd{
		Time:        time.Now(),
		Name:        t.Name,
		SkipReason:  skipReason,
		GroupErrors: groupErrors,
		Duration:    dur,
	})
}

func (cs *controlSink) RunEnd() {
	cs.mw.WriteMessage(&control.RunEnd{Time: time.Now()})
}

// consoleSink renders human-readable lines, for running a test executable
// directly without the launcher.
type consoleSink struct {
	w io.Writer

	passed, failed, skipped int
}

func newConsoleSink(w io.Writer) *consoleSink {
	return &consoleSink{w: w}
}

func (cs *consoleSink) RunStart(testNames []string, procs int) {
	fmt.Fprintf(cs.w, "Running %d test(s) on %d process(es)\n", len(testNames), procs)
}

func (cs *consoleSink) RunLog(msg string) {
	fmt.Fprintln(cs.w, msg)
}

func (cs *consoleSink) RunError(e *grouptest.Error, status int) {
	fmt.Fprintf(cs.w, "Error: %s\n", e.Reason)
}

func (cs *consoleSink) TestStart(t *grouptest.Test) {
	fmt.Fprintf(cs.w, "=== RUN  %s\n", t.Name)
}

func (cs *consoleSink) TestLog(ts time.Time, msg string) {
	fmt.Fprintf(cs.w, "    %s\n", msg)
}

func (cs *consoleSink) TestError(ts time.Time, name string, rank int, e *grouptest.Error) {
	fmt.Fprintf(cs.w, "    [rank %d] %s:%d: %s\n", rank, filepath.Base(e.File), e.Line, e.Reason)
}

func (cs *consoleSink) TestEnd(t *grouptest.Test, skipReason string, groupErrors int, dur time.Duration) {
	switch {
	case skipReason != "":
		cs.skipped++
		fmt.Fprintf(cs.w, "--- SKIP %s (%s)\n", t.Name, skipReason)
	case groupErrors > 0:
		cs.failed++
		fmt.Fprintf(cs.w, "--- FAIL %s (%d error(s) across group, %v)\n", t.Name, groupErrors, dur.Round(time.Millisecond))
	default:
		cs.passed++
		fmt.Fprintf(cs.w, "--- PASS %s (%v)\n", t.Name, dur.Round(time.Millisecond))
	}
}

func (cs *consoleSink) RunEnd() {
	fmt.Fprintf(cs.w, "%d passed, %d failed, %d skipped\n", cs.passed, cs.failed, cs.skipped)
}

// nopSink discards everything. Used on non-coordinator ranks.
type nopSink struct{}

func (nopSink) RunStart(testNames []string, procs int)               {}
func (nopSink) RunLog(msg string)                                    {}
func (nopSink) RunError(e *grouptest.Error, status int)              {}
func (nopSink) TestStart(t *grouptest.Test)                          {}
func (nopSink) TestLog(ts time.Time, msg string)                     {}
func (nopSink) TestError(ts time.Time, name string, rank int, e *grouptest.Error) {}
func (nopSink) TestEnd(t *grouptest.Test, skipReason string, groupErrors int, dur time.Duration) {
}
func (nopSink) RunEnd() {}
