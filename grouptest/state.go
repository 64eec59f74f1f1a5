// Copyright 2024 The ut Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package grouptest

import (
	"context"
	"fmt"
	"regexp"
	"runtime"
	"sync"
	"time"

	"github.com/jkammerland/ut/errors/stack"
	"github.com/jkammerland/ut/internal/comm"
)

// Error describes a failure recorded while running a test on one rank.
type Error struct {
	Reason string `json:"reason"`
	File   string `json:"file"`
	Line   int    `json:"line"`
	Stack  string `json:"stack"`
}

// Output contains a piece of output (either an error or a log message)
// produced by a test on the local rank.
type Output struct {
	T   time.Time
	Err *Error
	Msg string
}

// State holds state relevant to the execution of a single test on one rank.
//
// Parts of its interface are patterned after Go's testing.T type. Errors
// recorded here stay local to the rank until the post-test collective phase
// sums them across the group and gathers the details on the coordinator.
//
// It is intended to be safe when called concurrently by multiple goroutines
// while a test is running.
type State struct {
	test  *Test         // test being run
	ch    chan<- Output // channel to which logging messages and errors are written
	group *comm.Group   // the process group this rank belongs to

	closed   bool       // true after close is called and ch is closed
	hasError bool       // whether the test has already reported errors or not
	mu       sync.Mutex // protects closed and hasError
}

func newState(test *Test, ch chan<- Output, group *comm.Group) *State {
	return &State{test: test, ch: ch, group: group}
}

// close is called after the test has completed to close s.ch.
func (s *State) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		close(s.ch)
		s.closed = true
	}
}

// Rank returns this process's zero-based index within the group.
func (s *State) Rank() int { return s.group.Rank() }

// Size returns the total number of ranks running this test.
func (s *State) Size() int { return s.group.Size() }

// Send delivers payload to the given rank under tag, blocking until the
// message has been handed to the transport.
func (s *State) Send(ctx context.Context, to, tag int, payload []byte) error {
	return s.group.Send(ctx, to, tag, payload)
}

// Recv blocks until a message from the given rank under tag arrives and
// returns its payload.
func (s *State) Recv(ctx context.Context, from, tag int) ([]byte, error) {
	return s.group.Recv(ctx, from, tag)
}

// Barrier blocks until every rank in the group has reached it. Every rank
// must call it, or the group deadlocks.
func (s *State) Barrier(ctx context.Context) error {
	return s.group.Barrier(ctx)
}

// AllReduceSum adds up one integer contributed by every rank and returns
// the identical total on every rank. Like Barrier, every rank must call it.
func (s *State) AllReduceSum(ctx context.Context, n int) (int, error) {
	return s.group.AllReduceSum(ctx, n)
}

// Log formats its arguments using default formatting and logs them.
func (s *State) Log(args ...interface{}) {
	s.writeOutput(Output{T: time.Now(), Msg: fmt.Sprint(args...)})
}

// Logf is similar to Log but formats its arguments using fmt.Sprintf.
func (s *State) Logf(format string, args ...interface{}) {
	s.writeOutput(Output{T: time.Now(), Msg: fmt.Sprintf(format, args...)})
}

// Error formats its arguments using default formatting and marks the test
// as having failed on this rank (using the arguments as a reason for the
// failure) while letting the test continue execution.
func (s *State) Error(args ...interface{}) {
	s.recordError()
	fullMsg, lastMsg, err := formatError(args...)
	e := NewError(err, fullMsg, lastMsg, 1)
	s.writeOutput(Output{T: time.Now(), Err: e})
}

// Errorf is similar to Error but formats its arguments using fmt.Sprintf.
func (s *State) Errorf(format string, args ...interface{}) {
	s.recordError()
	fullMsg, lastMsg, err := formatErrorf(format, args...)
	e := NewError(err, fullMsg, lastMsg, 1)
	s.writeOutput(Output{T: time.Now(), Err: e})
}

// Fatal is similar to Error but additionally immediately ends the test on
// this rank. The other ranks keep running until they reach the post-test
// collective phase.
func (s *State) Fatal(args ...interface{}) {
	s.recordError()
	fullMsg, lastMsg, err := formatError(args...)
	e := NewError(err, fullMsg, lastMsg, 1)
	s.writeOutput(Output{T: time.Now(), Err: e})
	runtime.Goexit()
}

// Fatalf is similar to Fatal but formats its arguments using fmt.Sprintf.
func (s *State) Fatalf(format string, args ...interface{}) {
	s.recordError()
	fullMsg, lastMsg, err := formatErrorf(format, args...)
	e := NewError(err, fullMsg, lastMsg, 1)
	s.writeOutput(Output{T: time.Now(), Err: e})
	runtime.Goexit()
}

// CheckRank evaluates cond on the given rank only and records a non-fatal
// failure there when it is false. On every other rank it is a no-op, which
// is what keeps the call safe to write unconditionally in a body that all
// ranks execute.
func (s *State) CheckRank(rank int, cond bool, args ...interface{}) {
	if s.Rank() != rank || cond {
		return
	}
	s.recordError()
	fullMsg, lastMsg, err := formatError(args...)
	e := NewError(err, fullMsg, lastMsg, 1)
	s.writeOutput(Output{T: time.Now(), Err: e})
}

// RequireRank is similar to CheckRank but ends the test on the given rank
// when cond is false.
func (s *State) RequireRank(rank int, cond bool, args ...interface{}) {
	if s.Rank() != rank || cond {
		return
	}
	s.recordError()
	fullMsg, lastMsg, err := formatError(args...)
	e := NewError(err, fullMsg, lastMsg, 1)
	s.writeOutput(Output{T: time.Now(), Err: e})
	runtime.Goexit()
}

// writeOutput writes o to s.ch.
// o is discarded if close has already been called since a write to a closed
// channel would panic.
func (s *State) writeOutput(o Output) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.ch <- o
	}
}

// HasError reports whether the test has already reported errors on this rank.
func (s *State) HasError() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasError
}

// recordError records that the test has reported an error.
func (s *State) recordError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hasError = true
}

// errorSuffix matches the well-known error message suffixes for formatError.
var errorSuffix = regexp.MustCompile(`(\s*:\s*|\s+)$`)

// formatError formats an error message using fmt.Sprint.
// If the format is a well-known one, such as:
//
//	formatError("Failed something: ", err)
//
// then this function extracts an error object and returns parsed error
// messages in the following way:
//
//	lastMsg = "Failed something"
//	fullMsg = "Failed something: <error message>"
func formatError(args ...interface{}) (fullMsg, lastMsg string, err error) {
	fullMsg = fmt.Sprint(args...)
	if len(args) == 1 {
		if e, ok := args[0].(error); ok {
			err = e
		}
	} else if len(args) >= 2 {
		if e, ok := args[len(args)-1].(error); ok {
			if s, ok := args[len(args)-2].(string); ok {
				if m := errorSuffix.FindStringIndex(s); m != nil {
					err = e
					args = append(args[:len(args)-2], s[:m[0]])
				}
			}
		}
	}
	lastMsg = fmt.Sprint(args...)
	return fullMsg, lastMsg, err
}

// errorfSuffix matches the well-known error message suffix for formatErrorf.
var errorfSuffix = regexp.MustCompile(`\s*:?\s*%v$`)

// formatErrorf formats an error message using fmt.Sprintf.
// If the format is the following well-known one:
//
//	formatErrorf("Failed something: %v", err)
//
// then this function extracts an error object and returns parsed error
// messages in the following way:
//
//	lastMsg = "Failed something"
//	fullMsg = "Failed something: <error message>"
func formatErrorf(format string, args ...interface{}) (fullMsg, lastMsg string, err error) {
	fullMsg = fmt.Sprintf(format, args...)
	if len(args) >= 1 {
		if e, ok := args[len(args)-1].(error); ok {
			if m := errorfSuffix.FindStringIndex(format); m != nil {
				err = e
				args = args[:len(args)-1]
				format = format[:m[0]]
			}
		}
	}
	lastMsg = fmt.Sprintf(format, args...)
	return fullMsg, lastMsg, err
}

// NewError returns a new Error object containing reason rsn.
// skipFrames contains the number of frames to skip to get the code that's
// reporting the error: the caller should pass 0 to report its own frame,
// 1 to skip just its own frame, 2 to additionally skip the frame that
// called it, and so on.
func NewError(err error, fullMsg, lastMsg string, skipFrames int) *Error {
	// Also skip the NewError frame.
	skipFrames++

	_, fn, ln, _ := runtime.Caller(skipFrames)

	trace := fmt.Sprintf("%s\n%s", lastMsg, stack.Capture(skipFrames))
	if err != nil {
		trace += fmt.Sprintf("\n%+v", err)
	}

	return &Error{
		Reason: fullMsg,
		File:   fn,
		Line:   ln,
		Stack:  trace,
	}
}
