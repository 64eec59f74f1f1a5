// Copyright 2024 The ut Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package logging is used by the utrun executable to write informational
// output. Test executables do not log through this package; their messages
// travel over the control stream instead.
package logging

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Logger is the interface used for logging by the utrun executable.
type Logger interface {
	// Close deinitializes the logger.
	Close() error

	// Log formats args using default formatting and logs them
	// unconditionally.
	Log(args ...interface{})
	// Logf is similar to Log but formats args as per fmt.Sprintf.
	Logf(format string, args ...interface{})

	// Debug formats args using default formatting and logs them only in
	// verbose mode.
	Debug(args ...interface{})
	// Debugf is similar to Debug but formats args as per fmt.Sprintf.
	Debugf(format string, args ...interface{})
}

// simpleLogger writes timestamped lines to a single writer.
type simpleLogger struct {
	mu      sync.Mutex // ensures atomic writes; protects buf
	out     io.Writer
	stamp   bool
	verbose bool
	buf     []byte
}

// NewSimple returns a Logger writing to w. If stamp is true, each line gets
// a UTC timestamp prefix. If verbose is false, Debug messages are dropped.
func NewSimple(w io.Writer, stamp, verbose bool) Logger {
	return &simpleLogger{out: w, stamp: stamp, verbose: verbose}
}

// NewDiscard returns a Logger that drops all messages.
func NewDiscard() Logger {
	return NewSimple(io.Discard, false, false)
}

func (l *simpleLogger) Close() error { return nil }

func (l *simpleLogger) Log(args ...interface{}) { l.write(fmt.Sprint(args...)) }

func (l *simpleLogger) Logf(format string, args ...interface{}) {
	l.write(fmt.Sprintf(format, args...))
}

func (l *simpleLogger) Debug(args ...interface{}) {
	if l.verbose {
		l.write(fmt.Sprint(args...))
	}
}

func (l *simpleLogger) Debugf(format string, args ...interface{}) {
	if l.verbose {
		l.write(fmt.Sprintf(format, args...))
	}
}

func (l *simpleLogger) write(s string) {
	now := time.Now() // before taking the lock

	l.mu.Lock()
	defer l.mu.Unlock()

	l.buf = l.buf[:0]
	if l.stamp {
		l.buf = append(l.buf, now.UTC().Format("2006-01-02T15:04:05.000000Z ")...)
	}
	l.buf = append(l.buf, s...)
	if len(s) == 0 || s[len(s)-1] != '\n' {
		l.buf = append(l.buf, '\n')
	}
	l.out.Write(l.buf)
}
