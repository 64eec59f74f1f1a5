// Copyright 2024 The ut Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package stack captures and formats stack traces.
// It exists to support the errors package; test authors should not need to
// use it directly.
package stack

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
)

// maxFrames bounds the number of frames recorded per trace. Failure records
// cross rank boundaries, so traces are kept short on purpose.
const maxFrames = 10

// Trace holds a snapshot of program counters.
type Trace []uintptr

// Capture records the calling goroutine's stack. skip names the number of
// frames to drop; skip=0 records Capture's caller as the innermost frame.
func Capture(skip int) Trace {
	pc := make([]uintptr, maxFrames+1)
	n := runtime.Callers(skip+2, pc)
	return Trace(pc[:n])
}

// String renders the trace with one "at" line per frame.
func (t Trace) String() string {
	var b strings.Builder
	frames := runtime.CallersFrames(t)
	for i := 0; ; i++ {
		f, more := frames.Next()
		if i > 0 {
			b.WriteByte('\n')
		}
		if i >= maxFrames {
			b.WriteString("\t...")
			break
		}
		fmt.Fprintf(&b, "\tat %s (%s:%d)", f.Function, filepath.Base(f.File), f.Line)
		if !more {
			break
		}
	}
	return b.String()
}
