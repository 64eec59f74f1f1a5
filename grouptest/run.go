// Copyright 2024 The ut Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package grouptest

import (
	"context"
	"time"

	"github.com/jkammerland/ut/internal/comm"
)

// exitTimeout is extra time granted to a test body to return after its
// context's deadline is reached.
const exitTimeout = 3 * time.Second

// Run executes the test body on this rank, streaming logs and failure
// records to ch. It returns true if the body returned (or unwound via
// Fatal) in time, false if the body ignored its deadline; either way ch is
// closed once the body goroutine is done writing to it.
//
// Run performs no group communication itself. The caller owns the
// post-body collective phase and must enter it on every rank regardless of
// what the body did, since the other ranks are already blocked there.
func (t *Test) Run(ctx context.Context, group *comm.Group, ch chan<- Output, defaultTimeout time.Duration) bool {
	s := newState(t, ch, group)

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	var cancel func()
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	done := make(chan struct{}, 1)
	// The body runs in its own goroutine so that Fatal's runtime.Goexit
	// unwinds only the body, and so that a body that ignores its deadline
	// doesn't wedge the whole bundle.
	go func() {
		defer s.close()
		defer func() {
			if r := recover(); r != nil {
				s.Error("Panic: ", r)
			}
			done <- struct{}{}
		}()
		t.Func(ctx, s)
	}()

	if timeout <= 0 {
		<-done
		return true
	}
	select {
	case <-done:
		return true
	case <-time.After(timeout + exitTimeout):
		return false
	}
}
