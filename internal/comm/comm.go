// Copyright 2024 The ut Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package comm forms and operates the process group behind a group-test run.
//
// A group consists of a fixed number of ranks (one OS process each, except
// in unit tests). Rank 0 is the coordinator: it listens on a unix socket
// supplied by the launcher, the remaining ranks dial it, and all traffic
// between non-coordinator ranks is routed through it. The package offers
// blocking tagged point-to-point messaging plus the collectives the test
// harness needs (sum all-reduce, barrier, gather). There are no timeouts
// beyond what the caller's context imposes: a rank that never shows up
// blocks its peers forever, and bounding that is the launcher's job.
package comm

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Default bound on how long group formation may take.
const defaultJoinTimeout = 30 * time.Second

// EnvironmentError reports a failure to form, use, or tear down the process
// group, as opposed to a failure inside a test.
type EnvironmentError struct {
	reason string
	cause  error
}

func (e *EnvironmentError) Error() string {
	if e.cause == nil {
		return e.reason
	}
	return fmt.Sprintf("%s: %v", e.reason, e.cause)
}

// Unwrap returns the underlying cause, if any.
func (e *EnvironmentError) Unwrap() error { return e.cause }

func envErrorf(cause error, format string, args ...interface{}) *EnvironmentError {
	return &EnvironmentError{reason: fmt.Sprintf(format, args...), cause: cause}
}

// Options describes how this process should join its group.
type Options struct {
	// Rank is this process's zero-based index within the group.
	Rank int
	// Size is the total number of ranks. 1 means a local-only group with
	// no networking.
	Size int
	// Addr is the unix socket path the coordinator listens on. Required
	// when Size > 1.
	Addr string
	// Session identifies one launcher invocation. The coordinator rejects
	// joiners carrying a different session so a stale rank from an earlier
	// run can't slip into the group. Required when Size > 1.
	Session string
	// JoinTimeout bounds group formation (not later operations).
	// Zero means a reasonable default.
	JoinTimeout time.Duration
}

func (o *Options) validate() error {
	if o.Size < 1 {
		return &EnvironmentError{reason: fmt.Sprintf("invalid group size %d", o.Size)}
	}
	if o.Rank < 0 || o.Rank >= o.Size {
		return &EnvironmentError{reason: fmt.Sprintf("rank %d outside group of size %d", o.Rank, o.Size)}
	}
	if o.Size > 1 {
		if o.Addr == "" {
			return &EnvironmentError{reason: "no coordinator address"}
		}
		if o.Session == "" {
			return &EnvironmentError{reason: "no session ID"}
		}
	}
	return nil
}

// Group is a formed process group. It is safe for concurrent use by
// multiple goroutines.
type Group struct {
	rank, size int
	box        *mailbox

	mu     sync.Mutex
	closed bool

	ln    listenerCloser // coordinator only
	peers []*peer        // coordinator only, indexed by rank; peers[0] is nil
	coord *peer          // non-coordinator only
}

// Narrow view of net.Listener, so tests can stub teardown.
type listenerCloser interface {
	Close() error
}

// Rank returns this process's zero-based index within the group.
func (g *Group) Rank() int { return g.rank }

// Size returns the total number of ranks in the group.
func (g *Group) Size() int { return g.size }

// Join forms the process group described by opts and returns this process's
// handle on it. It blocks until every rank has joined or opts.JoinTimeout
// elapses. Formation failures are EnvironmentErrors.
func Join(ctx context.Context, opts Options) (*Group, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = defaultJoinTimeout
	}

	g := &Group{rank: opts.Rank, size: opts.Size, box: newMailbox()}
	if opts.Size == 1 {
		return g, nil
	}

	ctx, cancel := context.WithTimeout(ctx, opts.JoinTimeout)
	defer cancel()

	var err error
	if opts.Rank == 0 {
		err = g.listenAndAccept(ctx, opts)
	} else {
		err = g.dialAndJoin(ctx, opts)
	}
	if err != nil {
		g.Close()
		return nil, err
	}
	return g, nil
}

// Close tears down the group, releasing the socket and unblocking any
// pending receives with an error. Calling Close a second time is an
// EnvironmentError.
func (g *Group) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return &EnvironmentError{reason: "process group already torn down"}
	}
	g.closed = true
	g.mu.Unlock()

	g.box.fail(&EnvironmentError{reason: "process group torn down"})
	if g.ln != nil {
		g.ln.Close()
	}
	for _, p := range g.peers {
		if p != nil {
			p.conn.Close()
		}
	}
	if g.coord != nil {
		g.coord.conn.Close()
	}
	return nil
}

func (g *Group) isClosed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

// Send delivers payload to the given rank under tag. It blocks until the
// message has been handed to the transport. Tags must be non-negative;
// negative tags are reserved for the harness.
func (g *Group) Send(ctx context.Context, to, tag int, payload []byte) error {
	if tag < 0 {
		return &EnvironmentError{reason: fmt.Sprintf("tag %d is reserved", tag)}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return g.send(to, tag, payload)
}

// Recv blocks until a message from the given rank under tag arrives and
// returns its payload, which may be zero-length. Messages from one sender
// under one tag are delivered in the order they were sent. Tags must be
// non-negative.
func (g *Group) Recv(ctx context.Context, from, tag int) ([]byte, error) {
	if tag < 0 {
		return nil, &EnvironmentError{reason: fmt.Sprintf("tag %d is reserved", tag)}
	}
	if from < 0 || from >= g.size {
		return nil, &EnvironmentError{reason: fmt.Sprintf("rank %d outside group of size %d", from, g.size)}
	}
	return g.box.take(ctx, from, tag)
}

// send is the unvalidated internal path, also used with reserved tags.
func (g *Group) send(to, tag int, payload []byte) error {
	if to < 0 || to >= g.size {
		return &EnvironmentError{reason: fmt.Sprintf("rank %d outside group of size %d", to, g.size)}
	}
	if g.isClosed() {
		return &EnvironmentError{reason: "process group torn down"}
	}
	f := &frame{From: g.rank, To: to, Tag: tag, Payload: payload}
	switch {
	case to == g.rank:
		g.box.put(f.From, f.Tag, f.Payload)
		return nil
	case g.rank == 0:
		return g.peers[to].write(f)
	default:
		// Everything else is routed through the coordinator.
		return g.coord.write(f)
	}
}
