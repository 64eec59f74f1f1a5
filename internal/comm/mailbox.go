// Copyright 2024 The ut Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package comm

import (
	"context"
	"sync"
)

type mailKey struct {
	from, tag int
}

// mailbox buffers delivered payloads per (sender, tag) pair and lets
// receivers block until something arrives. Once fail is called, all pending
// and future takes return the recorded error.
type mailbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queues map[mailKey][][]byte
	err    error
}

func newMailbox() *mailbox {
	m := &mailbox{queues: make(map[mailKey][][]byte)}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// put appends a payload to the (from, tag) queue and wakes any waiters.
func (m *mailbox) put(from, tag int, payload []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := mailKey{from, tag}
	m.queues[k] = append(m.queues[k], payload)
	m.cond.Broadcast()
}

// fail poisons the mailbox. The first recorded error wins.
func (m *mailbox) fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err == nil {
		m.err = err
	}
	m.cond.Broadcast()
}

// take blocks until a payload from (from, tag) is available and removes it
// from the queue. It returns early if the mailbox is poisoned or ctx is
// done. Queued payloads win over a poisoning error so that messages already
// delivered before teardown are still receivable.
func (m *mailbox) take(ctx context.Context, from, tag int) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.cond.Broadcast()
	})
	defer stop()

	m.mu.Lock()
	defer m.mu.Unlock()

	k := mailKey{from, tag}
	for {
		if q := m.queues[k]; len(q) > 0 {
			p := q[0]
			if len(q) == 1 {
				delete(m.queues, k)
			} else {
				m.queues[k] = q[1:]
			}
			return p, nil
		}
		if m.err != nil {
			return nil, m.err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m.cond.Wait()
	}
}
