// Copyright 2024 The ut Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package comm

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"
)

// How long a worker sleeps between attempts to dial a coordinator socket
// that doesn't exist yet.
const dialRetryInterval = 50 * time.Millisecond

// frame is one routed message. Payload is base64-encoded on the wire by
// encoding/json; a nil payload arrives as a zero-length one.
type frame struct {
	From    int    `json:"from"`
	To      int    `json:"to"`
	Tag     int    `json:"tag"`
	Payload []byte `json:"payload,omitempty"`
}

// hello is sent by a joining rank immediately after connecting.
type hello struct {
	Session string `json:"session"`
	Rank    int    `json:"rank"`
}

// welcome is the coordinator's reply to a hello.
type welcome struct {
	Size   int    `json:"size"`
	Reject string `json:"reject,omitempty"`
}

// peer is one live connection. The decoder is shared between the join
// handshake and the read loop: a json.Decoder reads ahead, so creating a
// second one on the same connection could silently swallow frames.
type peer struct {
	conn net.Conn
	dec  *json.Decoder

	mu  sync.Mutex // serializes writes
	enc *json.Encoder
}

func newPeer(conn net.Conn) *peer {
	return &peer{conn: conn, dec: json.NewDecoder(conn), enc: json.NewEncoder(conn)}
}

func (p *peer) write(f *frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enc.Encode(f); err != nil {
		return envErrorf(err, "failed to send to rank %d", f.To)
	}
	return nil
}

// listenAndAccept is the coordinator half of group formation: bind the
// socket, admit size-1 ranks, then release them all with a ready frame.
func (g *Group) listenAndAccept(ctx context.Context, opts Options) error {
	ln, err := net.Listen("unix", opts.Addr)
	if err != nil {
		return envErrorf(err, "failed to listen on %s", opts.Addr)
	}
	g.ln = ln
	g.peers = make([]*peer, g.size)

	deadline, _ := ctx.Deadline()
	joined := 0
	for joined < g.size-1 {
		if ul, ok := ln.(*net.UnixListener); ok {
			ul.SetDeadline(deadline)
		}
		conn, err := ln.Accept()
		if err != nil {
			return envErrorf(err, "group formation failed with %d of %d ranks joined", joined+1, g.size)
		}
		p := newPeer(conn)
		r, err := g.admit(p, opts.Session, deadline)
		if err != nil {
			// A bad joiner doesn't doom the group; keep accepting
			// until the deadline does.
			conn.Close()
			continue
		}
		g.peers[r] = p
		joined++
	}

	// The group is complete. Start routing and release the workers.
	for r := 1; r < g.size; r++ {
		go g.readLoop(g.peers[r])
	}
	for r := 1; r < g.size; r++ {
		if err := g.peers[r].write(&frame{From: 0, To: r, Tag: tagReady}); err != nil {
			return err
		}
	}
	return nil
}

// admit performs the coordinator side of the join handshake on p and
// returns the joiner's rank.
func (g *Group) admit(p *peer, session string, deadline time.Time) (int, error) {
	p.conn.SetDeadline(deadline)
	defer p.conn.SetDeadline(time.Time{})

	var h hello
	if err := p.dec.Decode(&h); err != nil {
		return 0, envErrorf(err, "bad join handshake")
	}
	reject := ""
	switch {
	case h.Session != session:
		reject = "wrong session"
	case h.Rank < 1 || h.Rank >= g.size:
		reject = "rank out of range"
	case g.peers[h.Rank] != nil:
		reject = "rank already joined"
	}
	if reject != "" {
		p.enc.Encode(&welcome{Reject: reject})
		return 0, &EnvironmentError{reason: "rejected joiner: " + reject}
	}
	if err := p.enc.Encode(&welcome{Size: g.size}); err != nil {
		return 0, envErrorf(err, "failed to welcome rank %d", h.Rank)
	}
	return h.Rank, nil
}

// dialAndJoin is the worker half of group formation. The coordinator's
// socket may not exist yet when this rank starts, so dialing retries until
// the context deadline.
func (g *Group) dialAndJoin(ctx context.Context, opts Options) error {
	var conn net.Conn
	for {
		var err error
		conn, err = net.Dial("unix", opts.Addr)
		if err == nil {
			break
		}
		select {
		case <-ctx.Done():
			return envErrorf(err, "rank %d failed to reach coordinator at %s", g.rank, opts.Addr)
		case <-time.After(dialRetryInterval):
		}
	}
	p := newPeer(conn)

	deadline, _ := ctx.Deadline()
	conn.SetDeadline(deadline)
	if err := p.enc.Encode(&hello{Session: opts.Session, Rank: g.rank}); err != nil {
		conn.Close()
		return envErrorf(err, "rank %d failed to join", g.rank)
	}
	var w welcome
	if err := p.dec.Decode(&w); err != nil {
		conn.Close()
		return envErrorf(err, "rank %d failed to join", g.rank)
	}
	conn.SetDeadline(time.Time{})
	if w.Reject != "" {
		conn.Close()
		return &EnvironmentError{reason: "coordinator rejected rank: " + w.Reject}
	}
	if w.Size != g.size {
		conn.Close()
		return &EnvironmentError{reason: "group size disagreement"}
	}

	g.coord = p
	go g.readLoop(p)

	// Wait for the coordinator to confirm the whole group has formed.
	if _, err := g.box.take(ctx, 0, tagReady); err != nil {
		return envErrorf(err, "rank %d never saw group formation complete", g.rank)
	}
	return nil
}

// readLoop decodes frames from p until the connection dies. On the
// coordinator, frames addressed to another rank are forwarded; everything
// else lands in the local mailbox.
func (g *Group) readLoop(p *peer) {
	for {
		var f frame
		if err := p.dec.Decode(&f); err != nil {
			if !g.isClosed() {
				g.box.fail(envErrorf(err, "connection within process group lost"))
			}
			return
		}
		if g.rank == 0 && f.To != 0 {
			if f.To < 1 || f.To >= g.size {
				continue
			}
			if err := g.peers[f.To].write(&f); err != nil {
				g.box.fail(err)
				return
			}
			continue
		}
		g.box.put(f.From, f.Tag, f.Payload)
	}
}
