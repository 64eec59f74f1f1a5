// Copyright 2024 The ut Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package comm

import (
	"context"
	"fmt"
	"strconv"
)

// Tags below zero are reserved for the harness. Test bodies use tags >= 0.
const (
	tagReady   = -1 // coordinator -> workers: group formation complete
	tagReduce  = -2 // AllReduceSum traffic
	tagBarrier = -3 // Barrier traffic
	// Gather round r uses tagGatherBase - r, keeping each round's traffic
	// apart from every other round's and from the tags above.
	tagGatherBase = -16
)

// AllReduceSum adds up one integer contributed by every rank and returns
// the identical total on every rank. Every rank in the group must call it,
// in the same sequence relative to other collectives; a rank that skips the
// call leaves the rest of the group blocked.
func (g *Group) AllReduceSum(ctx context.Context, n int) (int, error) {
	if g.size == 1 {
		return n, nil
	}
	if g.rank != 0 {
		if err := g.send(0, tagReduce, []byte(strconv.Itoa(n))); err != nil {
			return 0, err
		}
		p, err := g.box.take(ctx, 0, tagReduce)
		if err != nil {
			return 0, err
		}
		return parseSum(p)
	}

	total := n
	for r := 1; r < g.size; r++ {
		p, err := g.box.take(ctx, r, tagReduce)
		if err != nil {
			return 0, err
		}
		v, err := parseSum(p)
		if err != nil {
			return 0, err
		}
		total += v
	}
	out := []byte(strconv.Itoa(total))
	for r := 1; r < g.size; r++ {
		if err := g.send(r, tagReduce, out); err != nil {
			return 0, err
		}
	}
	return total, nil
}

func parseSum(p []byte) (int, error) {
	v, err := strconv.Atoi(string(p))
	if err != nil {
		return 0, envErrorf(err, "malformed reduction payload %q", p)
	}
	return v, nil
}

// Barrier blocks until every rank in the group has reached it.
func (g *Group) Barrier(ctx context.Context) error {
	if g.size == 1 {
		return nil
	}
	if g.rank != 0 {
		if err := g.send(0, tagBarrier, nil); err != nil {
			return err
		}
		_, err := g.box.take(ctx, 0, tagBarrier)
		return err
	}
	for r := 1; r < g.size; r++ {
		if _, err := g.box.take(ctx, r, tagBarrier); err != nil {
			return err
		}
	}
	for r := 1; r < g.size; r++ {
		if err := g.send(r, tagBarrier, nil); err != nil {
			return err
		}
	}
	return nil
}

// Gather delivers payload from every rank to the coordinator. On the
// coordinator it returns one entry per rank in ascending rank order, with
// the coordinator's own payload at index 0; on every other rank it returns
// nil. Each collective use picks a distinct round so that a straggling
// message from an earlier gather can never satisfy a later one.
//
// Every rank must call Gather for the exchange to resolve: a rank with
// nothing to report still contributes, as a zero-length entry. That is what
// lets the coordinator wait on each rank in turn without knowing in advance
// which ranks have data.
func (g *Group) Gather(ctx context.Context, round int, payload []byte) ([][]byte, error) {
	if round < 0 {
		return nil, &EnvironmentError{reason: fmt.Sprintf("negative gather round %d", round)}
	}
	tag := tagGatherBase - round
	if g.size == 1 {
		return [][]byte{payload}, nil
	}
	if g.rank != 0 {
		return nil, g.send(0, tag, payload)
	}
	out := make([][]byte, g.size)
	out[0] = payload
	for r := 1; r < g.size; r++ {
		p, err := g.box.take(ctx, r, tag)
		if err != nil {
			return nil, err
		}
		out[r] = p
	}
	return out, nil
}
