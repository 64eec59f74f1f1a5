// Copyright 2024 The ut Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package comm_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/jkammerland/ut/internal/comm"
)

const testSession = "0b7a2c1e-test-session"

// formGroup joins a size-rank group within this process, one goroutine per
// rank, and registers teardown with t.Cleanup.
func formGroup(t *testing.T, size int) []*comm.Group {
	t.Helper()
	addr := filepath.Join(t.TempDir(), "group.sock")
	groups := make([]*comm.Group, size)
	var eg errgroup.Group
	for r := 0; r < size; r++ {
		r := r
		eg.Go(func() error {
			g, err := comm.Join(context.Background(), comm.Options{
				Rank:        r,
				Size:        size,
				Addr:        addr,
				Session:     testSession,
				JoinTimeout: 10 * time.Second,
			})
			if err != nil {
				return fmt.Errorf("rank %d: %w", r, err)
			}
			groups[r] = g
			return nil
		})
	}
	require.NoError(t, eg.Wait())
	t.Cleanup(func() {
		for _, g := range groups {
			g.Close()
		}
	})
	return groups
}

func TestJoinSingle(t *testing.T) {
	g, err := comm.Join(context.Background(), comm.Options{Rank: 0, Size: 1})
	require.NoError(t, err)
	assert.Equal(t, 0, g.Rank())
	assert.Equal(t, 1, g.Size())

	ctx := context.Background()
	total, err := g.AllReduceSum(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 7, total)

	all, err := g.Gather(ctx, 0, []byte("solo"))
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "solo", string(all[0]))

	require.NoError(t, g.Close())
}

func TestJoinRanks(t *testing.T) {
	groups := formGroup(t, 3)
	for r, g := range groups {
		assert.Equal(t, r, g.Rank())
		assert.Equal(t, 3, g.Size())
	}
}

func TestSendRecvSelf(t *testing.T) {
	g, err := comm.Join(context.Background(), comm.Options{Rank: 0, Size: 1})
	require.NoError(t, err)
	defer g.Close()

	ctx := context.Background()
	require.NoError(t, g.Send(ctx, 0, 5, []byte("loop")))
	p, err := g.Recv(ctx, 0, 5)
	require.NoError(t, err)
	assert.Equal(t, "loop", string(p))
}

func TestSendRecvRouted(t *testing.T) {
	// Traffic between two non-coordinator ranks crosses the coordinator.
	groups := formGroup(t, 3)
	ctx := context.Background()

	require.NoError(t, groups[1].Send(ctx, 2, 9, []byte("via rank 0")))
	p, err := groups[2].Recv(ctx, 1, 9)
	require.NoError(t, err)
	assert.Equal(t, "via rank 0", string(p))
}

func TestRecvOrdered(t *testing.T) {
	groups := formGroup(t, 2)
	ctx := context.Background()

	require.NoError(t, groups[1].Send(ctx, 0, 3, []byte("first")))
	require.NoError(t, groups[1].Send(ctx, 0, 3, []byte("second")))

	for _, want := range []string{"first", "second"} {
		p, err := groups[0].Recv(ctx, 1, 3)
		require.NoError(t, err)
		assert.Equal(t, want, string(p))
	}
}

func TestRecvZeroLength(t *testing.T) {
	groups := formGroup(t, 2)
	ctx := context.Background()

	require.NoError(t, groups[1].Send(ctx, 0, 1, nil))
	p, err := groups[0].Recv(ctx, 1, 1)
	require.NoError(t, err)
	assert.Empty(t, p)
}

func TestAllReduceSum(t *testing.T) {
	const size = 4
	groups := formGroup(t, size)

	totals := make([]int, size)
	var eg errgroup.Group
	for r := 0; r < size; r++ {
		r := r
		eg.Go(func() error {
			var err error
			totals[r], err = groups[r].AllReduceSum(context.Background(), r+1)
			return err
		})
	}
	require.NoError(t, eg.Wait())
	for r, total := range totals {
		assert.Equalf(t, 10, total, "rank %d total", r)
	}
}

func TestBarrier(t *testing.T) {
	const size = 3
	groups := formGroup(t, size)

	var eg errgroup.Group
	for r := 0; r < size; r++ {
		r := r
		eg.Go(func() error { return groups[r].Barrier(context.Background()) })
	}
	require.NoError(t, eg.Wait())
}

func TestGather(t *testing.T) {
	// Ranks 0 and 2 have something to report; 1 and 3 contribute
	// zero-length entries so the coordinator's per-rank wait resolves.
	const size = 4
	groups := formGroup(t, size)

	payloads := [][]byte{[]byte("from 0"), nil, []byte("from 2"), nil}
	results := make([][][]byte, size)
	var eg errgroup.Group
	for r := 0; r < size; r++ {
		r := r
		eg.Go(func() error {
			var err error
			results[r], err = groups[r].Gather(context.Background(), 0, payloads[r])
			return err
		})
	}
	require.NoError(t, eg.Wait())

	require.Len(t, results[0], size)
	assert.Equal(t, "from 0", string(results[0][0]))
	assert.Empty(t, results[0][1])
	assert.Equal(t, "from 2", string(results[0][2]))
	assert.Empty(t, results[0][3])
	for r := 1; r < size; r++ {
		assert.Nilf(t, results[r], "rank %d gather result", r)
	}
}

func TestGatherRoundsDistinct(t *testing.T) {
	groups := formGroup(t, 2)
	ctx := context.Background()

	// Rank 1 contributes to both rounds before the coordinator collects
	// either; each round must see its own payload.
	var eg errgroup.Group
	eg.Go(func() error {
		if _, err := groups[1].Gather(ctx, 0, []byte("round 0")); err != nil {
			return err
		}
		_, err := groups[1].Gather(ctx, 1, []byte("round 1"))
		return err
	})

	r1, err := groups[0].Gather(ctx, 1, nil)
	require.NoError(t, err)
	r0, err := groups[0].Gather(ctx, 0, nil)
	require.NoError(t, err)
	require.NoError(t, eg.Wait())

	// Collected out of order on purpose.
	assert.Equal(t, "round 0", string(r0[1]))
	assert.Equal(t, "round 1", string(r1[1]))
}

func TestReservedTags(t *testing.T) {
	g, err := comm.Join(context.Background(), comm.Options{Rank: 0, Size: 1})
	require.NoError(t, err)
	defer g.Close()

	ctx := context.Background()
	var envErr *comm.EnvironmentError
	require.ErrorAs(t, g.Send(ctx, 0, -1, nil), &envErr)
	_, err = g.Recv(ctx, 0, -2)
	require.ErrorAs(t, err, &envErr)
}

func TestRecvCanceled(t *testing.T) {
	groups := formGroup(t, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := groups[0].Recv(ctx, 1, 0)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCloseTwice(t *testing.T) {
	g, err := comm.Join(context.Background(), comm.Options{Rank: 0, Size: 1})
	require.NoError(t, err)
	require.NoError(t, g.Close())

	var envErr *comm.EnvironmentError
	require.ErrorAs(t, g.Close(), &envErr)
}

func TestJoinValidation(t *testing.T) {
	ctx := context.Background()
	for _, tc := range []struct {
		name string
		opts comm.Options
	}{
		{"zero size", comm.Options{Rank: 0, Size: 0}},
		{"rank out of range", comm.Options{Rank: 2, Size: 2, Addr: "/tmp/x", Session: "s"}},
		{"missing addr", comm.Options{Rank: 0, Size: 2, Session: "s"}},
		{"missing session", comm.Options{Rank: 0, Size: 2, Addr: "/tmp/x"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := comm.Join(ctx, tc.opts)
			var envErr *comm.EnvironmentError
			require.ErrorAs(t, err, &envErr)
		})
	}
}

func TestJoinWrongSession(t *testing.T) {
	addr := filepath.Join(t.TempDir(), "group.sock")

	// The impostor is rejected; the real rank 1 then completes the group.
	var eg errgroup.Group
	eg.Go(func() error {
		g, err := comm.Join(context.Background(), comm.Options{
			Rank: 0, Size: 2, Addr: addr, Session: testSession, JoinTimeout: 10 * time.Second,
		})
		if err == nil {
			defer g.Close()
		}
		return err
	})

	_, err := comm.Join(context.Background(), comm.Options{
		Rank: 1, Size: 2, Addr: addr, Session: "someone-else", JoinTimeout: 5 * time.Second,
	})
	var envErr *comm.EnvironmentError
	require.ErrorAs(t, err, &envErr)
	assert.Contains(t, err.Error(), "wrong session")

	g1, err := comm.Join(context.Background(), comm.Options{
		Rank: 1, Size: 2, Addr: addr, Session: testSession, JoinTimeout: 10 * time.Second,
	})
	require.NoError(t, err)
	defer g1.Close()
	require.NoError(t, eg.Wait())
}
