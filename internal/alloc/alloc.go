// Package alloc implements the integer allocator (§4.3): assigning a fresh,
// never-before-used uint64 to a newly created key, with uniqueness
// guaranteed even under contention from many concurrent processes.
//
// The persisted state record (§6) has no room for a separate "directory
// counter" field beyond version/lock/window_high, so this allocator keeps
// its forward-moving cursor as an in-process hint only (an *Allocator is
// shared by every Resolve call on one *Resolver) and relies on the
// transactional read-of-absence over the reverse store for correctness:
// a candidate is only ever committed if, at commit time, nothing else
// claimed it first. The hint just makes collisions rare, not safe — safety
// comes from the surrounding transaction.
//
// Grounded in the teacher's internal/store ID scheme (internal/store/id.go):
// a UUIDv7's random bits are downsampled into a short, collision-resistant
// identifier without a central counter; here the allocator uses
// github.com/google/uuid the same way, as a source of entropy for both
// shard placement and in-shard offset, in place of a central "directory
// layer counter". Shard placement itself draws one of 2^48 shards above the
// floor (not just the floor-anchored shard) so that two scopes allocating the same
// key independently land on the same value only with negligible
// probability.
package alloc

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/kvresolve/resolver/internal/rerr"
	"github.com/kvresolve/resolver/internal/subspace"
	"github.com/kvresolve/resolver/txkv"
)

// ShardSize is the number of candidate integers considered per probe
// attempt.
const ShardSize = 64

// shardIndexBits is how much of the full uint64 range a fresh allocation's
// starting shard is drawn from. Two scopes resolving the same key for the
// first time each pick their shard independently from 2^shardIndexBits
// positions, so they collide only with probability ~1/2^shardIndexBits —
// comfortably inside the 2^-32 bound two independently allocated scopes
// must meet.
const shardIndexBits = 48

// MaxAttempts bounds the number of probe attempts Allocate makes before
// giving up with an error wrapping [rerr.ErrRetryExhausted]. [txkv.Store.Run]
// does not retry a transaction whose function returned an error, so that
// error reaches the caller.
const MaxAttempts = 30

// Allocator hands out integers for one scope. It is safe for concurrent use
// by multiple goroutines sharing the same *Resolver.
type Allocator struct {
	hint atomic.Uint64
}

// New returns an Allocator whose cursor starts at floor.
func New(floor uint64) *Allocator {
	a := &Allocator{}
	a.hint.Store(floor)

	return a
}

// Allocate reserves a fresh integer at or above floor (the scope's current
// window_high) that is not already claimed by a reverse entry in this
// transaction's view of the store. It keeps no cursor between calls; see
// [AllocateWithAllocator] for that.
//
// Allocate itself does not retry across transaction conflicts — that is
// [txkv.Store.Run]'s job, since a conflict can only be detected at commit.
// It does retry internally across shards that turn out to be fully claimed
// (pathological under normal load, but possible under very high
// contention), up to [MaxAttempts].
func Allocate(ctx context.Context, tx txkv.Transaction, sub subspace.Subspace, floor uint64) (uint64, error) {
	return allocateFrom(ctx, tx, sub, floor, nil)
}

// AllocateWithAllocator is like Allocate but uses a's in-process cursor as
// the starting point instead of floor alone, reducing collisions across
// repeated calls on the same Resolver.
func AllocateWithAllocator(ctx context.Context, tx txkv.Transaction, sub subspace.Subspace, floor uint64, a *Allocator) (uint64, error) {
	base := a.hint.Load()
	if floor > base {
		base = floor
	}

	v, err := allocateFrom(ctx, tx, sub, base, a)
	if err != nil {
		return 0, err
	}

	for {
		cur := a.hint.Load()
		if v < cur {
			break
		}

		if a.hint.CompareAndSwap(cur, v+1) {
			break
		}
	}

	return v, nil
}

func allocateFrom(ctx context.Context, tx txkv.Transaction, sub subspace.Subspace, floor uint64, a *Allocator) (uint64, error) {
	shardBase := floor + randShardIndex()*ShardSize

	for attempt := 0; attempt < MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		shardLow := shardBase + uint64(attempt)*ShardSize
		start := randOffset(ShardSize)

		for i := uint32(0); i < ShardSize; i++ {
			candidate := shardLow + uint64((start+i)%ShardSize)

			_, taken, err := tx.Get(ctx, sub.ReverseKey(candidate))
			if err != nil {
				return 0, fmt.Errorf("alloc: probe %d: %w", candidate, err)
			}

			if !taken {
				return candidate, nil
			}
		}
	}

	return 0, fmt.Errorf("alloc: %w: exhausted %d shard probes above floor %d", rerr.ErrRetryExhausted, MaxAttempts, floor)
}

// RaiseFloor advances a's cursor to floor if it is currently lower,
// matching SetWindow's "counter is advanced to max(counter, W)" contract.
// It never lowers the cursor.
func (a *Allocator) RaiseFloor(floor uint64) {
	for {
		cur := a.hint.Load()
		if floor <= cur {
			return
		}

		if a.hint.CompareAndSwap(cur, floor) {
			return
		}
	}
}

// randOffset returns a pseudo-random value in [0, n) drawn from a fresh
// UUIDv4's entropy, so concurrent allocators probing the same shard start
// at different offsets and tend to claim different slots first.
func randOffset(n uint32) uint32 {
	id := uuid.New()

	v := uint32(id[0])<<24 | uint32(id[1])<<16 | uint32(id[2])<<8 | uint32(id[3])

	return v % n
}

// randShardIndex draws a shard position with shardIndexBits of entropy from
// a fresh UUIDv4, so a fresh allocation doesn't always start probing at the
// shard anchored right at floor.
func randShardIndex() uint64 {
	id := uuid.New()
	idx := binary.BigEndian.Uint64(id[:8])

	return idx & (1<<shardIndexBits - 1)
}
