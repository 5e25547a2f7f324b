package resolver_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	resolver "github.com/kvresolve/resolver"
	"github.com/kvresolve/resolver/internal/rstate"
	"github.com/kvresolve/resolver/internal/subspace"
	"github.com/kvresolve/resolver/txkv/memkv"
)

func newTestResolver(t *testing.T, opts ...resolver.Option) *resolver.Resolver {
	t.Helper()

	store := memkv.New()
	sub := subspace.New([]byte(t.Name()))
	r := resolver.New(store, sub, opts...)
	t.Cleanup(r.Close)

	return r
}

func TestReadMissingReturnsNotFound(t *testing.T) {
	t.Parallel()

	r := newTestResolver(t)

	_, ok, err := r.Read(context.Background(), "missing")
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	if ok {
		t.Fatal("expected not found")
	}
}

func TestMustResolveMissingFails(t *testing.T) {
	t.Parallel()

	r := newTestResolver(t)

	_, err := r.MustResolve(context.Background(), "missing")
	if !errors.Is(err, resolver.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateThenCreateAgainFails(t *testing.T) {
	t.Parallel()

	r := newTestResolver(t)
	ctx := context.Background()

	if _, err := r.Create(ctx, "k"); err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err := r.Create(ctx, "k")
	if !errors.Is(err, resolver.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestResolveThenReadAgrees(t *testing.T) {
	t.Parallel()

	r := newTestResolver(t)
	ctx := context.Background()

	created, err := r.Resolve(ctx, "k")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	read, ok, err := r.Read(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("read: ok=%v err=%v", ok, err)
	}

	if read.Value != created.Value {
		t.Errorf("got %d, want %d", read.Value, created.Value)
	}
}

func TestSetMappingIdempotent(t *testing.T) {
	t.Parallel()

	r := newTestResolver(t)
	ctx := context.Background()

	if err := r.SetMapping(ctx, "a", 7); err != nil {
		t.Fatalf("first set: %v", err)
	}

	if err := r.SetMapping(ctx, "a", 7); err != nil {
		t.Fatalf("idempotent set: %v", err)
	}

	got, err := r.MustResolve(ctx, "a")
	if err != nil {
		t.Fatalf("must resolve: %v", err)
	}

	if got.Value != 7 {
		t.Errorf("got %d, want 7", got.Value)
	}
}

func TestSetMappingConflictDifferentValue(t *testing.T) {
	t.Parallel()

	r := newTestResolver(t)
	ctx := context.Background()

	if err := r.SetMapping(ctx, "a", 7); err != nil {
		t.Fatalf("set: %v", err)
	}

	err := r.SetMapping(ctx, "a", 8)
	if !errors.Is(err, resolver.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	if !strings.Contains(err.Error(), "different value") {
		t.Errorf("expected message to mention different value, got %q", err.Error())
	}
}

func TestSetMappingConflictDifferentKey(t *testing.T) {
	t.Parallel()

	r := newTestResolver(t)
	ctx := context.Background()

	if err := r.SetMapping(ctx, "a", 7); err != nil {
		t.Fatalf("set: %v", err)
	}

	err := r.SetMapping(ctx, "b", 7)
	if !errors.Is(err, resolver.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	if !strings.Contains(err.Error(), "different key") {
		t.Errorf("expected message to mention different key, got %q", err.Error())
	}
}

func TestUpdateMetadataAndVersion(t *testing.T) {
	t.Parallel()

	r := newTestResolver(t)
	ctx := context.Background()

	if _, err := r.Create(ctx, "k"); err != nil {
		t.Fatalf("create: %v", err)
	}

	before, err := r.GetVersion(ctx)
	if err != nil {
		t.Fatalf("get version: %v", err)
	}

	if err := r.UpdateMetadataAndVersion(ctx, "k", []byte("meta")); err != nil {
		t.Fatalf("update metadata: %v", err)
	}

	after, err := r.GetVersion(ctx)
	if err != nil {
		t.Fatalf("get version: %v", err)
	}

	if after <= before {
		t.Errorf("expected version to advance, before=%d after=%d", before, after)
	}
}

func TestUpdateMetadataMissingKeyFails(t *testing.T) {
	t.Parallel()

	r := newTestResolver(t)

	err := r.UpdateMetadataAndVersion(context.Background(), "missing", []byte("x"))
	if !errors.Is(err, resolver.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestWriteLockBlocksCreateNotRead(t *testing.T) {
	t.Parallel()

	r := newTestResolver(t)
	ctx := context.Background()

	if _, err := r.Resolve(ctx, "existing"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := r.EnableWriteLock(ctx); err != nil {
		t.Fatalf("enable lock: %v", err)
	}

	if _, err := r.Resolve(ctx, "existing"); err != nil {
		t.Fatalf("existing key should still resolve while locked: %v", err)
	}

	_, err := r.Resolve(ctx, "new-key")
	if !errors.Is(err, resolver.ErrLocked) {
		t.Fatalf("expected ErrLocked for new key under write lock, got %v", err)
	}

	if err := r.DisableWriteLock(ctx); err != nil {
		t.Fatalf("disable lock: %v", err)
	}

	if _, err := r.Resolve(ctx, "new-key"); err != nil {
		t.Fatalf("expected create to succeed after unlock: %v", err)
	}
}

func TestExclusiveLockIsTerminalAndOneShot(t *testing.T) {
	t.Parallel()

	r := newTestResolver(t)
	ctx := context.Background()

	if err := r.ExclusiveLock(ctx); err != nil {
		t.Fatalf("exclusive lock: %v", err)
	}

	if err := r.ExclusiveLock(ctx); !errors.Is(err, resolver.ErrLocked) {
		t.Fatalf("expected second exclusive lock to fail, got %v", err)
	}

	_, err := r.Create(ctx, "new-key")
	if !errors.Is(err, resolver.ErrLocked) {
		t.Fatalf("expected retired scope to reject create, got %v", err)
	}
}

func TestLockStatusReflectsEnableDisable(t *testing.T) {
	t.Parallel()

	r := newTestResolver(t)
	ctx := context.Background()

	status, err := r.LockStatus(ctx)
	if err != nil {
		t.Fatalf("lock status: %v", err)
	}

	if status != rstate.Unlocked {
		t.Fatalf("expected fresh scope to start unlocked, got %v", status)
	}

	if err := r.EnableWriteLock(ctx); err != nil {
		t.Fatalf("enable lock: %v", err)
	}

	status, err = r.LockStatus(ctx)
	if err != nil {
		t.Fatalf("lock status after enable: %v", err)
	}

	if status != rstate.WriteLocked {
		t.Fatalf("expected write-locked status after enable, got %v", status)
	}

	if err := r.DisableWriteLock(ctx); err != nil {
		t.Fatalf("disable lock: %v", err)
	}

	status, err = r.LockStatus(ctx)
	if err != nil {
		t.Fatalf("lock status after disable: %v", err)
	}

	if status != rstate.Unlocked {
		t.Fatalf("expected unlocked status after disable, got %v", status)
	}
}

func TestSetWindowRaisesFloorAndIsMonotone(t *testing.T) {
	t.Parallel()

	r := newTestResolver(t)
	ctx := context.Background()

	low, err := r.Resolve(ctx, "before")
	if err != nil {
		t.Fatalf("resolve before: %v", err)
	}

	if err := r.SetWindow(ctx, 1_000_000); err != nil {
		t.Fatalf("set window: %v", err)
	}

	high, err := r.Resolve(ctx, "after")
	if err != nil {
		t.Fatalf("resolve after: %v", err)
	}

	if high.Value < 1_000_000 {
		t.Errorf("expected value >= 1_000_000, got %d", high.Value)
	}

	stillLow, err := r.MustResolve(ctx, "before")
	if err != nil {
		t.Fatalf("must resolve before: %v", err)
	}

	if stillLow.Value != low.Value {
		t.Errorf("expected prior allocation to remain valid, got %d want %d", stillLow.Value, low.Value)
	}
}
