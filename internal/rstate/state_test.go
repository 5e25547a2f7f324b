package rstate_test

import (
	"context"
	"errors"
	"testing"

	"github.com/kvresolve/resolver/internal/rerr"
	"github.com/kvresolve/resolver/internal/rstate"
	"github.com/kvresolve/resolver/internal/subspace"
	"github.com/kvresolve/resolver/txkv"
	"github.com/kvresolve/resolver/txkv/memkv"
)

func TestLoadDefaultWhenAbsent(t *testing.T) {
	t.Parallel()

	store := memkv.New()
	ctx := context.Background()
	sub := subspace.New([]byte("scope"))

	err := store.Run(ctx, func(ctx context.Context, tx txkv.Transaction) error {
		state, loadErr := rstate.Load(ctx, tx, sub, 1000)
		if loadErr != nil {
			return loadErr
		}

		if state != rstate.Default(1000) {
			t.Errorf("got %+v, want default", state)
		}

		return nil
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	t.Parallel()

	store := memkv.New()
	ctx := context.Background()
	sub := subspace.New([]byte("scope"))

	want := rstate.State{Version: 7, Lock: rstate.WriteLocked, WindowHigh: 123456}

	err := store.Run(ctx, func(_ context.Context, tx txkv.Transaction) error {
		rstate.Save(tx, sub, want)

		return nil
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	err = store.Run(ctx, func(ctx context.Context, tx txkv.Transaction) error {
		got, loadErr := rstate.Load(ctx, tx, sub, 0)
		if loadErr != nil {
			return loadErr
		}

		if got != want {
			t.Errorf("got %+v, want %+v", got, want)
		}

		return nil
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
}

func TestLoadCorruptRecord(t *testing.T) {
	t.Parallel()

	store := memkv.New()
	ctx := context.Background()
	sub := subspace.New([]byte("scope"))

	err := store.Run(ctx, func(_ context.Context, tx txkv.Transaction) error {
		tx.Set(sub.StateKey(), []byte{0x01, 0x02})

		return nil
	})
	if err != nil {
		t.Fatalf("seed corrupt state: %v", err)
	}

	err = store.Run(ctx, func(ctx context.Context, tx txkv.Transaction) error {
		_, loadErr := rstate.Load(ctx, tx, sub, 0)

		return loadErr
	})
	if !errors.Is(err, rerr.ErrStateCorrupt) {
		t.Fatalf("expected ErrStateCorrupt, got %v", err)
	}
}

func TestLockStringer(t *testing.T) {
	t.Parallel()

	cases := map[rstate.Lock]string{
		rstate.Unlocked:    "UNLOCKED",
		rstate.WriteLocked: "WRITE_LOCKED",
		rstate.Retired:     "RETIRED",
	}

	for lock, want := range cases {
		if got := lock.String(); got != want {
			t.Errorf("Lock(%d).String() = %q, want %q", lock, got, want)
		}
	}
}

func TestCreatesAllowed(t *testing.T) {
	t.Parallel()

	if !(rstate.State{Lock: rstate.Unlocked}).CreatesAllowed() {
		t.Error("expected creates allowed when unlocked")
	}

	if (rstate.State{Lock: rstate.WriteLocked}).CreatesAllowed() {
		t.Error("expected creates disallowed when write locked")
	}

	if (rstate.State{Lock: rstate.Retired}).CreatesAllowed() {
		t.Error("expected creates disallowed when retired")
	}
}
