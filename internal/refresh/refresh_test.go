package refresh_test

import (
	"context"
	"testing"
	"time"

	"github.com/kvresolve/resolver/internal/fwdstore"
	"github.com/kvresolve/resolver/internal/rcache"
	"github.com/kvresolve/resolver/internal/refresh"
	"github.com/kvresolve/resolver/internal/rstate"
	"github.com/kvresolve/resolver/internal/subspace"
	"github.com/kvresolve/resolver/txkv"
	"github.com/kvresolve/resolver/txkv/memkv"
)

func TestCurrentReadsThroughWhenUnprimed(t *testing.T) {
	t.Parallel()

	store := memkv.New()
	sub := subspace.New([]byte("refresh-unprimed"))
	r := refresh.New(store, sub, 500, time.Minute, nil)

	s, err := r.Current(context.Background())
	if err != nil {
		t.Fatalf("current: %v", err)
	}

	if s != rstate.Default(500) {
		t.Errorf("got %+v, want default(500)", s)
	}
}

func TestCurrentServesCacheWithinPeriod(t *testing.T) {
	t.Parallel()

	store := memkv.New()
	sub := subspace.New([]byte("refresh-cache-within"))
	r := refresh.New(store, sub, 0, time.Hour, nil)
	ctx := context.Background()

	first, err := r.Current(ctx)
	if err != nil {
		t.Fatalf("first: %v", err)
	}

	err = store.Run(ctx, func(_ context.Context, tx txkv.Transaction) error {
		rstate.Save(tx, sub, rstate.State{Version: 99})

		return nil
	})
	if err != nil {
		t.Fatalf("mutate underlying state: %v", err)
	}

	second, err := r.Current(ctx)
	if err != nil {
		t.Fatalf("second: %v", err)
	}

	if second != first {
		t.Errorf("expected cached reading to be served within staleness period, got %+v want %+v", second, first)
	}
}

func TestInvalidateForcesFreshRead(t *testing.T) {
	t.Parallel()

	store := memkv.New()
	sub := subspace.New([]byte("refresh-invalidate"))
	r := refresh.New(store, sub, 0, time.Hour, nil)
	ctx := context.Background()

	if _, err := r.Current(ctx); err != nil {
		t.Fatalf("prime: %v", err)
	}

	err := store.Run(ctx, func(_ context.Context, tx txkv.Transaction) error {
		rstate.Save(tx, sub, rstate.State{Version: 5})

		return nil
	})
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}

	r.Invalidate()

	got, err := r.Current(ctx)
	if err != nil {
		t.Fatalf("current: %v", err)
	}

	if got.Version != 5 {
		t.Errorf("got version %d, want 5", got.Version)
	}
}

func TestReloadPurgesCacheOnVersionChange(t *testing.T) {
	t.Parallel()

	store := memkv.New()
	sub := subspace.New([]byte("refresh-purge-on-change"))
	r := refresh.New(store, sub, 0, time.Hour, nil)
	ctx := context.Background()

	if _, err := r.Current(ctx); err != nil {
		t.Fatalf("prime: %v", err)
	}

	rcache.ForScope(sub).PutForward("k", fwdstore.Entry{Value: 1})

	err := store.Run(ctx, func(ctx context.Context, tx txkv.Transaction) error {
		rstate.Save(tx, sub, rstate.State{Version: 1})

		_, reloadErr := r.ReloadWithTx(ctx, tx)

		return reloadErr
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if _, ok := rcache.ForScope(sub).GetForward("k"); ok {
		t.Error("expected cache purged after version change")
	}
}
