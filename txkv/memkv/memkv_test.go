package memkv_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/kvresolve/resolver/txkv"
	"github.com/kvresolve/resolver/txkv/memkv"
)

func TestSetThenGet(t *testing.T) {
	t.Parallel()

	store := memkv.New()
	ctx := context.Background()

	err := store.Run(ctx, func(_ context.Context, tx txkv.Transaction) error {
		tx.Set([]byte("k"), []byte("v"))

		return nil
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	err = store.Run(ctx, func(_ context.Context, tx txkv.Transaction) error {
		value, ok, getErr := tx.Get(ctx, []byte("k"))
		if getErr != nil {
			return getErr
		}

		if !ok || string(value) != "v" {
			t.Errorf("got (%q, %v), want (\"v\", true)", value, ok)
		}

		return nil
	})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
}

func TestGetMissingKey(t *testing.T) {
	t.Parallel()

	store := memkv.New()
	ctx := context.Background()

	err := store.Run(ctx, func(_ context.Context, tx txkv.Transaction) error {
		_, ok, err := tx.Get(ctx, []byte("missing"))
		if err != nil {
			return err
		}

		if ok {
			t.Error("expected missing key to report ok=false")
		}

		return nil
	})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
}

func TestConflictingWritesOneWins(t *testing.T) {
	t.Parallel()

	store := memkv.New()
	ctx := context.Background()

	const n = 20

	var wg sync.WaitGroup

	results := make([]string, n)

	for i := range n {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			_ = store.Run(ctx, func(_ context.Context, tx txkv.Transaction) error {
				_, ok, err := tx.Get(ctx, []byte("counter"))
				if err != nil {
					return err
				}

				if !ok {
					tx.Set([]byte("counter"), []byte{byte(i)})
				}

				return nil
			})

			err := store.Run(ctx, func(_ context.Context, tx txkv.Transaction) error {
				v, _, err := tx.Get(ctx, []byte("counter"))
				if err != nil {
					return err
				}

				results[i] = string(v)

				return nil
			})
			if err != nil {
				t.Errorf("read after contended write: %v", err)
			}
		}(i)
	}

	wg.Wait()

	first := results[0]
	for _, r := range results {
		if r != first {
			t.Fatalf("expected all readers to observe the same winning write, got %q and %q", first, r)
		}
	}
}

func TestClearRange(t *testing.T) {
	t.Parallel()

	store := memkv.New()
	ctx := context.Background()

	err := store.Run(ctx, func(_ context.Context, tx txkv.Transaction) error {
		tx.Set([]byte("a"), []byte("1"))
		tx.Set([]byte("b"), []byte("2"))
		tx.Set([]byte("c"), []byte("3"))

		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	err = store.Run(ctx, func(_ context.Context, tx txkv.Transaction) error {
		tx.ClearRange([]byte("a"), []byte("c"))

		return nil
	})
	if err != nil {
		t.Fatalf("clear: %v", err)
	}

	err = store.Run(ctx, func(_ context.Context, tx txkv.Transaction) error {
		for _, k := range []string{"a", "b"} {
			_, ok, getErr := tx.Get(ctx, []byte(k))
			if getErr != nil {
				return getErr
			}

			if ok {
				t.Errorf("expected %q to be cleared", k)
			}
		}

		_, ok, getErr := tx.Get(ctx, []byte("c"))
		if getErr != nil {
			return getErr
		}

		if !ok {
			t.Error("expected \"c\" to survive the clear (outside range)")
		}

		return nil
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestScan(t *testing.T) {
	t.Parallel()

	store := memkv.New()
	ctx := context.Background()

	err := store.Run(ctx, func(_ context.Context, tx txkv.Transaction) error {
		tx.Set([]byte("a"), []byte("1"))
		tx.Set([]byte("b"), []byte("2"))

		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	got, err := store.Scan(ctx, []byte("a"), nil)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(got))
	}
}

func TestRunAfterClose(t *testing.T) {
	t.Parallel()

	store := memkv.New()
	ctx := context.Background()

	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	err := store.Run(ctx, func(_ context.Context, tx txkv.Transaction) error {
		tx.Set([]byte("k"), []byte("v"))

		return nil
	})
	if !errors.Is(err, txkv.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
