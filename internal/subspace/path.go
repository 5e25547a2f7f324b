package subspace

import (
	"context"

	"github.com/kvresolve/resolver/internal/tuple"
)

// PathSupplier yields the stable byte prefix for a logical path in the
// key-space directory tree. Resolving the directory tree itself is out of
// scope for the resolver (see §1/§6 of the design notes) — this interface is
// the seam a real directory-tree implementation plugs into. Two suppliers
// that resolve to the same prefix address the same scope.
type PathSupplier interface {
	ResolvePrefix(ctx context.Context) ([]byte, error)
}

// Static is the minimal PathSupplier: it always resolves to a fixed prefix,
// fixed up front by the caller. It exists for tests and for callers who
// already have a resolved prefix from elsewhere and don't need a directory
// layer at all.
type Static []byte

// ResolvePrefix implements [PathSupplier].
func (s Static) ResolvePrefix(_ context.Context) ([]byte, error) {
	return []byte(s), nil
}

// Element is one typed component of a logical path, for callers who want to
// build a prefix out of named, typed segments (e.g. "tenants", 42,
// "resolver") instead of supplying raw bytes directly.
type Element struct {
	Str   string
	Int   int64
	IsInt bool
}

// Str builds a string path element.
func Str(s string) Element { return Element{Str: s} }

// Int builds an integer path element.
func Int(v int64) Element { return Element{Int: v, IsInt: true} }

// Elements is a [PathSupplier] that tuple-encodes a fixed sequence of typed
// path elements into a prefix. It is a convenience for tests and simple
// deployments; a production directory-tree implementation is expected to
// supply its own [PathSupplier] backed by its own allocation scheme.
type Elements []Element

// ResolvePrefix implements [PathSupplier].
func (e Elements) ResolvePrefix(_ context.Context) ([]byte, error) {
	var buf []byte

	for _, el := range e {
		if el.IsInt {
			buf = tuple.AppendUint64(buf, uint64(el.Int))

			continue
		}

		buf = tuple.AppendString(buf, el.Str)
	}

	return buf, nil
}

// Resolve resolves p and wraps the result in a [Subspace].
func Resolve(ctx context.Context, p PathSupplier) (Subspace, error) {
	prefix, err := p.ResolvePrefix(ctx)
	if err != nil {
		return Subspace{}, err
	}

	return New(prefix), nil
}
