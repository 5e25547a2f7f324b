package resolver

import "context"

// PreWriteCheck is evaluated lazily before each create, after the engine has
// already established that the key does not exist. Returning false aborts
// the create with ErrLocked ("prewrite check failed"). The default
// PreWriteCheck always returns true.
//
// It must be side-effect-free with respect to the resolver's own state: it
// runs inside the create transaction and may be invoked more than once if
// the transaction retries.
type PreWriteCheck func(ctx context.Context, r *Resolver) (bool, error)

// MetadataHook computes the metadata blob attached to a newly created
// entry. It runs only when an entry is being created, never on a read of an
// existing entry; like PreWriteCheck, it may be invoked more than once if
// the create transaction retries, and only the committed attempt's metadata
// is stored. The default MetadataHook returns nil.
type MetadataHook func(ctx context.Context, key string) ([]byte, error)

func defaultPreWriteCheck(context.Context, *Resolver) (bool, error) {
	return true, nil
}

func defaultMetadataHook(context.Context, string) ([]byte, error) {
	return nil, nil
}
