package wavecache

import (
	"context"
	"fmt"
)

// trimCache deletes the oldest entries of c until at most maxEntries remain.
// It returns the number of entries deleted.
func trimCache(ctx context.Context, c Cache, maxEntries int) (int, error) {
	if maxEntries < 0 {
		maxEntries = 0
	}
	keys, err := c.Keys(ctx)
	if err != nil {
		return 0, fmt.Errorf("list %s: %w", c.Name(), err)
	}
	if len(keys) <= maxEntries {
		return 0, nil
	}
	victims := keys[:len(keys)-maxEntries]
	deleted := 0
	for _, k := range victims {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		ok, err := c.Delete(ctx, k)
		if err != nil {
			return deleted, fmt.Errorf("delete %q from %s: %w", k, c.Name(), err)
		}
		if ok {
			deleted++
		}
	}
	return deleted, nil
}
