package cli

import (
	"context"
	"fmt"
	"io"
	"time"
)

// KeyPruner removes idempotency keys older than a retention window.
type KeyPruner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// PruneCommand drops expired idempotency keys and prints how many went.
func PruneCommand(ctx context.Context, pruner KeyPruner, olderThan time.Duration, stdout, stderr io.Writer) int {
	if olderThan <= 0 {
		_, _ = fmt.Fprintln(stderr, "prune: --older-than must be positive")
		return 1
	}
	removed, err := pruner.Cleanup(ctx, olderThan)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "prune: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "Removed %d idempotency key(s) older than %s\n", removed, olderThan)
	return 0
}
