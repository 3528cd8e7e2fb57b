// Package journal implements the bounded, head-inserted per-symbol trade
// journal (§4.9): newest trade pushed at the head, trimmed to the last
// 1,000 entries after every push, read back newest-first.
package journal

import (
	"context"

	"github.com/exchangecore/matching-engine/internal/store"
)

// Cap is the maximum number of trades retained per symbol.
const Cap = 1000

// Append queues a head-push plus trim of key onto tx. The caller is
// responsible for the key being trades:{symbol} and value being the
// already-encoded trade JSON; Append only owns the FIFO-cap bookkeeping
// so it composes with whatever other writes share the surrounding
// transaction (order/trade updates from the same matching step).
func Append(tx store.Tx, key, encodedTrade string) {
	tx.ListPushLeft(key, encodedTrade)
	tx.ListTrim(key, 0, Cap-1)
}

// Recent returns the n newest entries, newest-first, directly from the
// store (outside of any transaction — a plain read).
func Recent(ctx context.Context, s store.Store, key string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	return s.ListRange(ctx, key, 0, int64(n-1))
}
