package orderbook

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// tradeID mints a trade:{unix_ts}:{random_hex} identifier (§3).
func tradeID() string {
	return fmt.Sprintf("trade:%d:%s", nowUnix(), randomHex())
}

// randomHex returns a short random hex suffix, grounded on the google/uuid
// dependency already present in the retrieval pack rather than hand-rolling
// crypto/rand hex encoding.
func randomHex() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

func nowUnix() int64 {
	return time.Now().Unix()
}
