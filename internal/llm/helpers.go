package llm

import (
	"context"
	"time"
)

// contextWithTimeoutMs derives a deadline context from a millisecond budget,
// matching the Params.TimeoutMs contract in spec §4.1. A zero or negative
// value is treated as "no timeout."
func contextWithTimeoutMs(ctx context.Context, ms int64) (context.Context, context.CancelFunc) {
	if ms <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, time.Duration(ms)*time.Millisecond)
}
