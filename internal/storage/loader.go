package storage

import (
	"context"
	"fmt"
	"log"
	"time"
)

// CopyFn abstracts a backend's bulk insert capability. Implementations insert
// rows (aligned to columns) and return the number of rows reported as
// inserted.
type CopyFn func(ctx context.Context, columns []string, rows [][]any) (int64, error)

// LoadStats summarizes one LoadBatches call.
type LoadStats struct {
	Rows    int64
	Batches int64
}

// LoadBatches slices rows into batches of batchSize and calls copyFn for each
// one, in order, on the calling goroutine. It stops at the first error and
// returns what was inserted so far.
//
// A concise progress line with running totals and rows/sec since the previous
// flush is logged after each successful batch.
func LoadBatches(
	ctx context.Context,
	columns []string,
	rows [][]any,
	batchSize int,
	copyFn CopyFn,
) (LoadStats, error) {
	var st LoadStats
	if batchSize <= 0 {
		return st, fmt.Errorf("batchSize must be > 0")
	}
	if copyFn == nil {
		return st, fmt.Errorf("copyFn must not be nil")
	}

	start := time.Now()
	lastFlush := start
	for lo := 0; lo < len(rows); lo += batchSize {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		hi := min(lo+batchSize, len(rows))

		n, err := copyFn(ctx, columns, rows[lo:hi])
		st.Rows += n
		if err != nil {
			log.Printf("loader: copy failed after=%d total=%d err=%v", n, st.Rows, err)
			return st, err
		}
		st.Batches++

		now := time.Now()
		since := now.Sub(lastFlush)
		rps := float64(0)
		if since > 0 {
			rps = float64(n) / since.Seconds()
		}
		log.Printf(
			"batch #%d: rps=%.0f inserted=%d total_inserted=%d elapsed=%s since_last=%s",
			st.Batches,
			rps,
			n,
			st.Rows,
			now.Sub(start).Truncate(time.Millisecond),
			since.Truncate(time.Millisecond),
		)
		lastFlush = now
	}
	return st, nil
}
