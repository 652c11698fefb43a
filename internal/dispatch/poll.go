package dispatch

import (
	"time"

	"github.com/watzon/userbot-api-server/internal/update"
)

// PollRequest is one getUpdates call after validation and clamping.
type PollRequest struct {
	Offset  int64
	Limit   int
	Timeout time.Duration
}

// waiter is a parked getUpdates call. Reply is buffered so the loop
// never blocks resolving it, even after the caller has gone away.
type waiter struct {
	offset int64
	limit  int
	reply  chan []update.Update
	timer  *time.Timer
	gen    uint64
}

func (w *waiter) resolve(batch []update.Update) {
	w.timer.Stop()
	w.reply <- batch
}

// takeBuffered applies offset filtering and the limit to the buffered
// updates and reports whether anything matched. A successful pull
// consumes the entire buffer, matching or not; updates past the limit
// are dropped, not requeued.
func takeBuffered(buffer []update.Update, offset int64, limit int) ([]update.Update, bool) {
	matched := make([]update.Update, 0, len(buffer))
	for _, u := range buffer {
		if offset == 0 || u.ID > offset {
			matched = append(matched, u)
		}
	}
	if len(matched) == 0 {
		return nil, false
	}
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, true
}

// pruneAcked drops updates at or below the offset. A pull that matched
// nothing still acknowledges everything below its offset, so those
// entries never sit in the buffer unreachable.
func pruneAcked(buffer []update.Update, offset int64) []update.Update {
	if offset == 0 || len(buffer) == 0 {
		return buffer
	}
	kept := buffer[:0]
	for _, u := range buffer {
		if u.ID > offset {
			kept = append(kept, u)
		}
	}
	return kept
}
