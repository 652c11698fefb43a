package dispatch

import (
	"time"

	"github.com/watzon/userbot-api-server/internal/update"
)

// dedupKey identifies one processed provider item for one account. The
// token encodes the item's provider-side identity and varies by kind
// (edits fold in the edit time so successive edits stay distinct).
type dedupKey struct {
	account string
	kind    update.Kind
	token   string
}

type dedupEntry struct {
	key dedupKey
	at  time.Time
}

// dedupFilter is a bounded, time-windowed cache of already-seen items.
//
// Best-effort only: capacity pressure may forget a key before its TTL,
// and duplicate delivery downstream is tolerated.
//
// Not safe for concurrent use; the engine loop owns it.
type dedupFilter struct {
	max int
	ttl time.Duration

	entries map[dedupKey]time.Time
	order   []dedupEntry // insertion order; may hold superseded entries

	now func() time.Time
}

func newDedupFilter(max int, ttl time.Duration) *dedupFilter {
	return &dedupFilter{
		max:     max,
		ttl:     ttl,
		entries: make(map[dedupKey]time.Time, max/4),
		now:     time.Now,
	}
}

func (f *dedupFilter) Seen(k dedupKey) bool {
	at, ok := f.entries[k]
	if !ok {
		return false
	}
	if f.now().Sub(at) >= f.ttl {
		delete(f.entries, k)
		return false
	}
	return true
}

func (f *dedupFilter) Remember(k dedupKey) {
	now := f.now()
	f.entries[k] = now
	f.order = append(f.order, dedupEntry{key: k, at: now})
	if len(f.entries) > f.max {
		f.evict(now)
	}
}

// evict drops expired entries first, then the oldest remaining entries
// (ascending insertion time) until at or under capacity.
func (f *dedupFilter) evict(now time.Time) {
	f.dropExpired(now)
	for len(f.entries) > f.max && len(f.order) > 0 {
		e := f.order[0]
		f.order = f.order[1:]
		// A superseded order entry no longer matches the map; skip it.
		if at, ok := f.entries[e.key]; ok && at.Equal(e.at) {
			delete(f.entries, e.key)
		}
	}
}

func (f *dedupFilter) dropExpired(now time.Time) {
	i := 0
	for ; i < len(f.order); i++ {
		e := f.order[i]
		if now.Sub(e.at) < f.ttl {
			break
		}
		if at, ok := f.entries[e.key]; ok && at.Equal(e.at) {
			delete(f.entries, e.key)
		}
	}
	f.order = f.order[i:]
}

// Resize adjusts capacity and window, evicting down to the new
// capacity right away. Non-positive values keep the current setting.
func (f *dedupFilter) Resize(max int, ttl time.Duration) {
	if max > 0 {
		f.max = max
	}
	if ttl > 0 {
		f.ttl = ttl
	}
	if len(f.entries) > f.max {
		f.evict(f.now())
	}
}

// Sweep removes expired entries; used by periodic maintenance. Returns
// the number of live entries remaining.
func (f *dedupFilter) Sweep() int {
	f.dropExpired(f.now())
	return len(f.entries)
}

func (f *dedupFilter) Len() int { return len(f.entries) }
