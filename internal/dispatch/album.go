package dispatch

import (
	"sort"
	"time"

	"github.com/watzon/userbot-api-server/internal/provider"
)

// albumKey identifies one in-progress grouped-media burst.
type albumKey struct {
	account string
	group   string
}

type albumGroup struct {
	items []provider.Message
	timer *time.Timer
	gen   uint64
}

// albumAssembler reassembles grouped-media fragments into one batch.
//
// Provider bursts for one logical post arrive as closely-spaced separate
// events with a shared group id; a short debounced window is the only
// way to detect "no more parts coming" without a completion signal.
//
// Timer expiry has no caller to return to, so the assembler reports
// timeouts through onTimeout (the engine turns that into a scheduled
// op). Not safe for concurrent use; the engine loop owns it.
type albumAssembler struct {
	initial    time.Duration
	subsequent time.Duration

	groups map[albumKey]*albumGroup
	gen    uint64

	// onTimeout fires from the timer goroutine; it must only enqueue.
	onTimeout func(key albumKey, gen uint64)
}

func newAlbumAssembler(initial, subsequent time.Duration, onTimeout func(albumKey, uint64)) *albumAssembler {
	return &albumAssembler{
		initial:    initial,
		subsequent: subsequent,
		groups:     map[albumKey]*albumGroup{},
		onTimeout:  onTimeout,
	}
}

// Offer adds a fragment. It returns the completed, ordered group when
// the fast path fires (two or more fragments accumulated), or nil while
// the group stays open.
func (a *albumAssembler) Offer(key albumKey, item provider.Message) []provider.Message {
	g := a.groups[key]
	if g == nil {
		a.gen++
		g = &albumGroup{items: []provider.Message{item}, gen: a.gen}
		g.timer = a.schedule(key, g.gen, a.initial)
		a.groups[key] = g
		return nil
	}

	g.timer.Stop()
	g.items = append(g.items, item)

	// Fast path: groups rarely exceed two parts before the provider is
	// done sending, so flush on arrival instead of waiting out a timer.
	if len(g.items) >= 2 {
		delete(a.groups, key)
		return orderFragments(g.items)
	}

	a.gen++
	g.gen = a.gen
	g.timer = a.schedule(key, g.gen, a.subsequent)
	return nil
}

// TakeExpired resolves a timer expiry for the given generation. It
// returns the (ordered) buffered fragments, or nil if the group was
// already flushed or restarted.
func (a *albumAssembler) TakeExpired(key albumKey, gen uint64) []provider.Message {
	g := a.groups[key]
	if g == nil || g.gen != gen {
		return nil
	}
	delete(a.groups, key)
	return orderFragments(g.items)
}

// DropAccount abandons all open groups for an account (teardown).
func (a *albumAssembler) DropAccount(account string) {
	for key, g := range a.groups {
		if key.account == account {
			g.timer.Stop()
			delete(a.groups, key)
		}
	}
}

func (a *albumAssembler) Open() int { return len(a.groups) }

func (a *albumAssembler) schedule(key albumKey, gen uint64, d time.Duration) *time.Timer {
	return time.AfterFunc(d, func() { a.onTimeout(key, gen) })
}

// orderFragments sorts by the provider's group sequence when assigned,
// falling back to message id.
func orderFragments(items []provider.Message) []provider.Message {
	sort.Slice(items, func(i, j int) bool {
		a, b := fragmentOrder(items[i]), fragmentOrder(items[j])
		return a < b
	})
	return items
}

func fragmentOrder(m provider.Message) int64 {
	if m.GroupSeq != 0 {
		return m.GroupSeq
	}
	return m.MessageID
}
