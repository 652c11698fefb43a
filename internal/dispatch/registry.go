package dispatch

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/watzon/userbot-api-server/internal/account"
	"github.com/watzon/userbot-api-server/internal/update"
)

// sendJob is one update queued for webhook delivery.
type sendJob struct {
	target webhookTarget
	upd    update.Update
}

// accountState is the engine-side state for one set-up account. It is
// owned by the engine loop; the only pieces touched from outside are
// sendQ (consumed by the account's sender goroutine) and the waiter
// reply channel, both of which are safe by construction.
type accountState struct {
	id       string
	settings account.Settings

	// allowed is nil when every kind passes.
	allowed map[update.Kind]bool

	lastSeq int64

	// Poll side.
	buffer    []update.Update
	waiter    *waiter
	waiterGen uint64

	// Webhook side. sendQ and sendCancel are nil until the first
	// delivery in webhook mode.
	sendQ      chan sendJob
	sendCancel context.CancelFunc
	limiter    *rate.Limiter
}

func (st *accountState) allows(k update.Kind) bool {
	return st.allowed == nil || st.allowed[k]
}

// registry maps account ids to live state. It is owned by the engine
// loop and needs no locking. Retired sequence values survive teardown
// so a re-created account can never reissue an update id.
type registry struct {
	states  map[string]*accountState
	retired map[string]int64
}

func newRegistry() *registry {
	return &registry{
		states:  map[string]*accountState{},
		retired: map[string]int64{},
	}
}

func (r *registry) get(id string) *accountState { return r.states[id] }

// install creates state for an account, seeding the sequence from the
// wall clock but never below a previously retired value.
func (r *registry) install(s account.Settings, seed int64) *accountState {
	if last, ok := r.retired[s.ID]; ok && last > seed {
		seed = last
	}
	st := &accountState{
		id:       s.ID,
		settings: s,
		allowed:  kindSet(s.AllowedKinds),
		lastSeq:  seed,
	}
	r.states[s.ID] = st
	return st
}

// remove drops an account's state, retiring its sequence watermark.
func (r *registry) remove(id string) *accountState {
	st := r.states[id]
	if st == nil {
		return nil
	}
	delete(r.states, id)
	if st.lastSeq > r.retired[id] {
		r.retired[id] = st.lastSeq
	}
	return st
}

func (r *registry) len() int { return len(r.states) }

func kindSet(kinds []update.Kind) map[update.Kind]bool {
	if len(kinds) == 0 {
		return nil
	}
	set := make(map[update.Kind]bool, len(kinds))
	for _, k := range kinds {
		set[k] = true
	}
	return set
}
