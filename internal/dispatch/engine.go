// Package dispatch turns raw per-account provider events into canonical
// updates and hands them to consumers by webhook push or long poll.
//
// All mutable state (registry, dedup filter, album assembler, poll
// buffers) is owned by a single orchestrator goroutine that consumes a
// channel of ops. Timers and public API calls never touch state
// directly; they enqueue ops. Webhook delivery is the one concern that
// leaves the loop: each webhook account gets a dedicated sender
// goroutine fed by a bounded queue, so a slow endpoint stalls only its
// own account.
package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/watzon/userbot-api-server/internal/account"
	"github.com/watzon/userbot-api-server/internal/eventbus"
	"github.com/watzon/userbot-api-server/internal/provider"
	"github.com/watzon/userbot-api-server/internal/update"
	"github.com/watzon/userbot-api-server/pkg/logx"
)

// op is one unit of work for the orchestrator loop.
type op interface {
	apply(e *Engine)
}

// Engine is the per-process update dispatcher.
type Engine struct {
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	ops chan op

	// Loop-owned; never touched outside run().
	reg    *registry
	dedup  *dedupFilter
	albums *albumAssembler
	sender *webhookSender

	now func() time.Time

	runCtx    context.Context
	runCancel context.CancelFunc
	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	wg        sync.WaitGroup

	dispatched       atomic.Uint64
	deduped          atomic.Uint64
	dropped          atomic.Uint64
	albumsFlushed    atomic.Uint64
	webhookSent      atomic.Uint64
	webhookExhausted atomic.Uint64
	pollsServed      atomic.Uint64
	accounts         atomic.Int64
	dedupEntries     atomic.Int64
}

func New(cfg Config, bus eventbus.Bus, log logx.Logger) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{
		cfg:   cfg,
		log:   log.With(logx.String("component", "dispatch")),
		bus:   bus,
		ops:   make(chan op, cfg.OpsQueueSize),
		reg:   newRegistry(),
		dedup: newDedupFilter(cfg.DedupMaxEntries, cfg.DedupTTL),
		now:   time.Now,
		done:  make(chan struct{}),
	}
	e.sender = newWebhookSender(cfg, e.log)
	e.albums = newAlbumAssembler(cfg.AlbumInitialDebounce, cfg.AlbumSubsequentDebounce, func(key albumKey, gen uint64) {
		e.enqueueInternal(albumFlushOp{key: key, gen: gen})
	})
	return e
}

// Start launches the orchestrator loop. The engine stops when Stop is
// called or ctx is cancelled.
func (e *Engine) Start(ctx context.Context) {
	e.startOnce.Do(func() {
		e.runCtx, e.runCancel = context.WithCancel(ctx)
		e.wg.Add(1)
		go e.run()
	})
}

// Stop cancels all in-flight delivery, drains nothing, and waits for
// the loop and sender goroutines to exit.
func (e *Engine) Stop(ctx context.Context) error {
	e.stopOnce.Do(func() {
		if e.runCancel != nil {
			e.runCancel()
		}
	})
	finished := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) run() {
	defer e.wg.Done()
	defer close(e.done)
	for {
		select {
		case <-e.runCtx.Done():
			e.shutdownLoop()
			return
		case o := <-e.ops:
			o.apply(e)
			e.dedupEntries.Store(int64(e.dedup.Len()))
		}
	}
}

// shutdownLoop resolves parked waiters and stops timers so callers are
// not left hanging on engine stop.
func (e *Engine) shutdownLoop() {
	for id := range e.reg.states {
		st := e.reg.states[id]
		if st.waiter != nil {
			st.waiter.resolve(nil)
			st.waiter = nil
		}
		e.albums.DropAccount(id)
		if st.sendCancel != nil {
			st.sendCancel()
		}
	}
}

// enqueue submits an op from a public API call.
func (e *Engine) enqueue(ctx context.Context, o op) error {
	select {
	case <-e.done:
		return ErrStopped
	default:
	}
	select {
	case e.ops <- o:
		return nil
	case <-e.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enqueueInternal submits a timer-originated op. It must not block a
// timer goroutine forever; if the engine is gone the op is moot.
func (e *Engine) enqueueInternal(o op) {
	select {
	case e.ops <- o:
	case <-e.done:
	}
}

// Snapshot returns current counters.
func (e *Engine) Snapshot() Stats {
	return Stats{
		Accounts:         int(e.accounts.Load()),
		Dispatched:       e.dispatched.Load(),
		Deduped:          e.deduped.Load(),
		Dropped:          e.dropped.Load(),
		AlbumsFlushed:    e.albumsFlushed.Load(),
		WebhookSent:      e.webhookSent.Load(),
		WebhookExhausted: e.webhookExhausted.Load(),
		PollsServed:      e.pollsServed.Load(),
		DedupEntries:     int(e.dedupEntries.Load()),
	}
}

// ---- Public API ----

// SetupForAccount registers an account and starts dispatching for it.
func (e *Engine) SetupForAccount(ctx context.Context, s account.Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	errc := make(chan error, 1)
	if err := e.enqueue(ctx, setupOp{settings: s, errc: errc}); err != nil {
		return err
	}
	return e.await(ctx, errc)
}

// ReconfigureAccount atomically replaces an account's settings. The
// sequence watermark carries over; open albums and buffered updates are
// dropped.
func (e *Engine) ReconfigureAccount(ctx context.Context, s account.Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	errc := make(chan error, 1)
	if err := e.enqueue(ctx, reconfigureOp{settings: s, errc: errc}); err != nil {
		return err
	}
	return e.await(ctx, errc)
}

// TeardownForAccount unregisters an account, resolving any parked poll
// with an empty batch and abandoning in-flight webhook delivery.
func (e *Engine) TeardownForAccount(ctx context.Context, id string) error {
	errc := make(chan error, 1)
	if err := e.enqueue(ctx, teardownOp{id: id, errc: errc}); err != nil {
		return err
	}
	return e.await(ctx, errc)
}

// SubmitRawEvent feeds one provider event through normalization, dedup,
// album assembly and delivery. The returned error reports processing
// faults for this event only; dropped-by-policy events return nil.
func (e *Engine) SubmitRawEvent(ctx context.Context, accountID string, ev provider.Event) error {
	errc := make(chan error, 1)
	if err := e.enqueue(ctx, submitOp{account: accountID, ev: ev, errc: errc}); err != nil {
		return err
	}
	return e.await(ctx, errc)
}

// SetWebhook switches an account to webhook delivery. Buffered updates
// and any parked poll are discarded.
func (e *Engine) SetWebhook(ctx context.Context, id, url, secret string) error {
	errc := make(chan error, 1)
	if err := e.enqueue(ctx, setWebhookOp{id: id, url: url, secret: secret, errc: errc}); err != nil {
		return err
	}
	return e.await(ctx, errc)
}

// DeleteWebhook switches an account back to long-poll delivery.
func (e *Engine) DeleteWebhook(ctx context.Context, id string) error {
	errc := make(chan error, 1)
	if err := e.enqueue(ctx, deleteWebhookOp{id: id, errc: errc}); err != nil {
		return err
	}
	return e.await(ctx, errc)
}

// SweepDedup expires stale dedup entries (periodic maintenance).
func (e *Engine) SweepDedup(ctx context.Context) (int, error) {
	replyc := make(chan int, 1)
	if err := e.enqueue(ctx, sweepOp{replyc: replyc}); err != nil {
		return 0, err
	}
	select {
	case n := <-replyc:
		return n, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// ApplyConfig adjusts the runtime-tunable knobs on a live engine:
// dedup capacity and window, album debounce windows, poll limits and
// buffer bound, and webhook retry pacing. Queue sizes and the secret
// header stay as constructed.
func (e *Engine) ApplyConfig(ctx context.Context, cfg Config) error {
	cfg = cfg.withDefaults()
	errc := make(chan error, 1)
	if err := e.enqueue(ctx, applyConfigOp{cfg: cfg, errc: errc}); err != nil {
		return err
	}
	return e.await(ctx, errc)
}

// GetUpdates serves one long poll. With buffered updates past the
// offset it returns immediately; otherwise it parks until an update
// arrives, the timeout lapses (empty batch), or ctx is cancelled. A
// second concurrent poll for the same account supersedes the first,
// which resolves empty.
func (e *Engine) GetUpdates(ctx context.Context, accountID string, req PollRequest) ([]update.Update, error) {
	replyc := make(chan pollReply, 1)
	if err := e.enqueue(ctx, pollOp{account: accountID, req: req, replyc: replyc}); err != nil {
		return nil, err
	}

	var pr pollReply
	select {
	case pr = <-replyc:
	case <-ctx.Done():
		// The loop still replies; drain it off-path so a batch drained
		// from the buffer goes back instead of vanishing.
		go e.reclaimReply(accountID, replyc)
		return nil, ctx.Err()
	}
	if pr.err != nil {
		return nil, pr.err
	}
	if pr.wait == nil {
		return pr.batch, nil
	}

	select {
	case batch := <-pr.wait:
		return batch, nil
	case <-ctx.Done():
		// The loop reclaims an already-resolved batch, if any, so a
		// departing client does not lose updates.
		e.enqueueInternal(waiterCancelOp{account: accountID, gen: pr.gen, reply: pr.wait})
		return nil, ctx.Err()
	case <-e.done:
		return nil, ErrStopped
	}
}

type pollReply struct {
	batch []update.Update
	err   error

	// wait is set when the call parked; the batch arrives on it.
	wait <-chan []update.Update
	gen  uint64
}

// reclaimReply consumes a poll reply whose caller left before reading
// it. A synchronous batch is put back in the account's buffer; a
// parked waiter is handed to waiterCancelOp, which reclaims its batch
// the same way if it has already resolved.
func (e *Engine) reclaimReply(accountID string, replyc <-chan pollReply) {
	select {
	case pr := <-replyc:
		if pr.err != nil {
			return
		}
		if pr.wait != nil {
			e.enqueueInternal(waiterCancelOp{account: accountID, gen: pr.gen, reply: pr.wait})
			return
		}
		if len(pr.batch) > 0 {
			e.enqueueInternal(rebufferOp{account: accountID, batch: pr.batch})
		}
	case <-e.done:
	}
}

func (e *Engine) await(ctx context.Context, errc <-chan error) error {
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ---- Ops ----

type setupOp struct {
	settings account.Settings
	errc     chan error
}

func (o setupOp) apply(e *Engine) {
	if e.reg.get(o.settings.ID) != nil {
		o.errc <- fmt.Errorf("%w: %s", ErrAccountExists, o.settings.ID)
		return
	}
	e.reg.install(o.settings, e.now().Unix())
	e.accounts.Store(int64(e.reg.len()))
	e.log.Info("account set up",
		logx.String("account", o.settings.ID),
		logx.String("mode", string(o.settings.Mode)))
	o.errc <- nil
}

type teardownOp struct {
	id   string
	errc chan error
}

func (o teardownOp) apply(e *Engine) {
	st := e.reg.remove(o.id)
	if st == nil {
		o.errc <- fmt.Errorf("%w: %s", ErrUnknownAccount, o.id)
		return
	}
	e.retire(st)
	e.accounts.Store(int64(e.reg.len()))
	e.log.Info("account torn down", logx.String("account", o.id))
	o.errc <- nil
}

type reconfigureOp struct {
	settings account.Settings
	errc     chan error
}

func (o reconfigureOp) apply(e *Engine) {
	old := e.reg.remove(o.settings.ID)
	if old == nil {
		o.errc <- fmt.Errorf("%w: %s", ErrUnknownAccount, o.settings.ID)
		return
	}
	e.retire(old)
	// Teardown and re-install in one op so no event can interleave and
	// observe the account missing.
	e.reg.install(o.settings, e.now().Unix())
	e.log.Info("account reconfigured",
		logx.String("account", o.settings.ID),
		logx.String("mode", string(o.settings.Mode)))
	o.errc <- nil
}

// retire releases an account's delivery resources.
func (e *Engine) retire(st *accountState) {
	if st.waiter != nil {
		st.waiter.resolve(nil)
		st.waiter = nil
	}
	e.albums.DropAccount(st.id)
	if st.sendCancel != nil {
		st.sendCancel()
		st.sendCancel = nil
		st.sendQ = nil
	}
}

type setWebhookOp struct {
	id, url, secret string
	errc            chan error
}

func (o setWebhookOp) apply(e *Engine) {
	st := e.reg.get(o.id)
	if st == nil {
		o.errc <- fmt.Errorf("%w: %s", ErrUnknownAccount, o.id)
		return
	}
	next := st.settings
	next.Mode = account.ModeWebhook
	next.WebhookURL = o.url
	next.WebhookSecret = o.secret
	if err := next.Validate(); err != nil {
		o.errc <- err
		return
	}
	st.settings = next
	if st.waiter != nil {
		st.waiter.resolve(nil)
		st.waiter = nil
	}
	st.buffer = nil
	// Restart the sender so an in-flight delivery to the old endpoint
	// is abandoned rather than retried against it.
	if st.sendCancel != nil {
		st.sendCancel()
		st.sendCancel = nil
		st.sendQ = nil
	}
	e.log.Info("webhook set", logx.String("account", o.id), logx.String("url", o.url))
	o.errc <- nil
}

type deleteWebhookOp struct {
	id   string
	errc chan error
}

func (o deleteWebhookOp) apply(e *Engine) {
	st := e.reg.get(o.id)
	if st == nil {
		o.errc <- fmt.Errorf("%w: %s", ErrUnknownAccount, o.id)
		return
	}
	st.settings.Mode = account.ModePolling
	st.settings.WebhookURL = ""
	st.settings.WebhookSecret = ""
	if st.sendCancel != nil {
		st.sendCancel()
		st.sendCancel = nil
		st.sendQ = nil
	}
	e.log.Info("webhook deleted", logx.String("account", o.id))
	o.errc <- nil
}

type sweepOp struct {
	replyc chan int
}

func (o sweepOp) apply(e *Engine) {
	o.replyc <- e.dedup.Sweep()
}

type submitOp struct {
	account string
	ev      provider.Event
	errc    chan error
}

func (o submitOp) apply(e *Engine) {
	err := e.safeProcess(o.account, o.ev)
	if o.errc != nil {
		o.errc <- err
	}
}

type albumFlushOp struct {
	key albumKey
	gen uint64
}

func (o albumFlushOp) apply(e *Engine) {
	items := e.albums.TakeExpired(o.key, o.gen)
	if items == nil {
		return
	}
	st := e.reg.get(o.key.account)
	if st == nil {
		return
	}
	e.flushAlbum(st, o.key.group, items)
}

type waiterTimeoutOp struct {
	account string
	gen     uint64
}

func (o waiterTimeoutOp) apply(e *Engine) {
	st := e.reg.get(o.account)
	if st == nil || st.waiter == nil || st.waiter.gen != o.gen {
		return
	}
	st.waiter.resolve(nil)
	st.waiter = nil
	e.pollsServed.Add(1)
}

type waiterCancelOp struct {
	account string
	gen     uint64
	reply   <-chan []update.Update
}

func (o waiterCancelOp) apply(e *Engine) {
	st := e.reg.get(o.account)
	if st == nil {
		return
	}
	if st.waiter != nil && st.waiter.gen == o.gen {
		st.waiter.timer.Stop()
		st.waiter = nil
		return
	}
	// Already resolved. If the batch is still parked in the reply
	// channel the caller never took it; put it back at the front and
	// hand it to whoever is parked now.
	select {
	case batch := <-o.reply:
		if len(batch) > 0 {
			st.buffer = append(batch, st.buffer...)
			e.wakeWaiter(st)
		}
	default:
	}
}

// rebufferOp returns a drained batch whose caller vanished before
// reading the reply.
type rebufferOp struct {
	account string
	batch   []update.Update
}

func (o rebufferOp) apply(e *Engine) {
	st := e.reg.get(o.account)
	if st == nil {
		return
	}
	st.buffer = append(o.batch, st.buffer...)
	e.wakeWaiter(st)
}

type applyConfigOp struct {
	cfg  Config
	errc chan error
}

func (o applyConfigOp) apply(e *Engine) {
	e.cfg.DedupMaxEntries = o.cfg.DedupMaxEntries
	e.cfg.DedupTTL = o.cfg.DedupTTL
	e.cfg.AlbumInitialDebounce = o.cfg.AlbumInitialDebounce
	e.cfg.AlbumSubsequentDebounce = o.cfg.AlbumSubsequentDebounce
	e.cfg.PollLimitDefault = o.cfg.PollLimitDefault
	e.cfg.PollLimitMax = o.cfg.PollLimitMax
	e.cfg.PollTimeoutMax = o.cfg.PollTimeoutMax
	e.cfg.PollBufferMax = o.cfg.PollBufferMax
	e.cfg.WebhookRetryMax = o.cfg.WebhookRetryMax
	e.cfg.WebhookAttemptTimeout = o.cfg.WebhookAttemptTimeout
	e.cfg.WebhookBackoffBase = o.cfg.WebhookBackoffBase
	e.cfg.WebhookBackoffMax = o.cfg.WebhookBackoffMax
	e.cfg.WebhookJitterMax = o.cfg.WebhookJitterMax

	e.dedup.Resize(o.cfg.DedupMaxEntries, o.cfg.DedupTTL)
	e.albums.initial = o.cfg.AlbumInitialDebounce
	e.albums.subsequent = o.cfg.AlbumSubsequentDebounce
	e.sender.retune(o.cfg)
	o.errc <- nil
}

type pollOp struct {
	account string
	req     PollRequest
	replyc  chan pollReply
}

func (o pollOp) apply(e *Engine) {
	// Clamped here rather than in GetUpdates so reloaded limits apply.
	if o.req.Limit <= 0 {
		o.req.Limit = e.cfg.PollLimitDefault
	}
	if o.req.Limit > e.cfg.PollLimitMax {
		o.req.Limit = e.cfg.PollLimitMax
	}
	if o.req.Timeout < 0 {
		o.req.Timeout = 0
	}
	if o.req.Timeout > e.cfg.PollTimeoutMax {
		o.req.Timeout = e.cfg.PollTimeoutMax
	}

	st := e.reg.get(o.account)
	if st == nil {
		o.replyc <- pollReply{err: fmt.Errorf("%w: %s", ErrUnknownAccount, o.account)}
		return
	}
	if st.settings.Mode == account.ModeWebhook {
		o.replyc <- pollReply{err: ErrWebhookActive}
		return
	}

	// At most one parked poll per account; a new call supersedes the
	// old one, which resolves empty rather than leaking unsettled.
	if st.waiter != nil {
		st.waiter.resolve(nil)
		st.waiter = nil
		e.pollsServed.Add(1)
	}

	if batch, ok := takeBuffered(st.buffer, o.req.Offset, o.req.Limit); ok {
		st.buffer = nil
		e.pollsServed.Add(1)
		o.replyc <- pollReply{batch: batch}
		return
	}
	// Nothing matched; everything at or below the offset is confirmed.
	st.buffer = pruneAcked(st.buffer, o.req.Offset)

	if o.req.Timeout == 0 {
		e.pollsServed.Add(1)
		o.replyc <- pollReply{batch: []update.Update{}}
		return
	}

	st.waiterGen++
	gen := st.waiterGen
	w := &waiter{
		offset: o.req.Offset,
		limit:  o.req.Limit,
		reply:  make(chan []update.Update, 1),
		gen:    gen,
	}
	w.timer = time.AfterFunc(o.req.Timeout, func() {
		e.enqueueInternal(waiterTimeoutOp{account: o.account, gen: gen})
	})
	st.waiter = w
	o.replyc <- pollReply{wait: w.reply, gen: gen}
}

// ---- Event processing ----

// safeProcess bounds a panic to the event that caused it; the loop and
// the account survive.
func (e *Engine) safeProcess(accountID string, ev provider.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("process event: panic: %v", r)
			e.log.Error("event processing panicked",
				logx.String("account", accountID),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())))
		}
	}()
	return e.process(accountID, ev)
}

func (e *Engine) process(accountID string, ev provider.Event) error {
	st := e.reg.get(accountID)
	if st == nil {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, accountID)
	}

	kind, token := classify(ev)
	if kind == "" {
		e.drop(st, "unclassifiable event")
		return nil
	}
	// Filter before any sequence number is allocated so excluded kinds
	// leave no gap-free-violation behind.
	if !st.allows(kind) {
		e.drop(st, "kind filtered")
		return nil
	}

	switch v := ev.(type) {
	case provider.Deleted:
		return e.processDeleted(st, v)
	case provider.Message:
		if v.GroupID != "" {
			return e.processFragment(st, v, token)
		}
	}

	if token != "" {
		key := dedupKey{account: st.id, kind: kind, token: token}
		if e.dedup.Seen(key) {
			e.dedupHit(st)
			return nil
		}
		e.dedup.Remember(key)
	}
	e.dispatch(st, buildUpdate(e.nextSeq(st), kind, ev))
	return nil
}

// processDeleted dedups per member id; a redelivered delete for some of
// the same messages emits only the unseen remainder.
func (e *Engine) processDeleted(st *accountState, v provider.Deleted) error {
	kept := make([]int64, 0, len(v.MessageIDs))
	for _, id := range v.MessageIDs {
		key := dedupKey{account: st.id, kind: update.KindDeletedMessage, token: deletedToken(v.ChatID, id)}
		if e.dedup.Seen(key) {
			continue
		}
		e.dedup.Remember(key)
		kept = append(kept, id)
	}
	if len(kept) == 0 {
		e.dedupHit(st)
		return nil
	}
	v.MessageIDs = kept
	e.dispatch(st, buildUpdate(e.nextSeq(st), update.KindDeletedMessage, v))
	return nil
}

func (e *Engine) processFragment(st *accountState, v provider.Message, token string) error {
	key := dedupKey{account: st.id, kind: update.KindAlbum, token: token}
	if e.dedup.Seen(key) {
		e.dedupHit(st)
		return nil
	}
	e.dedup.Remember(key)

	done := e.albums.Offer(albumKey{account: st.id, group: v.GroupID}, v)
	if done != nil {
		e.flushAlbum(st, v.GroupID, done)
	}
	return nil
}

func (e *Engine) flushAlbum(st *accountState, group string, items []provider.Message) {
	e.albumsFlushed.Add(1)
	e.bus.Publish(eventbus.Event{Type: EventAlbumFlushed, Account: st.id, Data: len(items)})
	e.dispatch(st, buildAlbum(e.nextSeq(st), group, items))
}

// nextSeq allocates the next update id for an account. Seeded from the
// wall clock at setup; strictly increasing for the account's lifetime
// and across re-setup.
func (e *Engine) nextSeq(st *accountState) int64 {
	st.lastSeq++
	return st.lastSeq
}

// dispatch routes one finished update to the account's delivery path.
func (e *Engine) dispatch(st *accountState, u update.Update) {
	e.dispatched.Add(1)
	e.bus.Publish(eventbus.Event{Type: EventDispatched, Account: st.id, Data: string(u.Kind())})

	if st.settings.Mode == account.ModeWebhook {
		e.enqueueWebhook(st, u)
		return
	}

	st.buffer = append(st.buffer, u)
	if len(st.buffer) > e.cfg.PollBufferMax {
		over := len(st.buffer) - e.cfg.PollBufferMax
		st.buffer = st.buffer[over:]
		e.dropped.Add(uint64(over))
		e.log.Warn("poll buffer overflow, oldest dropped",
			logx.String("account", st.id),
			logx.Int("dropped", over))
	}
	e.wakeWaiter(st)
}

// wakeWaiter resolves a parked poll when the buffer now satisfies it.
func (e *Engine) wakeWaiter(st *accountState) {
	if st.waiter == nil {
		return
	}
	if batch, ok := takeBuffered(st.buffer, st.waiter.offset, st.waiter.limit); ok {
		st.buffer = nil
		w := st.waiter
		st.waiter = nil
		w.resolve(batch)
		e.pollsServed.Add(1)
	}
}

// enqueueWebhook hands an update to the account's sender goroutine,
// creating it on first use. A full queue drops the update; blocking
// here would stall every other account.
func (e *Engine) enqueueWebhook(st *accountState, u update.Update) {
	if st.sendQ == nil {
		st.sendQ = make(chan sendJob, e.cfg.WebhookQueueSize)
		st.limiter = rate.NewLimiter(rate.Limit(e.cfg.WebhookRatePerSec), e.cfg.WebhookRatePerSec)
		sctx, cancel := context.WithCancel(e.runCtx)
		st.sendCancel = cancel
		e.wg.Add(1)
		go e.runSender(sctx, st.id, st.sendQ, st.limiter)
	}
	select {
	case st.sendQ <- sendJob{target: webhookTarget{URL: st.settings.WebhookURL, Secret: st.settings.WebhookSecret}, upd: u}:
	default:
		e.dropped.Add(1)
		e.bus.Publish(eventbus.Event{Type: EventDropped, Account: st.id, Data: u.ID})
		e.log.Warn("webhook queue full, update dropped",
			logx.String("account", st.id),
			logx.Int64("update_id", u.ID))
	}
}

// runSender delivers one account's queue in order, one update at a
// time. Exhausted updates are dropped, never requeued, so ordering for
// the endpoint is preserved.
func (e *Engine) runSender(ctx context.Context, accountID string, q <-chan sendJob, limiter *rate.Limiter) {
	defer e.wg.Done()
	log := e.log.With(logx.String("account", accountID))
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-q:
			err := e.sender.Send(ctx, limiter, job.target, job.upd)
			switch {
			case err == nil:
				e.webhookSent.Add(1)
				e.bus.Publish(eventbus.Event{Type: EventWebhookSent, Account: accountID, Data: job.upd.ID})
			case ctx.Err() != nil:
				return
			default:
				e.webhookExhausted.Add(1)
				e.bus.Publish(eventbus.Event{Type: EventWebhookExhausted, Account: accountID, Data: job.upd.ID})
				log.Error("webhook delivery exhausted, update dropped",
					logx.Int64("update_id", job.upd.ID),
					logx.Err(err))
			}
		}
	}
}

func (e *Engine) drop(st *accountState, reason string) {
	e.dropped.Add(1)
	e.bus.Publish(eventbus.Event{Type: EventDropped, Account: st.id, Data: reason})
	e.log.Debug("event dropped", logx.String("account", st.id), logx.String("reason", reason))
}

func (e *Engine) dedupHit(st *accountState) {
	e.deduped.Add(1)
	e.bus.Publish(eventbus.Event{Type: EventDeduped, Account: st.id})
}
