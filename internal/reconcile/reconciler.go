package reconcile

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/lukelocksmith/timemonitor/internal/clickup"
	"github.com/lukelocksmith/timemonitor/internal/config"
	"github.com/lukelocksmith/timemonitor/internal/session"
	"github.com/lukelocksmith/timemonitor/internal/store"
)

// Publisher receives canonical events and per-cycle snapshots.
// Implemented by ws.Broadcaster.
type Publisher interface {
	Publish(*session.Event)
	PublishSnapshot([]*session.Record)
	ClientCount() int
}

// Reconciler maintains the authoritative view of active sessions by
// merging two unreliable upstream channels: push webhooks and the
// per-worker current-timer poll. Both producers funnel through the same
// durable-store writes; apply steps (store write, cache mutation, event
// emission) are serialized behind mu so a webhook arriving mid-cycle
// cannot race the poll loop on the cache. Upstream fetches run outside
// the lock.
type Reconciler struct {
	cfg    *config.Config
	store  *store.Store
	cache  *session.Cache
	pub    Publisher
	client clickup.Client
	health *upstreamHealth

	mu  sync.Mutex
	now func() time.Time
}

func New(cfg *config.Config, st *store.Store, cache *session.Cache, pub Publisher, client clickup.Client) *Reconciler {
	return &Reconciler{
		cfg:    cfg,
		store:  st,
		cache:  cache,
		pub:    pub,
		client: client,
		health: newUpstreamHealth(),
		now:    time.Now,
	}
}

// Init rebuilds the active-session cache from the durable store. Called
// once before Start; emits no events, so a restart does not replay
// Started notifications for sessions that were already active.
func (r *Reconciler) Init(ctx context.Context) error {
	active, err := r.store.LoadActiveSessions(ctx)
	if err != nil {
		return err
	}
	r.cache.Rebuild(active)
	log.Printf("Recovered %d active sessions from store", len(active))
	return nil
}

// Start runs the poll loop until ctx is cancelled. Cycles execute inline
// in the select loop, so a new cycle cannot start while the previous one
// is still running; ticks that fire mid-cycle are dropped.
func (r *Reconciler) Start(ctx context.Context) {
	interval := r.cfg.Reconcile.PollInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("Reconciler started (interval=%s)", interval)

	r.Poll(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Println("Reconciler stopped")
			return
		case <-ticker.C:
			r.Poll(ctx)
		}
	}
}

// Poll runs one reconciliation cycle: fetch the roster, sample every
// worker's current timer, diff against the cache, synthesize Started
// events for newly appeared sessions and Stopped events for sessions
// that vanished without a webhook, then publish a full snapshot.
func (r *Reconciler) Poll(ctx context.Context) {
	now := r.now()

	workers, err := r.client.FetchTrackableWorkers(ctx)
	if err != nil {
		r.health.recordRosterFailure(err)
		log.Printf("Roster fetch failed, skipping cycle: %v", err)
		return
	}
	r.health.recordRosterSuccess()

	current := make(map[string]*session.Record)
	for _, w := range workers {
		workerID := w.ID.String()
		timer, err := r.client.FetchCurrentTimer(ctx, workerID)
		if err != nil {
			// Treated as "no active timer" for this cycle only; the
			// worker's state is stale by one interval and self-heals.
			r.health.recordWorkerFailure(workerID, err)
			log.Printf("Timer fetch failed for worker %s: %v", workerID, err)
			continue
		}
		r.health.recordWorkerSuccess(workerID)

		rec := clickup.NormalizeTimer(timer, now)
		if rec == nil {
			continue
		}
		current[rec.SessionID] = rec
	}

	previous := make(map[string]*session.Record)
	for _, rec := range r.cache.All() {
		previous[rec.SessionID] = rec
	}

	// Task metadata lookups are memoized per cycle to bound call volume
	// when several workers track the same task.
	taskMemo := make(map[string]*clickup.Task)

	for id, rec := range current {
		if prev, seen := previous[id]; seen {
			r.mergeObserved(prev, rec)
			continue
		}
		r.enrichTask(ctx, rec, taskMemo)
		r.applyStarted(ctx, rec)
	}

	for id, prev := range previous {
		if _, still := current[id]; still {
			continue
		}
		r.applyPollStop(ctx, prev, now)
	}

	r.pub.PublishSnapshot(r.cache.All())
}

func (r *Reconciler) enrichTask(ctx context.Context, rec *session.Record, memo map[string]*clickup.Task) {
	task, ok := memo[rec.TaskID]
	if !ok {
		var err error
		task, err = r.client.FetchTask(ctx, rec.TaskID)
		if err != nil {
			log.Printf("Task fetch failed for %s: %v", rec.TaskID, err)
			task = nil
		}
		// Memoize failures too, so a broken task is fetched once per cycle.
		memo[rec.TaskID] = task
	}
	clickup.ApplyTask(rec, task)
}

// applyStarted persists a newly detected session, admits it to the cache,
// and emits Started. The cache is only updated after the store write is
// confirmed, so a crash in between can never publish an unrecoverable
// session.
func (r *Reconciler) applyStarted(ctx context.Context, rec *session.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, already := r.cache.Get(rec.SessionID); already {
		// A webhook beat us to it between the cache snapshot and now.
		return
	}
	if stored, ok, err := r.store.GetSession(ctx, rec.SessionID); err == nil && ok && !stored.Active() {
		// A webhook stop finalized this session while the fetch phase ran;
		// upserting the stale observation would reopen the row and discard
		// the authoritative end time.
		return
	}
	if err := r.store.UpsertSession(ctx, rec); err != nil {
		log.Printf("Persist failed for session %s: %v", rec.SessionID, err)
		return
	}
	r.cache.Put(rec)
	log.Printf("Session %s started (user=%s, task=%s)", rec.SessionID, rec.UserName, rec.TaskID)
	r.pub.Publish(&session.Event{Type: session.Started, Record: rec.Clone()})
}

// applyPollStop closes a session that disappeared from the poll set.
// Either the webhook stop was missed (we finalize with a locally computed
// fallback duration) or it already landed (the guarded write is a no-op
// and nothing is emitted).
func (r *Reconciler) applyPollStop(ctx context.Context, prev *session.Record, now time.Time) {
	start := prev.StartTime
	if start.IsZero() {
		if stored, ok, err := r.store.GetSession(ctx, prev.SessionID); err == nil && ok {
			start = stored.StartTime
		}
	}
	end := now
	dur := r.clampDuration(end.Sub(start).Milliseconds())

	r.mu.Lock()
	defer r.mu.Unlock()

	won, err := r.store.MarkStopped(ctx, prev.SessionID, end, dur)
	if err != nil {
		// Keep the cache entry; the next cycle retries the close.
		log.Printf("Stop persist failed for session %s: %v", prev.SessionID, err)
		return
	}
	r.cache.Remove(prev.SessionID)
	if !won {
		return
	}

	stopped := prev.Clone()
	stopped.EndTime = &end
	stopped.DurationMS = dur
	log.Printf("Session %s closed by poll fallback (user=%s, duration=%dms)", stopped.SessionID, stopped.UserName, dur)
	r.pub.Publish(&session.Event{Type: session.Stopped, Record: stopped})
}

// mergeObserved folds freshly observed fields into the cache entry for a
// session present in both the cache and this cycle's poll set. No event
// is emitted for unchanged sessions.
func (r *Reconciler) mergeObserved(prev, fresh *session.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-check under the lock: a webhook stop landing after the cycle's
	// cache snapshot has already removed the entry, and a Put here would
	// resurrect a closed session in the active view.
	merged, found := r.cache.Get(prev.SessionID)
	if !found {
		return
	}
	if merged.TaskName == "" || merged.TaskName == clickup.SyntheticTaskName(merged.TaskID) {
		merged.TaskName = fresh.TaskName
	}
	if merged.TaskURL == "" {
		merged.TaskURL = fresh.TaskURL
	}
	if merged.UserName == "" {
		merged.UserName = fresh.UserName
	}
	r.cache.Put(merged)
}

// HandleWebhook ingests one push-channel payload. Malformed payloads are
// dropped (nil return); only persistence failures surface as errors so
// the HTTP layer can ask the upstream to redeliver.
func (r *Reconciler) HandleWebhook(ctx context.Context, raw []byte) error {
	rec, evType, ok := clickup.NormalizeWebhook(raw, r.now())
	if !ok {
		log.Printf("Dropping webhook payload missing key fields (%d bytes)", len(raw))
		return nil
	}

	// Carry forward metadata already captured for this session so a bare
	// webhook interval doesn't wipe enriched task labels.
	if cached, found := r.cache.Get(rec.SessionID); found {
		if rec.TaskName == clickup.SyntheticTaskName(rec.TaskID) && cached.TaskName != "" {
			rec.TaskName = cached.TaskName
		}
		if cached.TaskURL != "" {
			rec.TaskURL = cached.TaskURL
		}
		if rec.UserName == "" {
			rec.UserName = cached.UserName
		}
		rec.ListName = cached.ListName
		rec.FolderName = cached.FolderName
		rec.SpaceName = cached.SpaceName
	}
	rec.DurationMS = r.clampDuration(rec.DurationMS)

	r.mu.Lock()
	defer r.mu.Unlock()

	switch evType {
	case session.Started:
		return r.webhookStart(ctx, rec)
	case session.Stopped:
		return r.webhookStop(ctx, rec)
	default:
		return r.webhookUpdate(ctx, rec)
	}
}

func (r *Reconciler) webhookStart(ctx context.Context, rec *session.Record) error {
	_, already := r.cache.Get(rec.SessionID)
	if err := r.store.UpsertSession(ctx, rec); err != nil {
		return err
	}
	r.cache.Put(rec)
	if already {
		// The poll loop published this start first; re-emitting would
		// duplicate the event.
		return nil
	}
	log.Printf("Session %s started via webhook (user=%s)", rec.SessionID, rec.UserName)
	r.pub.Publish(&session.Event{Type: session.Started, Record: rec.Clone()})
	return nil
}

func (r *Reconciler) webhookStop(ctx context.Context, rec *session.Record) error {
	won, err := r.store.MarkStopped(ctx, rec.SessionID, *rec.EndTime, rec.DurationMS)
	if err != nil {
		return err
	}
	if won {
		r.cache.Remove(rec.SessionID)
		log.Printf("Session %s stopped via webhook (user=%s, duration=%dms)", rec.SessionID, rec.UserName, rec.DurationMS)
		r.pub.Publish(&session.Event{Type: session.Stopped, Record: rec.Clone()})
		return nil
	}

	// No open row transitioned: either the session is already finalized
	// (the other producer won; stay quiet) or it was never seen at all
	// (a historical entry delivered whole — persist directly as stopped).
	_, exists, err := r.store.GetSession(ctx, rec.SessionID)
	if err != nil {
		return err
	}
	if exists {
		r.cache.Remove(rec.SessionID)
		return nil
	}
	if err := r.store.UpsertSession(ctx, rec); err != nil {
		return err
	}
	log.Printf("Session %s recorded as historical entry (user=%s)", rec.SessionID, rec.UserName)
	r.pub.Publish(&session.Event{Type: session.Stopped, Record: rec.Clone()})
	return nil
}

func (r *Reconciler) webhookUpdate(ctx context.Context, rec *session.Record) error {
	if err := r.store.UpsertSession(ctx, rec); err != nil {
		return err
	}
	if rec.Active() {
		r.cache.Put(rec)
	} else {
		r.cache.Remove(rec.SessionID)
	}
	r.pub.Publish(&session.Event{Type: session.Updated, Record: rec.Clone()})
	return nil
}

// clampDuration caps a duration at the configured maximum session length.
// Values beyond the cap are clamped, never rejected, so an abandoned timer
// still leaves an auditable record.
func (r *Reconciler) clampDuration(ms int64) int64 {
	if ms < 0 {
		return 0
	}
	if max := r.cfg.MaxSessionMillis(); max > 0 && ms > max {
		return max
	}
	return ms
}
