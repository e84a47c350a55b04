// Package scheduler implements the notification renotification scheduler +
// dispatch coordinator: the component that owns the idle/pending
// DualIndexSets, reacts to external events by mutating them under a single
// mutex, and wakes a dedicated loop exactly when the next renotification is
// due.
//
// Core design principle: a Min-Heap peek of the next-due entry is O(1) and
// an insert/erase is O(log N) — see internal/schedset. The scheduler itself
// adds nothing beyond coordinating that structure with a condition variable
// and a bounded worker pool.
package scheduler

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/hashicorp/go-multierror"

	"github.com/snehjoshi/notifyq/internal/eligibility"
	"github.com/snehjoshi/notifyq/internal/metrics"
	"github.com/snehjoshi/notifyq/internal/schedset"
	"github.com/snehjoshi/notifyq/internal/types"
	"github.com/snehjoshi/notifyq/internal/zone"
)

// Stats is the point-in-time snapshot StatsSurface exposes for one
// scheduler instance.
type Stats struct {
	Name    string
	Idle    int
	Pending int
}

// AuditSink receives a record of every BeginExecute call the scheduler
// makes. internal/audit.Log satisfies this; nil disables audit logging.
type AuditSink interface {
	Append(r AuditRecord) error
}

// AuditRecord is the information logged for one dispatch. It mirrors
// internal/audit.Record's shape without scheduler importing internal/audit
// directly, keeping the dependency pointed the other way (internal/service
// wires the two together).
type AuditRecord struct {
	Notification string
	Checkable    string
	Type         string
	State        int
	Forced       bool
	Reminder     bool
	FiredAt      float64
	DeliveryErr  string
}

// Option configures a Scheduler at construction time.
type Option func(*Scheduler)

// WithMetrics attaches a metrics.Registry so dispatch/suppression/
// reschedule counts and idle/pending gauges are tracked.
func WithMetrics(reg *metrics.Registry) Option {
	return func(s *Scheduler) { s.metrics = reg }
}

// WithAudit attaches an AuditSink recording every BeginExecute call.
func WithAudit(sink AuditSink) Option {
	return func(s *Scheduler) { s.audit = sink }
}

// WithWorkerCount bounds the dispatch worker pool, backed by a bounded
// gammazero/workerpool sized by this option — see DESIGN.md for the
// justification. Default 16.
func WithWorkerCount(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.workerCount = n
		}
	}
}

// WithReschedulePause overrides the 60s default used when a promoted
// notification turns out to be inactive at dispatch time.
func WithReschedulePause(d time.Duration) Option {
	return func(s *Scheduler) { s.reschedulePause = d }
}

// WithDefaultInterval overrides the fallback renotification interval used
// when a notification reports Interval() <= 0.
func WithDefaultInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.defaultInterval = d }
}

// Scheduler owns the idle/pending sets and the single worker loop that
// promotes due entries to dispatch. The zero value is not usable; construct
// with New.
type Scheduler struct {
	name string

	mu      sync.Mutex
	cond    *sync.Cond
	idle    *schedset.DualIndexSet
	pending *schedset.DualIndexSet
	stopped bool

	zones *zone.Registry
	pool  *workerpool.WorkerPool

	metrics *metrics.Registry
	audit   AuditSink

	workerCount     int
	reschedulePause time.Duration
	defaultInterval time.Duration

	loopDone chan struct{}
}

// New constructs a Scheduler for the given instance name (used in Stats and
// metrics gauge labels) and zone registry (used to evaluate same_zone in
// OnConfigObjectChange). The worker pool and loop are not started until
// Start is called.
func New(name string, zones *zone.Registry, opts ...Option) *Scheduler {
	s := &Scheduler{
		name:            name,
		idle:            schedset.New(),
		pending:         schedset.New(),
		zones:           zones,
		workerCount:     16,
		reschedulePause: 60 * time.Second,
		defaultInterval: 5 * time.Minute,
	}
	s.cond = sync.NewCond(&s.mu)
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start spawns the worker pool and the single scheduler loop goroutine.
// Subscription of the five EventIngress handlers to external signal sources
// is the caller's responsibility (internal/service wires them to the HTTP
// ops surface); Scheduler only exposes the handler methods themselves.
func (s *Scheduler) Start() {
	s.pool = workerpool.New(s.workerCount)
	s.loopDone = make(chan struct{})
	go s.run()
}

// Stop marks the scheduler stopped, wakes the loop, waits for it to exit,
// and blocks until every in-flight dispatch has drained the worker pool.
// Errors accumulated while draining are aggregated with
// hashicorp/go-multierror.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	s.stopped = true
	s.cond.Broadcast()
	s.mu.Unlock()

	<-s.loopDone

	var result *multierror.Error
	s.pool.StopWait()

	s.mu.Lock()
	if s.pending.Len() != 0 {
		result = multierror.Append(result, fmt.Errorf("scheduler %q: pending set non-empty after drain (%d entries)", s.name, s.pending.Len()))
	}
	s.mu.Unlock()

	return result.ErrorOrNil()
}

// Snapshot implements StatsSurface: a single-pass read of idle/pending
// counts for this instance, also mirrored into the metrics registry's
// gauges if one is attached.
func (s *Scheduler) Snapshot() Stats {
	s.mu.Lock()
	st := Stats{Name: s.name, Idle: s.idle.Len(), Pending: s.pending.Len()}
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.Idle.Set(s.name, int64(st.Idle))
		s.metrics.Pending.Set(s.name, int64(st.Pending))
	}
	return st
}

// ─── EventIngress ──────────────────────────────────────────────────────────

// OnStateChange is the on_state_change handler. It is a no-op unless
// stateType is Hard and EligibilityPolicy admits the transition.
func (s *Scheduler) OnStateChange(c types.CheckableHandle, cr types.CheckResult, stateType types.StateType) {
	if stateType != types.StateHard {
		return
	}
	if !eligibility.HardStateNotificationCheck(c) {
		return
	}

	ntype := types.NotificationProblem
	if cr.State == types.StateOK {
		ntype = types.NotificationRecovery
	}

	notifications := c.Notifications()
	lastCR := c.LastCheckResult()
	for _, n := range notifications {
		n.BeginExecute(ntype, lastCR, false, false, "", "")
		s.recordAudit(n, ntype, lastCR, false, false, "")
	}

	s.mu.Lock()
	for _, n := range notifications {
		if ntype == types.NotificationRecovery {
			s.idle.EraseByIdentity(n)
		} else {
			s.upsertIdleLocked(n)
		}
	}
	s.cond.Broadcast()
	s.mu.Unlock()
}

// OnFlappingChanged is the on_flapping_changed handler.
func (s *Scheduler) OnFlappingChanged(c types.CheckableHandle) {
	ntype := types.NotificationFlappingEnd
	if c.IsFlapping() {
		ntype = types.NotificationFlappingStart
	}

	notifications := c.Notifications()
	lastCR := c.LastCheckResult()
	for _, n := range notifications {
		n.BeginExecute(ntype, lastCR, false, false, "", "")
		s.recordAudit(n, ntype, lastCR, false, false, "")
	}

	s.mu.Lock()
	if ntype != types.NotificationFlappingEnd {
		for _, n := range notifications {
			s.upsertIdleLocked(n)
		}
	}
	s.cond.Broadcast()
	s.mu.Unlock()
}

// OnAcknowledgementSet is the on_acknowledgement_set handler. It never
// mutates the queue sets.
func (s *Scheduler) OnAcknowledgementSet(c types.CheckableHandle, author, text string) {
	lastCR := c.LastCheckResult()
	for _, n := range c.Notifications() {
		n.BeginExecute(types.NotificationAcknowledgement, lastCR, false, false, author, text)
		s.recordAudit(n, types.NotificationAcknowledgement, lastCR, false, false, "")
	}

	s.mu.Lock()
	s.cond.Broadcast()
	s.mu.Unlock()
}

// OnConfigObjectChange is the on_config_object_change handler: reacts to a
// notification's active/paused flags changing.
func (s *Scheduler) OnConfigObjectChange(n types.NotificationHandle) {
	c := n.Checkable()

	if c.StateType() == types.StateSoft ||
		c.StateRaw() == types.StateOK ||
		!c.IsReachable(types.DependencyNotification) ||
		c.IsInDowntime() ||
		c.IsAcknowledged() ||
		c.IsFlapping() {
		return
	}

	sameZone := s.zones == nil || s.zones.IsLocal(n.ZoneName())

	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.cond.Broadcast()

	if n.IsActive() && !n.IsPaused() && sameZone {
		if _, inPending := s.pending.FindByIdentity(n); inPending {
			return
		}
		if _, inIdle := s.idle.FindByIdentity(n); inIdle {
			return
		}
		s.idle.Insert(types.ScheduleInfo{Notification: n, NextFireTime: n.NextNotificationTime()})
		return
	}

	s.idle.EraseByIdentity(n)
	s.pending.EraseByIdentity(n)
}

// OnNextNotificationChanged is the on_next_notification_changed handler.
// Implemented for completeness and covered by tests, but it has no
// production caller in this repo — see DESIGN.md.
func (s *Scheduler) OnNextNotificationChanged(n types.NotificationHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.cond.Broadcast()

	s.idle.EraseByIdentity(n)
	s.idle.Insert(types.ScheduleInfo{Notification: n, NextFireTime: n.NextNotificationTime()})
}

// upsertIdleLocked inserts or refreshes n's idle entry using its current
// NextNotificationTime. Must be called with s.mu held. This is erase-then-
// insert rather than a plain Insert so that a second identical event
// updates the existing entry instead of being silently rejected by
// DualIndexSet's identity-uniqueness check.
func (s *Scheduler) upsertIdleLocked(n types.NotificationHandle) {
	s.idle.EraseByIdentity(n)
	s.idle.Insert(types.ScheduleInfo{Notification: n, NextFireTime: n.NextNotificationTime()})
}

func (s *Scheduler) recordAudit(n types.NotificationHandle, ntype types.NotificationType, cr types.CheckResult, forced, reminder bool, deliveryErr string) {
	if s.audit == nil {
		return
	}
	err := s.audit.Append(AuditRecord{
		Notification: n.Name(),
		Checkable:    n.Checkable().Name(),
		Type:         ntype.String(),
		State:        cr.State,
		Forced:       forced,
		Reminder:     reminder,
		FiredAt:      nowSeconds(),
		DeliveryErr:  deliveryErr,
	})
	if err != nil {
		slog.Warn("scheduler: audit append failed", "notification", n.Name(), "error", err)
	}
}

// ─── SchedulerLoop ─────────────────────────────────────────────────────────

// run is the single long-lived scheduler loop task. It holds s.mu except
// during condvar waits and the dispatch handoff.
func (s *Scheduler) run() {
	defer close(s.loopDone)

	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		// Wait-empty: sleep on the condvar while idle has nothing to offer.
		for s.idle.Len() == 0 && !s.stopped {
			s.cond.Wait()
		}
		if s.stopped {
			return
		}

		// Peek-min: read without removing.
		info, ok := s.idle.PeekMinTime()
		if !ok {
			continue
		}

		wait := time.Duration((info.NextFireTime - nowSeconds()) * float64(time.Second))
		if wait > 0 {
			s.timedWaitLocked(wait)
			continue
		}

		// Promote: move from idle to pending, re-reading the notification's
		// current NextNotificationTime since an event may have advanced it
		// between peek and here.
		s.idle.EraseByIdentity(info.Notification)
		fresh := types.ScheduleInfo{
			Notification: info.Notification,
			NextFireTime: info.Notification.NextNotificationTime(),
		}
		s.pending.Insert(fresh)

		n := info.Notification

		// Dispatch: release the lock across worker-pool submission so
		// delivery work never runs while this scheduler holds its mutex.
		s.mu.Unlock()
		s.pool.Submit(func() { s.dispatch(n) })
		s.mu.Lock()
	}
}

// timedWaitLocked sleeps on the condvar for at most d, woken early by any
// Broadcast (a new idle entry, a config change, or stop). Must be called
// with s.mu held; cond.Wait releases it for the duration of the wait and
// reacquires it before returning. A companion timer goroutine realizes the
// bounded wait without busy-polling, matching the condvar-trapdoor idiom.
func (s *Scheduler) timedWaitLocked(d time.Duration) {
	timer := time.AfterFunc(d, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	s.cond.Wait()
	timer.Stop()
}

// ─── DispatchCallback ──────────────────────────────────────────────────────

// dispatch runs off the scheduler's goroutine, on the worker pool, and never
// holds s.mu during delivery.
func (s *Scheduler) dispatch(n types.NotificationHandle) {
	if !n.IsActive() {
		n.SetNextNotificationTime(nowSeconds() + s.reschedulePause.Seconds())

		s.mu.Lock()
		s.pending.EraseByIdentity(n)
		s.idle.Insert(types.ScheduleInfo{Notification: n, NextFireTime: n.NextNotificationTime()})
		s.cond.Broadcast()
		s.mu.Unlock()

		if s.metrics != nil {
			s.metrics.Rescheduled.Inc(metrics.NotificationKey(n.Name(), types.NotificationProblem.String()))
		}
		return
	}

	c := n.Checkable()
	if eligibility.HardStateNotificationCheck(c) {
		cr := c.LastCheckResult()
		n.BeginExecute(types.NotificationProblem, cr, false, true, "", "")
		s.recordAudit(n, types.NotificationProblem, cr, false, true, "")
		if s.metrics != nil {
			s.metrics.Dispatched.Inc(metrics.NotificationKey(n.Name(), types.NotificationProblem.String()))
		}
	} else {
		// Not eligible: advance NextNotificationTime by the notification's
		// interval, not by doubling the absolute timestamp — see DESIGN.md.
		interval := n.Interval()
		if interval <= 0 {
			interval = s.defaultInterval.Seconds()
		}
		n.SetNextNotificationTime(n.NextNotificationTime() + interval)
		if s.metrics != nil {
			s.metrics.Suppressed.Inc(metrics.NotificationKey(n.Name(), types.NotificationProblem.String()))
		}
	}

	s.mu.Lock()
	s.pending.EraseByIdentity(n)
	if n.IsActive() {
		s.idle.Insert(types.ScheduleInfo{Notification: n, NextFireTime: n.NextNotificationTime()})
	}
	s.cond.Broadcast()
	s.mu.Unlock()
}

// nowSeconds is seconds-since-epoch, matching types.CheckResult.ExecutionEnd
// and types.ScheduleInfo.NextFireTime's units.
func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
