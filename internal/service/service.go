// Package service is the composition root for notifyq: it wires config,
// zone identity, metrics, the audit log, the webhook delivery transport, and
// the scheduler into the single façade every transport layer (HTTP,
// WebSocket, cmd/server) talks to.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/snehjoshi/notifyq/internal/audit"
	"github.com/snehjoshi/notifyq/internal/config"
	"github.com/snehjoshi/notifyq/internal/delivery"
	"github.com/snehjoshi/notifyq/internal/metrics"
	"github.com/snehjoshi/notifyq/internal/scheduler"
	"github.com/snehjoshi/notifyq/internal/types"
	"github.com/snehjoshi/notifyq/internal/zone"
)

// ErrNotFound is returned when a named checkable or notification is not
// registered.
var ErrNotFound = errors.New("service: not found")

// ─── Option / functional options ─────────────────────────────────────────────

// Option is a functional option for Service.
type Option func(*Service)

// WithMetrics attaches a pre-built metrics.Registry instead of Service
// allocating its own — useful for tests that want to inspect counters.
func WithMetrics(reg *metrics.Registry) Option {
	return func(s *Service) { s.metrics = reg }
}

// ─── auditAdapter ─────────────────────────────────────────────────────────────

// auditAdapter satisfies scheduler.AuditSink by translating
// scheduler.AuditRecord into audit.Record. It exists so internal/scheduler
// need not import internal/audit directly.
type auditAdapter struct{ log *audit.Log }

func (a *auditAdapter) Append(r scheduler.AuditRecord) error {
	return a.log.Append(audit.Record{
		Notification: r.Notification,
		Checkable:    r.Checkable,
		Type:         r.Type,
		State:        r.State,
		Forced:       r.Forced,
		Reminder:     r.Reminder,
		FiredAt:      r.FiredAt,
		DeliveryErr:  r.DeliveryErr,
	})
}

// ─── Service ──────────────────────────────────────────────────────────────────

// Service wires every notifyq component together and exposes the entry
// points HTTP handlers drive: event ingestion, stats, and audit query.
type Service struct {
	cfg *config.Config

	zones     *zone.Registry
	metrics   *metrics.Registry
	audit     *audit.Log
	transport *delivery.WebhookTransport
	sched     *scheduler.Scheduler

	webhookTimeout time.Duration

	mu            sync.RWMutex
	checkables    map[string]*types.Checkable
	notifications map[string]*types.Notification
}

// New wires up a Service from cfg. It opens the audit log and starts the
// scheduler; call Close to release both.
func New(cfg *config.Config, opts ...Option) (*Service, error) {
	zones, err := zone.New(cfg.Node.DataDir, cfg.Cluster.LocalZone)
	if err != nil {
		return nil, fmt.Errorf("service: zone registry: %w", err)
	}

	s := &Service{
		cfg:            cfg,
		zones:          zones,
		metrics:        &metrics.Registry{},
		transport:      delivery.NewWebhookTransport(cfg.Webhook.URL, cfg.Webhook.Secret, time.Duration(cfg.Webhook.TimeoutMs)*time.Millisecond, cfg.Dispatch.RatePerSecond, cfg.Dispatch.Burst),
		webhookTimeout: time.Duration(cfg.Webhook.TimeoutMs) * time.Millisecond,
		checkables:     make(map[string]*types.Checkable),
		notifications:  make(map[string]*types.Notification),
	}
	for _, o := range opts {
		o(s)
	}

	schedOpts := []scheduler.Option{
		scheduler.WithMetrics(s.metrics),
		scheduler.WithWorkerCount(cfg.Dispatch.WorkerCount),
		scheduler.WithReschedulePause(time.Duration(cfg.Scheduler.ReschedulePauseSeconds * float64(time.Second))),
		scheduler.WithDefaultInterval(time.Duration(cfg.Scheduler.DefaultIntervalSeconds * float64(time.Second))),
	}

	if cfg.Audit.Enabled {
		a, err := audit.Open(cfg.Audit.Path)
		if err != nil {
			return nil, fmt.Errorf("service: open audit log: %w", err)
		}
		s.audit = a
		schedOpts = append(schedOpts, scheduler.WithAudit(&auditAdapter{log: a}))
	}

	s.sched = scheduler.New(cfg.Node.Host, zones, schedOpts...)
	s.sched.Start()
	return s, nil
}

// Close stops the scheduler (draining in-flight dispatches) and closes the
// audit log.
func (s *Service) Close() error {
	err := s.sched.Stop()
	if s.audit != nil {
		if cerr := s.audit.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// Metrics returns the attached metrics registry, for wiring GET /metrics.
func (s *Service) Metrics() *metrics.Registry { return s.metrics }

// Zones returns the zone registry, for wiring a zones inspection endpoint.
func (s *Service) Zones() *zone.Registry { return s.zones }

// ─── Checkable / Notification registry ───────────────────────────────────────

// EnsureCheckable returns the named checkable, creating it (reachable, no
// prior state) if it doesn't exist yet.
func (s *Service) EnsureCheckable(name string) *types.Checkable {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.checkables[name]
	if !ok {
		c = types.NewCheckable(name)
		s.checkables[name] = c
	}
	return c
}

// Checkable looks up a previously registered checkable.
func (s *Service) Checkable(name string) (*types.Checkable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.checkables[name]
	if !ok {
		return nil, fmt.Errorf("%w: checkable %q", ErrNotFound, name)
	}
	return c, nil
}

// CreateNotification registers a new notification attached to checkableName
// (creating the checkable if needed), wired to deliver through this
// Service's webhook transport.
func (s *Service) CreateNotification(name, checkableName string, intervalSeconds float64, zoneName string) (*types.Notification, error) {
	c := s.EnsureCheckable(checkableName)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.notifications[name]; exists {
		return nil, fmt.Errorf("service: notification %q already exists", name)
	}
	n := types.NewNotification(name, c, intervalSeconds, s.deliver)
	n.SetZoneName(zoneName)
	s.notifications[name] = n
	return n, nil
}

// Notification looks up a previously registered notification.
func (s *Service) Notification(name string) (*types.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.notifications[name]
	if !ok {
		return nil, fmt.Errorf("%w: notification %q", ErrNotFound, name)
	}
	return n, nil
}

// deliver is the types.DeliverFunc wired into every Notification this
// Service creates: it builds the webhook payload and sends it, logging (but
// never propagating) delivery failures.
func (s *Service) deliver(n *types.Notification, ntype types.NotificationType, cr types.CheckResult, forced, reminder bool, author, text string) {
	payload := delivery.PayloadFrom(n.Name(), n.Checkable().Name(), ntype, cr, forced, reminder, author, text)
	ctx, cancel := context.WithTimeout(context.Background(), s.webhookTimeout)
	defer cancel()
	if err := s.transport.Send(ctx, payload); err != nil {
		slog.Error("service: delivery failed", "notification", n.Name(), "type", ntype.String(), "error", err)
	}
}

// ─── EventIngress pass-through ────────────────────────────────────────────────

// StateChange drives a check result into checkableName, then invokes the
// scheduler's on_state_change handler.
func (s *Service) StateChange(checkableName string, st types.StateType, raw int, output string) error {
	c, err := s.Checkable(checkableName)
	if err != nil {
		return err
	}
	cr := types.CheckResult{State: raw, Output: output, ExecutionEnd: nowSeconds()}
	c.Transition(st, raw, cr)
	s.sched.OnStateChange(c, cr, st)
	return nil
}

// FlappingChanged flips checkableName's flapping flag and invokes the
// scheduler's on_flapping_changed handler.
func (s *Service) FlappingChanged(checkableName string, flapping bool) error {
	c, err := s.Checkable(checkableName)
	if err != nil {
		return err
	}
	c.SetFlapping(flapping)
	s.sched.OnFlappingChanged(c)
	return nil
}

// AcknowledgementSet invokes the scheduler's on_acknowledgement_set handler
// for checkableName.
func (s *Service) AcknowledgementSet(checkableName, author, text string) error {
	c, err := s.Checkable(checkableName)
	if err != nil {
		return err
	}
	c.SetAcknowledged(true)
	s.sched.OnAcknowledgementSet(c, author, text)
	return nil
}

// ConfigObjectChange applies any non-nil active/paused overrides to
// notificationName, then invokes the scheduler's on_config_object_change
// handler.
func (s *Service) ConfigObjectChange(notificationName string, active, paused *bool) error {
	n, err := s.Notification(notificationName)
	if err != nil {
		return err
	}
	if active != nil {
		n.SetActive(*active)
	}
	if paused != nil {
		n.SetPaused(*paused)
	}
	s.sched.OnConfigObjectChange(n)
	return nil
}

// NextNotificationChanged sets notificationName's next-fire time and invokes
// the scheduler's on_next_notification_changed handler. This path has no
// production caller; it is exercised here for completeness — see DESIGN.md.
func (s *Service) NextNotificationChanged(notificationName string, nextFireTime float64) error {
	n, err := s.Notification(notificationName)
	if err != nil {
		return err
	}
	n.SetNextNotificationTime(nextFireTime)
	s.sched.OnNextNotificationChanged(n)
	return nil
}

// ─── StatsSurface / audit query ───────────────────────────────────────────────

// Stats returns the scheduler's idle/pending snapshot.
func (s *Service) Stats() scheduler.Stats { return s.sched.Snapshot() }

// AuditRecent returns up to limit of the most recent dispatch records. It
// returns an empty slice (not an error) when auditing is disabled.
func (s *Service) AuditRecent(limit int) ([]audit.Record, error) {
	if s.audit == nil {
		return []audit.Record{}, nil
	}
	return s.audit.Recent(limit)
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
