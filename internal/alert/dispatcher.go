package alert

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ppiankov/promptguard/internal/guard"
	"github.com/ppiankov/promptguard/internal/verdict"
)

// Dispatcher fans out alert events to matching webhook configurations.
// Deliveries run in the background until Close.
type Dispatcher struct {
	configs []AlertConfig
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher creates a Dispatcher from webhook configurations.
// Returns nil if configs is empty (callers should nil-check).
func NewDispatcher(configs []AlertConfig, logger *slog.Logger) *Dispatcher {
	if len(configs) == 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		configs: configs,
		logger:  logger.With("component", "alert"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Dispatch sends the event to all webhooks whose Events list matches.
// Fires goroutines; does not block the caller. Events dispatched after
// Close are dropped.
func (d *Dispatcher) Dispatch(event AlertEvent) {
	var targets []AlertConfig
	for _, cfg := range d.configs {
		if matches(cfg.Events, event) {
			targets = append(targets, cfg)
		}
	}
	if len(targets) == 0 {
		return
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logger.Warn("alert dropped after close", "event", event.Event, "source", event.Source)
		return
	}
	d.wg.Add(len(targets))
	d.mu.Unlock()

	for _, cfg := range targets {
		go func(cfg AlertConfig) {
			defer d.wg.Done()
			if err := SendContext(d.ctx, cfg, event); err != nil {
				d.logger.Warn("alert delivery failed", "url", cfg.URL, "error", err)
			}
		}(cfg)
	}
}

// Close stops accepting events and waits for pending deliveries. If ctx ends
// first the remaining deliveries are cancelled and ctx.Err() is returned.
// Safe to call more than once.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

// Hook adapts the dispatcher to guard outcomes. Clean allows are not alerted.
func (d *Dispatcher) Hook() guard.Hook {
	return func(_ context.Context, ev guard.Event) {
		if a, ok := FromGuardEvent(ev); ok {
			d.Dispatch(a)
		}
	}
}

// FromGuardEvent converts a guard outcome into an alert event.
// ok is false for clean allows.
func FromGuardEvent(ev guard.Event) (AlertEvent, bool) {
	a := AlertEvent{
		Timestamp: time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		Source:    ev.Binding,
	}
	switch {
	case ev.Err != nil:
		a.Event = EventScanError
		a.ThreatType = string(verdict.ScanError)
		a.Reason = ev.Err.Error()
	case !ev.Verdict.Safe:
		a.Event = EventBlocked
		a.ThreatType = string(ev.Verdict.ThreatType)
		a.Severity = string(ev.Verdict.Severity)
		a.Confidence = string(ev.Verdict.Confidence)
		a.Reason = ev.Verdict.Reason
	case ev.Verdict.Degraded:
		a.Event = EventFailOpen
		a.Reason = ev.Verdict.Reason
	default:
		return AlertEvent{}, false
	}
	return a, true
}

func matches(events []string, event AlertEvent) bool {
	for _, e := range events {
		if e == event.Event {
			return true
		}
	}
	return false
}
