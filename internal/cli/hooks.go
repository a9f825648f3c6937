package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/promptguard/internal/alert"
	"github.com/ppiankov/promptguard/internal/audit"
	"github.com/ppiankov/promptguard/internal/config"
	"github.com/ppiankov/promptguard/internal/guard"
)

// alertDrainTimeout bounds how long a command waits for webhooks on exit.
const alertDrainTimeout = 10 * time.Second

// observers builds the audit and alert hooks configured in cfg. The returned
// close function waits for pending alerts and flushes the audit log.
func observers(cfg *config.Config, hash string, logger *slog.Logger) ([]guard.Hook, func() error, error) {
	var hooks []guard.Hook
	var closers []func() error

	if cfg.AuditLog != "" {
		l, err := audit.Open(cfg.AuditLog)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open audit log: %w", err)
		}
		hooks = append(hooks, l.Hook(uuid.NewString(), hash, logger))
		closers = append(closers, l.Close)
	}
	if d := alert.NewDispatcher(cfg.Alerts, logger); d != nil {
		hooks = append(hooks, d.Hook())
		closers = append(closers, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), alertDrainTimeout)
			defer cancel()
			return d.Close(ctx)
		})
	}

	closeFn := func() error {
		var errs []error
		for _, c := range closers {
			errs = append(errs, c())
		}
		return errors.Join(errs...)
	}
	return hooks, closeFn, nil
}
