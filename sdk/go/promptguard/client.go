package promptguard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/promptguard/internal/alert"
	"github.com/ppiankov/promptguard/internal/audit"
	"github.com/ppiankov/promptguard/internal/config"
	"github.com/ppiankov/promptguard/internal/guard"
	"github.com/ppiankov/promptguard/internal/intercept"
	"github.com/ppiankov/promptguard/internal/scan"
)

// Client owns the scan transport and the guard shared by provider bindings.
// Safe for concurrent use.
type Client struct {
	scanner *scan.Client
	guard   *guard.Guard
	logger  *slog.Logger
	closers []func() error
	alerts  *alert.Dispatcher

	mu        sync.Mutex
	draining  bool
	inflight  sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// alertDrainTimeout bounds how long Close waits for pending webhook alerts.
const alertDrainTimeout = 10 * time.Second

// New creates a scan-only Client. Provider bindings embed one.
func New(opts ...Option) (*Client, error) {
	c, _, err := newClient(opts)
	return c, err
}

func newClient(opts []Option) (*Client, clientConfig, error) {
	env := config.Default()
	if err := env.ApplyEnv(os.LookupEnv); err != nil {
		return nil, clientConfig{}, err
	}
	cfg := clientConfig{
		apiKey:    env.APIKey,
		endpoint:  env.Endpoint,
		failMode:  env.FailMode,
		timeout:   env.ScanTimeout,
		auditPath: env.AuditLog,
		alerts:    env.Alerts,
		env:       env,
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.err != nil {
		return nil, cfg, cfg.err
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	scanOpts := []scan.Option{
		scan.WithEndpoint(cfg.endpoint),
		scan.WithFailMode(cfg.failMode),
		scan.WithTimeout(cfg.timeout),
		scan.WithLogger(logger),
	}
	if cfg.httpClient != nil {
		scanOpts = append(scanOpts, scan.WithHTTPClient(cfg.httpClient))
	}
	sc, err := scan.New(cfg.apiKey, scanOpts...)
	if err != nil {
		return nil, cfg, err
	}

	c := &Client{scanner: sc, logger: logger}
	hooks := append([]Hook(nil), cfg.hooks...)
	if cfg.auditPath != "" {
		l, err := audit.Open(cfg.auditPath)
		if err != nil {
			sc.Close()
			return nil, cfg, fmt.Errorf("promptguard: open audit log: %w", err)
		}
		hooks = append(hooks, l.Hook(uuid.NewString(), cfg.configHash, logger))
		c.closers = append(c.closers, l.Close)
	}
	if d := alert.NewDispatcher(cfg.alerts, logger); d != nil {
		hooks = append(hooks, d.Hook())
		c.alerts = d
	}
	c.guard = guard.New(sc, hooks...)
	return c, cfg, nil
}

// FailMode returns the configured failure policy.
func (c *Client) FailMode() FailMode { return c.scanner.FailMode() }

// Scan returns the verdict for a prompt without blocking anything.
// Errors are always *ScanError.
func (c *Client) Scan(ctx context.Context, prompt string) (Verdict, error) {
	return c.scanner.Scan(ctx, prompt, "")
}

// ScanWithContext is Scan with prior conversation text sent alongside the
// prompt. Both count toward the size limit.
func (c *Client) ScanWithContext(ctx context.Context, prompt, conversation string) (Verdict, error) {
	return c.scanner.Scan(ctx, prompt, conversation)
}

// ScanSQL checks a SQL query before it is executed.
func (c *Client) ScanSQL(ctx context.Context, query, database string, allowDestructive bool) (Verdict, error) {
	return c.scanner.ScanSQL(ctx, query, database, allowDestructive)
}

// ScanFile checks a file path and optional content before a write.
func (c *Client) ScanFile(ctx context.Context, path, content string) (Verdict, error) {
	return c.scanner.ScanFile(ctx, path, content)
}

// Middleware scans JSON LLM request bodies (Anthropic, OpenAI, Gemini shapes)
// before passing them to next. Blocked requests receive a 403.
func (c *Client) Middleware(next http.Handler) http.Handler {
	return intercept.Middleware(c.guard, c.logger, next)
}

// Close releases the scan transport and the audit log after waiting a
// bounded time for pending webhook alerts. Async calls started afterwards
// fail with a closed *ScanError. Safe to call more than once and from any
// goroutine.
func (c *Client) Close() error {
	c.stopAsync()
	c.closeOnce.Do(func() {
		var errs []error
		if c.alerts != nil {
			ctx, cancel := context.WithTimeout(context.Background(), alertDrainTimeout)
			errs = append(errs, c.alerts.Close(ctx))
			cancel()
		}
		errs = append(errs, c.scanner.Close())
		for i := len(c.closers) - 1; i >= 0; i-- {
			errs = append(errs, c.closers[i]())
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}

// Shutdown stops accepting async calls, waits for in-flight ones and their
// alerts, then closes the client. If ctx ends first, pending alerts are
// cancelled, the client is closed anyway and ctx.Err() is returned.
func (c *Client) Shutdown(ctx context.Context) error {
	c.stopAsync()
	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		if c.alerts != nil {
			c.alerts.Close(ctx)
		}
		c.Close()
		return ctx.Err()
	}
	if c.alerts != nil {
		if err := c.alerts.Close(ctx); err != nil {
			c.Close()
			return err
		}
	}
	return c.Close()
}

func (c *Client) stopAsync() {
	c.mu.Lock()
	c.draining = true
	c.mu.Unlock()
}

func goGuarded[P, R any](ctx context.Context, c *Client, b guard.Binding[P, R], params P) *Future[R] {
	c.mu.Lock()
	if c.draining {
		c.mu.Unlock()
		return guard.Failed[R](scan.ClosedError())
	}
	c.inflight.Add(1)
	c.mu.Unlock()

	f := guard.Go(ctx, c.guard, b, params)
	go func() {
		<-f.Done()
		c.inflight.Done()
	}()
	return f
}

// Use runs fn with a client and always closes it afterwards, whether fn
// returns normally, fails, or panics.
//
//	pg, err := promptguard.NewAnthropic(opts...)
//	if err != nil {
//	    return err
//	}
//	return promptguard.Use(pg, func(pg *promptguard.Anthropic) error {
//	    _, err := pg.Messages.New(ctx, params)
//	    return err
//	})
func Use[C interface{ Close() error }](c C, fn func(C) error) (rerr error) {
	defer func() {
		if cerr := c.Close(); rerr == nil {
			rerr = cerr
		}
	}()
	return fn(c)
}
