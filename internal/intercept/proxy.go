package intercept

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ppiankov/promptguard/internal/guard"
	"github.com/ppiankov/promptguard/internal/scan"
)

// Config holds scanning proxy configuration.
type Config struct {
	Port     int
	Upstream string // e.g. "https://api.anthropic.com"
	Hooks    []guard.Hook
	Logger   *slog.Logger
}

// Server is a reverse HTTP proxy that scans LLM request prompts before
// forwarding them upstream. Allowed responses, streaming or not, are relayed
// byte for byte.
type Server struct {
	cfg       Config
	upstream  *url.URL
	transport http.RoundTripper
	logger    *slog.Logger

	mu      sync.Mutex
	scanner *scan.Client
	guard   atomic.Pointer[guard.Guard]

	srv *http.Server
}

// NewServer creates a proxy that scans with sc. The server takes ownership
// of sc and closes it on Close.
func NewServer(cfg Config, sc *scan.Client) (*Server, error) {
	upstream, err := url.Parse(cfg.Upstream)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream URL: %w", err)
	}
	if upstream.Scheme != "http" && upstream.Scheme != "https" {
		return nil, fmt.Errorf("invalid upstream URL %q: scheme must be http or https", cfg.Upstream)
	}
	if sc == nil {
		return nil, errors.New("scan client is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:       cfg,
		upstream:  upstream,
		transport: http.DefaultTransport,
		logger:    logger.With("component", "intercept"),
		scanner:   sc,
	}
	s.guard.Store(guard.New(sc, cfg.Hooks...))

	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Start begins listening. Blocks until context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("proxy listening", "addr", ln.Addr().String(), "upstream", s.upstream.String())
	err := s.srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// SetScanner swaps the scan client used for new requests, e.g. after a
// config reload. The previous client is closed once requests already using it
// have had time to finish.
func (s *Server) SetScanner(sc *scan.Client) {
	s.mu.Lock()
	old := s.scanner
	s.scanner = sc
	s.guard.Store(guard.New(sc, s.cfg.Hooks...))
	s.mu.Unlock()

	if old != nil && old != sc {
		time.AfterFunc(scan.DefaultTimeout+time.Second, func() { old.Close() })
	}
}

// Close releases the current scan client.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scanner != nil {
		return s.scanner.Close()
	}
	return nil
}

// ServeHTTP scans the request and, when allowed, forwards it upstream.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	serveGuarded(w, r, s.guard.Load(), s.logger, http.HandlerFunc(s.forward))
}

func (s *Server) forward(w http.ResponseWriter, r *http.Request) {
	outURL := *s.upstream
	outURL.Path = singleJoin(s.upstream.Path, r.URL.Path)
	outURL.RawQuery = r.URL.RawQuery

	outReq, err := http.NewRequestWithContext(r.Context(), r.Method, outURL.String(), r.Body)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to create request: %v", err), http.StatusInternalServerError)
		return
	}

	// Copy all headers (preserves Authorization, anthropic-version, etc.)
	copyHeaders(outReq.Header, r.Header)
	outReq.Host = s.upstream.Host
	outReq.ContentLength = r.ContentLength

	resp, err := s.transport.RoundTrip(outReq)
	if err != nil {
		if r.Context().Err() == nil {
			s.logger.Warn("upstream request failed", "path", r.URL.Path, "error", err)
			http.Error(w, fmt.Sprintf("upstream error: %v", err), http.StatusBadGateway)
		}
		return
	}
	defer resp.Body.Close()

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	if strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		s.relayStream(w, resp.Body)
		return
	}
	io.Copy(w, resp.Body)
}

// relayStream copies an SSE body, flushing after every read so events reach
// the client as the upstream produces them.
func (s *Server) relayStream(w http.ResponseWriter, body io.Reader) {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			if err != io.EOF {
				s.logger.Debug("stream relay ended", "error", err)
			}
			return
		}
	}
}

// hopHeaders are connection-scoped and never forwarded.
var hopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		if hopHeaders[http.CanonicalHeaderKey(k)] {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func singleJoin(base, path string) string {
	if base == "" || base == "/" {
		return path
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
