package scan

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ppiankov/promptguard/internal/verdict"
)

// countingTransport records calls and delegates to fn.
type countingTransport struct {
	calls atomic.Int32
	fn    func(*http.Request) (*http.Response, error)
}

func (t *countingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	t.calls.Add(1)
	return t.fn(r)
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func newTestClient(t *testing.T, rt http.RoundTripper, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{
		WithHTTPClient(&http.Client{Transport: rt}),
		WithLogger(slog.New(slog.DiscardHandler)),
		WithEndpoint("https://scan.test"),
	}, opts...)
	c, err := New("sk-test", opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestSizeGuardSkipsNetwork(t *testing.T) {
	rt := &countingTransport{fn: func(*http.Request) (*http.Response, error) {
		return jsonResponse(200, `{"safe":true}`), nil
	}}
	c := newTestClient(t, rt)

	v, err := c.Scan(context.Background(), strings.Repeat("a", MaxContentSize+1), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Safe || v.ThreatType != verdict.SizeLimitExceeded {
		t.Errorf("expected size_limit_exceeded, got %+v", v)
	}
	if v.Severity != verdict.SeverityLow || v.Confidence != verdict.ConfidenceHigh {
		t.Errorf("expected low/high, got %s/%s", v.Severity, v.Confidence)
	}
	if len(v.Violations) != 1 || v.Violations[0].Type != "size_limit" {
		t.Errorf("expected one size_limit violation, got %+v", v.Violations)
	}
	if rt.calls.Load() != 0 {
		t.Errorf("expected 0 transport calls, got %d", rt.calls.Load())
	}
}

func TestSizeGuardCountsContext(t *testing.T) {
	half := strings.Repeat("x", MaxContentSize/2+1)
	if CheckSize(half, half) == nil {
		t.Error("expected prompt+context over the limit to be blocked")
	}
	if CheckSize(strings.Repeat("x", MaxContentSize), "") != nil {
		t.Error("content exactly at the limit should pass")
	}
	// Multi-byte runes count once.
	if CheckSize(strings.Repeat("é", MaxContentSize), "") != nil {
		t.Error("expected size to be measured in characters")
	}
}

func TestEmptyPromptSkipsNetwork(t *testing.T) {
	rt := &countingTransport{fn: func(*http.Request) (*http.Response, error) {
		return jsonResponse(200, `{"safe":false}`), nil
	}}
	c := newTestClient(t, rt)

	for _, p := range []string{"", "   \n\t"} {
		v, err := c.Scan(context.Background(), p, "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !v.Safe || v.Reason != "no content to scan" {
			t.Errorf("prompt %q: expected vacuous safe verdict, got %+v", p, v)
		}
	}
	if rt.calls.Load() != 0 {
		t.Errorf("expected 0 transport calls, got %d", rt.calls.Load())
	}
}

func TestScanSendsHeadersAndBody(t *testing.T) {
	var got *http.Request
	var body Request
	rt := &countingTransport{fn: func(r *http.Request) (*http.Response, error) {
		got = r
		_ = json.NewDecoder(r.Body).Decode(&body)
		return jsonResponse(200, `{"safe":true,"reason":"clean"}`), nil
	}}
	c := newTestClient(t, rt)

	v, err := c.Scan(context.Background(), "hello", "prior turn")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v.Safe || v.Reason != "clean" {
		t.Errorf("unexpected verdict %+v", v)
	}
	if got.Method != http.MethodPost || got.URL.String() != "https://scan.test/scan" {
		t.Errorf("unexpected request %s %s", got.Method, got.URL)
	}
	if h := got.Header.Get("Authorization"); h != "Bearer sk-test" {
		t.Errorf("Authorization = %q", h)
	}
	if got.Header.Get("X-SDK") != SDKName || got.Header.Get("X-SDK-Version") != SDKVersion {
		t.Errorf("missing SDK identity headers: %v", got.Header)
	}
	if got.Header.Get("X-Request-ID") == "" {
		t.Error("expected a request id")
	}
	if body.Prompt != "hello" || body.Context != "prior turn" {
		t.Errorf("unexpected body %+v", body)
	}
}

func TestRequestIDsAreFresh(t *testing.T) {
	seen := map[string]bool{}
	rt := &countingTransport{fn: func(r *http.Request) (*http.Response, error) {
		seen[r.Header.Get("X-Request-ID")] = true
		return jsonResponse(200, `{"safe":true}`), nil
	}}
	c := newTestClient(t, rt)
	for i := 0; i < 3; i++ {
		if _, err := c.Scan(context.Background(), "hi", ""); err != nil {
			t.Fatal(err)
		}
	}
	if len(seen) != 3 {
		t.Errorf("expected 3 distinct request ids, got %d", len(seen))
	}
}

func TestBlockedVerdictIsSanitized(t *testing.T) {
	rt := &countingTransport{fn: func(*http.Request) (*http.Response, error) {
		return jsonResponse(200, `{"safe":false,"threat_type":"sqli","confidence":0.95,"pattern_id":"P-17","matched_text":"OR 1=1"}`), nil
	}}
	c := newTestClient(t, rt)

	v, err := c.Scan(context.Background(), "' OR 1=1 --", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Safe {
		t.Fatal("expected unsafe verdict")
	}
	if v.ThreatType != verdict.SQLInjection || v.Confidence != verdict.ConfidenceHigh || v.Severity != verdict.SeverityCritical {
		t.Errorf("unexpected classification %+v", v)
	}
	for k := range v.Map() {
		if verdict.IsInternalField(k) {
			t.Errorf("internal field %q leaked", k)
		}
	}
	if rt.calls.Load() != 1 {
		t.Errorf("expected exactly 1 transport call, got %d", rt.calls.Load())
	}
}

func TestTimeoutFailOpen(t *testing.T) {
	rt := &countingTransport{fn: func(*http.Request) (*http.Response, error) {
		return nil, timeoutErr{}
	}}
	c := newTestClient(t, rt, WithFailMode(FailOpen))

	v, err := c.Scan(context.Background(), "hello", "")
	if err != nil {
		t.Fatalf("fail-open must not return an error, got %v", err)
	}
	if !v.Safe || !v.Degraded || v.Reason != "scan timeout, failing open" {
		t.Errorf("unexpected verdict %+v", v)
	}
	if rt.calls.Load() != 1 {
		t.Errorf("expected no retries, got %d calls", rt.calls.Load())
	}
}

func TestTimeoutFailClosed(t *testing.T) {
	rt := &countingTransport{fn: func(*http.Request) (*http.Response, error) {
		return nil, timeoutErr{}
	}}
	c := newTestClient(t, rt, WithFailMode(FailClosed))

	_, err := c.Scan(context.Background(), "hello", "")
	var se *ScanError
	if !errors.As(err, &se) {
		t.Fatalf("expected *ScanError, got %v", err)
	}
	if se.Kind != FailureTimeout {
		t.Errorf("expected timeout kind, got %s", se.Kind)
	}
	if se.RequestID == "" {
		t.Error("expected request id on error")
	}
}

func TestDeadlineExceededIsTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c, err := New("k",
		WithEndpoint(srv.URL),
		WithTimeout(50*time.Millisecond),
		WithFailMode(FailClosed),
		WithLogger(slog.New(slog.DiscardHandler)))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	_, err = c.Scan(context.Background(), "hello", "")
	var se *ScanError
	if !errors.As(err, &se) || se.Kind != FailureTimeout {
		t.Fatalf("expected timeout ScanError, got %v", err)
	}
}

func TestStatusErrors(t *testing.T) {
	for _, status := range []int{401, 503} {
		rt := &countingTransport{fn: func(*http.Request) (*http.Response, error) {
			return jsonResponse(status, `{"error":"nope"}`), nil
		}}

		open := newTestClient(t, rt, WithFailMode(FailOpen))
		v, err := open.Scan(context.Background(), "hello", "")
		if err != nil || !v.Safe {
			t.Errorf("status %d open: expected safe verdict, got %+v %v", status, v, err)
		}
		if !strings.Contains(v.Reason, "failing open") {
			t.Errorf("status %d open: reason %q", status, v.Reason)
		}

		closed := newTestClient(t, rt, WithFailMode(FailClosed))
		_, err = closed.Scan(context.Background(), "hello", "")
		var se *ScanError
		if !errors.As(err, &se) || se.Kind != FailureStatus || se.StatusCode != status {
			t.Fatalf("status %d closed: expected status ScanError, got %v", status, err)
		}
		if se.ClientError() != (status < 500) {
			t.Errorf("status %d: ClientError() = %v", status, se.ClientError())
		}
	}
}

func TestMalformedBody(t *testing.T) {
	for _, body := range []string{`not json`, `[1,2]`, `{"safe":"yes"}`} {
		rt := &countingTransport{fn: func(*http.Request) (*http.Response, error) {
			return jsonResponse(200, body), nil
		}}
		c := newTestClient(t, rt, WithFailMode(FailClosed))
		_, err := c.Scan(context.Background(), "hello", "")
		var se *ScanError
		if !errors.As(err, &se) || se.Kind != FailureMalformed {
			t.Errorf("body %q: expected malformed ScanError, got %v", body, err)
		}
		if !errors.Is(err, verdict.ErrMalformed) {
			t.Errorf("body %q: expected ErrMalformed in chain", body)
		}
	}
}

func TestCancelledAlwaysErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	rt := &countingTransport{fn: func(r *http.Request) (*http.Response, error) {
		cancel()
		return nil, r.Context().Err()
	}}
	c := newTestClient(t, rt, WithFailMode(FailOpen))

	_, err := c.Scan(ctx, "hello", "")
	var se *ScanError
	if !errors.As(err, &se) || se.Kind != FailureCancelled {
		t.Fatalf("expected cancelled ScanError even in open mode, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Error("expected context.Canceled in chain")
	}
}

func TestClosedClient(t *testing.T) {
	rt := &countingTransport{fn: func(*http.Request) (*http.Response, error) {
		return jsonResponse(200, `{"safe":true}`), nil
	}}
	c := newTestClient(t, rt)
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	_, err := c.Scan(context.Background(), "hello", "")
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if rt.calls.Load() != 0 {
		t.Errorf("expected 0 calls after Close, got %d", rt.calls.Load())
	}
}

func TestScanSQLBody(t *testing.T) {
	var got SpecializedRequest
	var path string
	rt := &countingTransport{fn: func(r *http.Request) (*http.Response, error) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		return jsonResponse(200, `{"safe":false,"threat_type":"destructive_sql","severity":"HIGH"}`), nil
	}}
	c := newTestClient(t, rt)

	v, err := c.ScanSQL(context.Background(), "DROP TABLE users", "prod", false)
	if err != nil {
		t.Fatal(err)
	}
	if path != "/api/scan/specialized" {
		t.Errorf("path = %q", path)
	}
	if got.ContentType != ContentSQL || got.Content != "DROP TABLE users" {
		t.Errorf("unexpected body %+v", got)
	}
	if got.Context["database"] != "prod" || got.Context["allow_destructive"] != "false" {
		t.Errorf("unexpected context %v", got.Context)
	}
	if v.Safe || v.Severity != verdict.SeverityHigh {
		t.Errorf("unexpected verdict %+v", v)
	}
}

func TestScanFileContentType(t *testing.T) {
	var got SpecializedRequest
	rt := &countingTransport{fn: func(r *http.Request) (*http.Response, error) {
		got = SpecializedRequest{}
		_ = json.NewDecoder(r.Body).Decode(&got)
		return jsonResponse(200, `{"safe":true}`), nil
	}}
	c := newTestClient(t, rt)

	if _, err := c.ScanFile(context.Background(), "/etc/passwd", ""); err != nil {
		t.Fatal(err)
	}
	if got.ContentType != ContentFilePath || got.Context != nil {
		t.Errorf("path-only scan sent %+v", got)
	}

	if _, err := c.ScanFile(context.Background(), "config.env", "AWS_SECRET=abc"); err != nil {
		t.Fatal(err)
	}
	if got.ContentType != ContentFileContent || got.Context["file_content"] != "AWS_SECRET=abc" {
		t.Errorf("content scan sent %+v", got)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name  string
		opt   Option
		field string
	}{
		{"fail mode", WithFailMode("sometimes"), "fail_mode"},
		{"timeout", WithTimeout(0), "scan_timeout"},
		{"endpoint", WithEndpoint("ftp://scan"), "endpoint"},
		{"relative endpoint", WithEndpoint("/scan"), "endpoint"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New("k", tc.opt)
			var ce *ConfigError
			if !errors.As(err, &ce) || ce.Field != tc.field {
				t.Errorf("expected ConfigError on %s, got %v", tc.field, err)
			}
		})
	}
}

func TestParseFailMode(t *testing.T) {
	for in, want := range map[string]FailMode{"": FailOpen, "open": FailOpen, "CLOSED": FailClosed, " closed ": FailClosed} {
		got, err := ParseFailMode(in)
		if err != nil || got != want {
			t.Errorf("ParseFailMode(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseFailMode("strict"); err == nil {
		t.Error("expected error for unknown mode")
	}
}
