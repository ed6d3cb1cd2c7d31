package collaborator

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func fastRetry(maxRetries int) RetryPolicy {
	p := DefaultRetryPolicy()
	p.MaxRetries = maxRetries
	p.BaseDelay = time.Millisecond
	p.MaxDelay = 2 * time.Millisecond
	return p
}

func testClient(url string, maxRetries int) *OpenRouterClient {
	return &OpenRouterClient{
		BaseURL:    url,
		APIKey:     "test-key",
		Model:      "test/model",
		MaxTokens:  256,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
		Retry:      fastRetry(maxRetries),
	}
}

func chatOK(content string) string {
	return `{"choices":[{"message":{"role":"assistant","content":` + jsonString(content) + `}}]}`
}

func jsonString(s string) string {
	b := strings.Builder{}
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

func TestProposeReturnsExtractedCode(t *testing.T) {
	var gotAuth, gotReqID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotReqID = r.Header.Get("X-Request-ID")
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Write([]byte(chatOK("```python\nimport torch\n```")))
	}))
	defer srv.Close()

	c := testClient(srv.URL, 0)
	out, err := c.Propose(context.Background(), Request{Path: "model.py", Content: "import torch"})
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if out != "import torch" {
		t.Errorf("got %q, want fenced code stripped", out)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotReqID == "" {
		t.Error("X-Request-ID not set")
	}
}

func TestProposeRetriesServerErrors(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":{"message":"upstream busy"}}`))
			return
		}
		w.Write([]byte(chatOK("code")))
	}))
	defer srv.Close()

	c := testClient(srv.URL, 2)
	out, err := c.Propose(context.Background(), Request{Path: "a.py", Content: "x"})
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if out != "code" {
		t.Errorf("got %q", out)
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("server called %d times, want 3", n)
	}
}

func TestProposeDoesNotRetryAuthErrors(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL, 3)
	_, err := c.Propose(context.Background(), Request{Path: "a.py", Content: "x"})
	var authErr *AuthenticationError
	if !errors.As(err, &authErr) {
		t.Fatalf("got %T (%v), want *AuthenticationError", err, err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("server called %d times, want 1", n)
	}
}

func TestProposeExhaustsRetries(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := testClient(srv.URL, 2)
	_, err := c.Propose(context.Background(), Request{Path: "a.py", Content: "x"})
	var rl *RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("got %T (%v), want *RateLimitError", err, err)
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("server called %d times, want 3 (initial + 2 retries)", n)
	}
}

func TestProposeEmptyChoicesIsMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL, 0)
	_, err := c.Propose(context.Background(), Request{Path: "a.py", Content: "x"})
	var mal *MalformedResponseError
	if !errors.As(err, &mal) {
		t.Fatalf("got %T (%v), want *MalformedResponseError", err, err)
	}
}

func TestProposeMissingKeyIsConfigurationError(t *testing.T) {
	c := testClient("http://127.0.0.1:1", 0)
	c.APIKey = ""
	_, err := c.Propose(context.Background(), Request{Path: "a.py", Content: "x"})
	var cfg *ConfigurationError
	if !errors.As(err, &cfg) {
		t.Fatalf("got %T (%v), want *ConfigurationError", err, err)
	}
}

func TestProposeContextCancelStopsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := testClient(srv.URL, 5)
	_, err := c.Propose(ctx, Request{Path: "a.py", Content: "x"})
	if err == nil {
		t.Fatal("expected error after cancellation")
	}
}

func TestErrorFromHTTPStatus(t *testing.T) {
	cases := []struct {
		status    int
		retryable bool
	}{
		{400, false},
		{401, false},
		{403, false},
		{404, false},
		{408, true},
		{422, false},
		{429, true},
		{500, true},
		{503, true},
		{599, true},
	}
	for _, tc := range cases {
		err := ErrorFromHTTPStatus(tc.status, "msg", nil)
		if got := IsRetryable(err); got != tc.retryable {
			t.Errorf("status %d: retryable = %v, want %v", tc.status, got, tc.retryable)
		}
	}
}

func TestRetryDelayHonorsRetryAfter(t *testing.T) {
	p := fastRetry(2)

	hint := 500 * time.Millisecond
	rateLimited := ErrorFromHTTPStatus(http.StatusTooManyRequests, "slow down", &hint)
	if got := retryDelay(p, 1, "seed", rateLimited); got != hint {
		t.Errorf("delay = %v, want the Retry-After hint %v", got, hint)
	}

	// A hint shorter than the backoff must not shrink the wait.
	p.BaseDelay = time.Second
	p.MaxDelay = time.Minute
	p.Jitter = false
	short := time.Millisecond
	rateLimited = ErrorFromHTTPStatus(http.StatusTooManyRequests, "slow down", &short)
	if got := retryDelay(p, 1, "seed", rateLimited); got != time.Second {
		t.Errorf("delay = %v, want the backoff to win over a shorter hint", got)
	}

	plain := ErrorFromHTTPStatus(http.StatusInternalServerError, "oops", nil)
	if got := retryDelay(p, 1, "seed", plain); got != time.Second {
		t.Errorf("delay = %v, want the plain backoff without a hint", got)
	}
}

func TestDelayIsDeterministicPerSeed(t *testing.T) {
	p := DefaultRetryPolicy()
	a := p.Delay(1, "seed-a")
	b := p.Delay(1, "seed-a")
	if a != b {
		t.Errorf("same seed produced %v and %v", a, b)
	}

	p.Jitter = false
	if p.Delay(2, "seed-a") != 2*p.Delay(1, "seed-a") {
		t.Error("backoff without jitter should double per attempt")
	}
	if p.Delay(10, "seed-a") != p.MaxDelay {
		t.Errorf("delay should cap at MaxDelay, got %v", p.Delay(10, "seed-a"))
	}
}

func TestBuildPromptIncludesHistoryOldestFirst(t *testing.T) {
	p := BuildPrompt(Request{
		Path:    "train.py",
		Content: "import keras",
		History: []string{"first failure", "second failure"},
	})
	if !strings.Contains(p, "train.py") {
		t.Error("path missing from prompt")
	}
	if !strings.Contains(p, "import keras") {
		t.Error("source missing from prompt")
	}
	i := strings.Index(p, "first failure")
	j := strings.Index(p, "second failure")
	if i < 0 || j < 0 || i > j {
		t.Errorf("history not oldest-first: i=%d j=%d", i, j)
	}
}

func TestExtractCode(t *testing.T) {
	cases := []struct {
		name, in, want string
	}{
		{"python fence", "```python\nx = 1\n```", "x = 1"},
		{"bare fence", "```\nx = 1\n```", "x = 1"},
		{"prose around fence", "Sure:\n```python\nx = 1\n```\nDone.", "x = 1"},
		{"no fence", "x = 1\n", "x = 1"},
	}
	for _, tc := range cases {
		if got := ExtractCode(tc.in); got != tc.want {
			t.Errorf("%s: got %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestIsRefusal(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"I'm sorry, I can't help with that.", true},
		{"I cannot assist with this request.", true},
		{"# upgraded code here", true},
		{"import torch\nprint('ok')", false},
		{"", true},
	}
	for _, tc := range cases {
		if got := IsRefusal(tc.in); got != tc.want {
			t.Errorf("IsRefusal(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
