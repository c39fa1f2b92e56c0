package proxy

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func newInboundRequest(t *testing.T, headers map[string]string) *RequestContext {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, "http://example.com/widgets", nil)
	r.RequestURI = "http://example.com/widgets"
	r.RemoteAddr = "10.0.0.5:54321"
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	return NewRequestContext(r)
}

func TestBuildOutboundHeaders_StripsHopByHop(t *testing.T) {
	ctx := newInboundRequest(t, map[string]string{
		"Connection":        "Keep-Alive, X-Custom-Hop",
		"Keep-Alive":        "timeout=5",
		"X-Custom-Hop":      "should-be-stripped",
		"Proxy-Authorization": "Basic abc",
		"X-Keep-Me":         "value",
	})

	out := BuildOutboundHeaders(ctx, nil)

	for _, name := range []string{"Connection", "Keep-Alive", "X-Custom-Hop", "Proxy-Authorization"} {
		if v := out.Get(name); v != "" {
			t.Fatalf("expected %s to be stripped, got %q", name, v)
		}
	}
	if got := out.Get("X-Keep-Me"); got != "value" {
		t.Fatalf("expected X-Keep-Me to survive, got %q", got)
	}
}

func TestBuildOutboundHeaders_XForwardedForExactlyOnce(t *testing.T) {
	ctx := newInboundRequest(t, map[string]string{"X-Forwarded-For": "1.2.3.4"})

	out := BuildOutboundHeaders(ctx, []Middleware{XForwardedFor})

	values := out.Values("X-Forwarded-For")
	if len(values) != 2 {
		t.Fatalf("expected inbound XFF preserved plus one appended, got %v", values)
	}
	if values[len(values)-1] != ctx.RemoteAddr {
		t.Fatalf("expected appended XFF to be remote addr %q, got %q", ctx.RemoteAddr, values[len(values)-1])
	}
}

func TestBuildOutboundHeaders_MiddlewareIdempotenceDetection(t *testing.T) {
	// A deliberately non-idempotent middleware: every invocation appends
	// another value, which BuildOutboundHeaders must not mask by calling
	// the chain more than once per request.
	var calls int
	nonIdempotent := func(_ *RequestContext, out *OrderedHeaders) {
		calls++
		out.Add("X-Call-Count", "1")
	}

	ctx := newInboundRequest(t, nil)
	out := BuildOutboundHeaders(ctx, []Middleware{nonIdempotent})

	if calls != 1 {
		t.Fatalf("expected middleware invoked exactly once per request, got %d", calls)
	}
	if got := len(out.Values("X-Call-Count")); got != 1 {
		t.Fatalf("expected exactly one X-Call-Count value, got %d", got)
	}
}

func TestBuildOutboundHeaders_MirrorsContentLength(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "http://example.com/upload", nil)
	r.RequestURI = "http://example.com/upload"
	r.ContentLength = 42
	ctx := NewRequestContext(r)

	out := BuildOutboundHeaders(ctx, nil)

	if got := out.Get("Content-Length"); got != "42" {
		t.Fatalf("expected mirrored Content-Length 42, got %q", got)
	}
}

func TestOrderedHeaders_PreservesInsertionOrder(t *testing.T) {
	oh := &OrderedHeaders{}
	oh.Add("A", "1")
	oh.Add("B", "2")
	oh.Add("A", "3")

	pairs := oh.Pairs()
	if len(pairs) != 3 {
		t.Fatalf("expected 3 pairs, got %d", len(pairs))
	}
	want := []HeaderPair{{"A", "1"}, {"B", "2"}, {"A", "3"}}
	for i, p := range pairs {
		if p != want[i] {
			t.Fatalf("pair %d: got %+v, want %+v", i, p, want[i])
		}
	}
}

func TestOrderedHeaders_SetReplacesAllValues(t *testing.T) {
	oh := &OrderedHeaders{}
	oh.Add("User-Agent", "first")
	oh.Add("User-Agent", "second")
	oh.Set("User-Agent", "override")

	values := oh.Values("User-Agent")
	if len(values) != 1 || values[0] != "override" {
		t.Fatalf("expected single overridden value, got %v", values)
	}
}

func TestUserAgentOverride_ReplacesNotAppends(t *testing.T) {
	ctx := newInboundRequest(t, map[string]string{"User-Agent": "curl/8.0"})
	out := BuildOutboundHeaders(ctx, []Middleware{UserAgentOverride("Kestrel/1.0")})

	values := out.Values("User-Agent")
	if len(values) != 1 || values[0] != "Kestrel/1.0" {
		t.Fatalf("expected exactly one overridden User-Agent, got %v", values)
	}
}
