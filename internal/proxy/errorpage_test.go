package proxy

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRenderUpstreamUnreachable_PlainAcceptGetsPlainContentType(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://example.com/x", nil)
	r.Header.Set("Accept", "text/plain")
	w := httptest.NewRecorder()

	renderUpstreamUnreachable(w, r, "http://example.com/x")

	// Regression test for the reference bug (spec ยง9): a text/plain Accept
	// header must not get an html Content-Type back.
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("expected text/plain Content-Type, got %q", ct)
	}
	if w.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "<html>") {
		t.Fatalf("expected plain body, got html: %q", w.Body.String())
	}
}

func TestRenderUpstreamUnreachable_HTMLAcceptGetsHTMLContentType(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://example.com/x", nil)
	r.Header.Set("Accept", "text/html")
	w := httptest.NewRecorder()

	renderUpstreamUnreachable(w, r, "http://example.com/x")

	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("expected text/html Content-Type, got %q", ct)
	}
	if !strings.Contains(w.Body.String(), "<html>") {
		t.Fatalf("expected html body, got %q", w.Body.String())
	}
}

func TestRenderUpstreamUnreachable_NoAcceptHeaderGetsEmptyBody(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://example.com/x", nil)
	w := httptest.NewRecorder()

	renderUpstreamUnreachable(w, r, "http://example.com/x")

	if w.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", w.Code)
	}
	if w.Body.Len() != 0 {
		t.Fatalf("expected empty body with no Accept header, got %q", w.Body.String())
	}
}

func TestNegotiateErrorContentType_WildcardPrefersHTML(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Accept", "*/*")

	if got := negotiateErrorContentType(r); got != "text/html" {
		t.Fatalf("expected text/html for */*, got %q", got)
	}
}
