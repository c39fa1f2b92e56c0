package proxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPrepareOutboundBody_PassesThroughBodyAndExpectsFlag(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "http://example.com/upload", strings.NewReader("payload"))
	r.RequestURI = "http://example.com/upload"
	r.Header.Set("Expect", "100-continue")
	ctx := NewRequestContext(r)

	body, expects100 := prepareOutboundBody(ctx)
	if !expects100 {
		t.Fatal("expected Expects100 to be true")
	}
	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(data) != "payload" {
		t.Fatalf("expected body to pass through unread, got %q", data)
	}
}

func TestPrepareOutboundBody_NoExpectHeader(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "http://example.com/upload", strings.NewReader("x"))
	r.RequestURI = "http://example.com/upload"
	ctx := NewRequestContext(r)

	_, expects100 := prepareOutboundBody(ctx)
	if expects100 {
		t.Fatal("expected Expects100 to be false without an Expect header")
	}
}
