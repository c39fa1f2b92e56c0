package proxy

import (
	"fmt"
	"net/http"
	"strings"
)

// renderUpstreamUnreachable implements C6: a content-negotiated failure
// response, used only when the downstream response has not started yet
// (spec ยง4.6's guard — callers must check that before calling this).
//
// The reference implementation (examples/proxyserver/manage.py) sets
// Content-Type: text/html even for the text/plain branch; spec ยง9 flags
// this as almost certainly a bug and tells implementers to fix it rather
// than replicate it, so the text/plain branch here uses text/plain.
func renderUpstreamUnreachable(w http.ResponseWriter, r *http.Request, uri string) {
	msg := fmt.Sprintf("Could not find %s", uri)

	switch negotiateErrorContentType(r) {
	case "text/html":
		body := fmt.Sprintf("<!DOCTYPE html><html><head><title>%s</title></head><body><h1>%s</h1></body></html>", msg, msg)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusGatewayTimeout)
		_, _ = w.Write([]byte(body))
	case "text/plain":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusGatewayTimeout)
		_, _ = w.Write([]byte(msg))
	default:
		w.WriteHeader(http.StatusGatewayTimeout)
	}
}

// negotiateErrorContentType matches the Accept header against text/html
// then text/plain, in that order, per spec ยง4.6; an Accept value containing
// */* counts as a text/html match. It intentionally does not
// implement full RFC 7231 q-value weighting — the reference behavior is a
// simple ordered substring match, and that is all the spec asks for.
func negotiateErrorContentType(r *http.Request) string {
	accept := r.Header.Get("Accept")
	if accept == "" {
		return ""
	}
	if strings.Contains(accept, "text/html") || strings.Contains(accept, "*/*") {
		return "text/html"
	}
	if strings.Contains(accept, "text/plain") {
		return "text/plain"
	}
	return ""
}
