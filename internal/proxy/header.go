package proxy

import (
	"net/http"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// hopByHopHeaders lists the headers that are meaningful only for a single
// transport hop (RFC 7230 ยง6.1) and must never be forwarded in either
// direction.
var hopByHopHeaders = map[string]struct{}{
	"connection":          {},
	"keep-alive":          {},
	"proxy-authenticate":  {},
	"proxy-authorization": {},
	"te":                  {},
	"trailers":            {},
	"transfer-encoding":   {},
	"upgrade":             {},
}

// isHopByHop reports whether name (any case) is a hop-by-hop header.
func isHopByHop(name string) bool {
	_, ok := hopByHopHeaders[strings.ToLower(name)]
	return ok
}

// HeaderPair is one ordered entry in an OrderedHeaders multimap.
type HeaderPair struct {
	Name  string
	Value string
}

// OrderedHeaders is an insertion-order-preserving, case-insensitive
// multimap of header name to value. Unlike net/http.Header (a bare map),
// it preserves the relative order of distinct header names in the order
// they were added.
type OrderedHeaders struct {
	pairs []HeaderPair
}

// NewOrderedHeaders builds an OrderedHeaders from an http.Header. Values of
// one name keep their arrival order and stay grouped together; the order of
// distinct names follows Go map iteration, so it is unspecified and is not
// the order the headers had on the wire.
func NewOrderedHeaders(h http.Header) *OrderedHeaders {
	oh := &OrderedHeaders{}
	for name, values := range h {
		for _, v := range values {
			oh.pairs = append(oh.pairs, HeaderPair{Name: name, Value: v})
		}
	}
	return oh
}

// Add appends a header, preserving duplicates.
func (oh *OrderedHeaders) Add(name, value string) {
	if !httpguts.ValidHeaderFieldName(name) {
		return
	}
	oh.pairs = append(oh.pairs, HeaderPair{Name: name, Value: value})
}

// Set replaces all existing values for name with a single value.
func (oh *OrderedHeaders) Set(name, value string) {
	if !httpguts.ValidHeaderFieldName(name) {
		return
	}
	oh.Del(name)
	oh.pairs = append(oh.pairs, HeaderPair{Name: name, Value: value})
}

// Del removes every entry whose name matches (case-insensitive).
func (oh *OrderedHeaders) Del(name string) {
	out := oh.pairs[:0]
	for _, p := range oh.pairs {
		if !strings.EqualFold(p.Name, name) {
			out = append(out, p)
		}
	}
	oh.pairs = out
}

// Get returns the first value for name, or "" if absent.
func (oh *OrderedHeaders) Get(name string) string {
	for _, p := range oh.pairs {
		if strings.EqualFold(p.Name, name) {
			return p.Value
		}
	}
	return ""
}

// Values returns every value for name in order.
func (oh *OrderedHeaders) Values(name string) []string {
	var out []string
	for _, p := range oh.pairs {
		if strings.EqualFold(p.Name, name) {
			out = append(out, p.Value)
		}
	}
	return out
}

// Pairs returns the ordered entries. The caller must not mutate the slice.
func (oh *OrderedHeaders) Pairs() []HeaderPair {
	return oh.pairs
}

// StripHopByHop removes every hop-by-hop header, including any header named
// by a "Connection" value, from oh.
func (oh *OrderedHeaders) StripHopByHop() {
	extra := map[string]struct{}{}
	for _, v := range oh.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				extra[strings.ToLower(name)] = struct{}{}
			}
		}
	}
	out := oh.pairs[:0]
	for _, p := range oh.pairs {
		lower := strings.ToLower(p.Name)
		if _, ok := hopByHopHeaders[lower]; ok {
			continue
		}
		if _, ok := extra[lower]; ok {
			continue
		}
		out = append(out, p)
	}
	oh.pairs = out
}

// ApplyTo copies every pair into dst in order (used when handing headers to
// net/http, which will not preserve cross-name order on the wire, but
// callers that want ordering — e.g. building a raw request line by hand —
// can walk Pairs() directly instead).
func (oh *OrderedHeaders) ApplyTo(dst http.Header) {
	for _, p := range oh.pairs {
		dst.Add(p.Name, p.Value)
	}
}

// Middleware mutates outbound headers for one request. It receives the
// immutable inbound request context and the mutable outbound header set
// being built for dispatch to upstream.
type Middleware func(ctx *RequestContext, out *OrderedHeaders)

// XForwardedFor appends an x-forwarded-for header carrying the client's
// remote address. Grounded on the reference x_forwarded_for middleware.
func XForwardedFor(ctx *RequestContext, out *OrderedHeaders) {
	if ctx.RemoteAddr == "" {
		return
	}
	out.Add("X-Forwarded-For", ctx.RemoteAddr)
}

// UserAgentOverride replaces (never appends) the outbound User-Agent header.
func UserAgentOverride(agent string) Middleware {
	return func(_ *RequestContext, out *OrderedHeaders) {
		out.Set("User-Agent", agent)
	}
}

// BuildOutboundHeaders implements C1: start from every inbound header
// (duplicates and order preserved), mirror content-type/content-length,
// then run the middleware chain in registration order. Hop-by-hop inbound
// headers are stripped before middlewares run, resolving the "dual
// hop-header filtering" open question in the strict direction.
func BuildOutboundHeaders(ctx *RequestContext, chain []Middleware) *OrderedHeaders {
	out := &OrderedHeaders{}
	for _, p := range ctx.InboundHeaders.Pairs() {
		out.Add(p.Name, p.Value)
	}
	out.StripHopByHop()

	// Mirror content-type/content-length onto the outbound set when the
	// copy above lacks them, per spec ยง4.2: Content-Length comes from
	// r.ContentLength, which is known even when r.Header carries no
	// Content-Length field; Content-Type is restored only if the hop-by-hop
	// strip removed it.
	if v := ctx.InboundHeaders.Get("Content-Type"); v != "" && out.Get("Content-Type") == "" {
		out.Set("Content-Type", v)
	}
	if ctx.contentLength != "" && out.Get("Content-Length") == "" {
		out.Set("Content-Length", ctx.contentLength)
	}

	for _, mw := range chain {
		mw(ctx, out)
	}
	return out
}
