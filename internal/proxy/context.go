package proxy

import (
	"io"
	"net"
	"net/http"
	"strconv"
)

// RequestContext is the per-inbound-request data the proxy owns, per spec
// ยง3. It is built once from the parsed request and treated as immutable by
// C1's middleware chain.
type RequestContext struct {
	Method       string
	RawTarget    string
	ProtoVersion string
	RemoteAddr   string

	InboundHeaders *OrderedHeaders
	InboundBody    io.ReadCloser
	Expects100     bool

	contentLength string // from r.ContentLength; "" when the length is unknown
}

// NewRequestContext builds a RequestContext from a parsed *http.Request.
// r.ContentLength is captured separately so C1 can add a Content-Length
// header when r.Header does not carry one.
func NewRequestContext(r *http.Request) *RequestContext {
	ctx := &RequestContext{
		Method:         r.Method,
		RawTarget:      r.RequestURI,
		ProtoVersion:   r.Proto,
		RemoteAddr:     remoteHost(r.RemoteAddr),
		InboundHeaders: NewOrderedHeaders(r.Header),
		InboundBody:    r.Body,
		Expects100:     httpExpects100Continue(r),
	}
	if r.ContentLength >= 0 {
		ctx.contentLength = strconv.FormatInt(r.ContentLength, 10)
	}
	return ctx
}

func httpExpects100Continue(r *http.Request) bool {
	for _, v := range r.Header.Values("Expect") {
		if v == "100-continue" {
			return true
		}
	}
	return false
}

// remoteHost strips the port from a host:port remote address, falling back
// to the raw value when it cannot be split.
func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
