package proxy

import "io"

// prepareOutboundBody implements C7: decide how the inbound body should be
// handed to the upstream client.
//
// The reference implementation pre-reads the whole body into memory unless
// Expect: 100-continue is set, in which case it withholds the read until it
// observes a 100 status from upstream. In Go, streaming the live body
// through unconditionally is strictly better: it never buffers an entire
// request in memory, and net/http.Transport already will not call Read on
// req.Body until it has either seen a 100-continue or its
// ExpectContinueTimeout has elapsed (see httpUpstreamClient.RoundTrip) when
// Expects100 is set. So both branches produce the same OutboundRequest
// shape — this function exists to make that decision explicit and
// testable, matching the module boundary spec ยง4.7 draws.
func prepareOutboundBody(ctx *RequestContext) (body io.ReadCloser, expects100 bool) {
	return ctx.InboundBody, ctx.Expects100
}
