package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"
)

// handleForward implements C4, the forward response pipeline, for any
// non-CONNECT request that Classify routed here. It builds the outbound
// request (C1 + C7), dispatches it through the upstream client (C2), and
// streams the response back downstream, filtering hop-by-hop headers on
// the way out and guaranteeing start_response fires exactly once.
func (h *Handler) handleForward(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := NewRequestContext(r)

	outHeaders := BuildOutboundHeaders(ctx, h.middleware)
	body, expects100 := prepareOutboundBody(ctx)

	outReq := &OutboundRequest{
		Method:       ctx.Method,
		URL:          ctx.RawTarget,
		Headers:      outHeaders,
		Body:         body,
		ProtoVersion: ctx.ProtoVersion,
		Expects100:   expects100,
	}

	var sawInterim100 bool
	resp, err := h.upstream.RoundTrip(r.Context(), outReq, func(code int) {
		if code == http.StatusContinue {
			sawInterim100 = true
		}
	})
	if err != nil {
		h.finishForwardError(w, r, ctx, start, err)
		return
	}
	defer resp.Body.Close()

	// Header flush: exactly once, before any body byte (spec ยง3 invariant).
	resp.Headers.StripHopByHop()
	resp.Headers.ApplyTo(w.Header())
	w.WriteHeader(resp.StatusCode)

	copied, copyErr := io.CopyBuffer(w, resp.Body, make([]byte, h.bufSize))

	netOK := copyErr == nil || isClientCanceled(r, copyErr)
	if copyErr != nil && !isClientCanceled(r, copyErr) {
		// Errors after headers are flushed cannot be retracted (spec ยง7):
		// abort the downstream connection abruptly rather than limping on
		// with a truncated, unframed body.
		abortDownstream(w)
	}

	h.events.EmitRequestFinished(RequestFinishedEvent{
		Method:     ctx.Method,
		Target:     ctx.RawTarget,
		HTTPStatus: resp.StatusCode,
		NetOK:      netOK,
		DurationNs: time.Since(start).Nanoseconds(),
	})
	_ = copied
	_ = sawInterim100
}

func (h *Handler) finishForwardError(w http.ResponseWriter, r *http.Request, ctx *RequestContext, start time.Time, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(r.Context().Err(), context.Canceled) {
		// Downstream went away before we got an upstream response: cancel
		// silently, there is nothing left to respond to (spec ยง5).
		return
	}

	renderUpstreamUnreachable(w, r, ctx.RawTarget)

	proxyErr := classifyUpstreamError(err)
	status := http.StatusGatewayTimeout
	if proxyErr != nil {
		status = proxyErr.HTTPCode
	}
	h.events.EmitRequestFinished(RequestFinishedEvent{
		Method:     ctx.Method,
		Target:     ctx.RawTarget,
		HTTPStatus: status,
		NetOK:      false,
		DurationNs: time.Since(start).Nanoseconds(),
	})
}

// isClientCanceled reports whether copyErr is a consequence of the
// downstream client going away rather than an upstream/network failure —
// such errors should not be treated as fatal upstream failures.
func isClientCanceled(r *http.Request, copyErr error) bool {
	if copyErr == nil {
		return false
	}
	return errors.Is(r.Context().Err(), context.Canceled)
}

// abortDownstream forcibly closes the downstream TCP connection with RST
// (SetLinger(0)) rather than trying to produce a well-framed trailer for a
// response whose status line has already gone out. Mirrors the teacher's
// policy of abrupt closure for mid-stream copy failures.
func abortDownstream(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		return
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		return
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetLinger(0)
	}
	_ = conn.Close()
}
