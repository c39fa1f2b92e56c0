package proxy

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"
)

// handleConnect implements C5, the CONNECT tunnel engine. It is grounded
// directly on the teacher's internal/proxy/forward.go handleCONNECT: dial
// the authority via the explicit DialTunnel operation (spec ยง9's
// "dial_only" re-architecture of the reference's pre-connect-and-null
// pattern), hijack the downstream connection, write the literal success
// line, then run the tunnel until either side closes.
func (h *Handler) handleConnect(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	authority := r.Host

	upstreamConn, err := h.upstream.DialTunnel(r.Context(), authority)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		proxyErr := classifyConnectError(err)
		writeProxyError(w, proxyErr)
		h.events.EmitRequestFinished(RequestFinishedEvent{
			IsConnect:  true,
			Method:     http.MethodConnect,
			Target:     authority,
			HTTPStatus: proxyErr.HTTPCode,
			DurationNs: time.Since(start).Nanoseconds(),
		})
		return
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		upstreamConn.Close()
		proxyErr := ErrInternalInvariant
		writeProxyError(w, proxyErr)
		return
	}

	clientConn, clientBuf, err := hijacker.Hijack()
	if err != nil {
		upstreamConn.Close()
		return
	}

	if _, err := clientBuf.WriteString("HTTP/1.1 200 Connection established\r\n\r\n"); err != nil {
		upstreamConn.Close()
		clientConn.Close()
		return
	}
	if err := clientBuf.Flush(); err != nil {
		upstreamConn.Close()
		clientConn.Close()
		return
	}

	clientReader, err := tunnelClientReader(clientConn, clientBuf.Reader)
	if err != nil {
		upstreamConn.Close()
		clientConn.Close()
		return
	}

	ingress, egress := runTunnel(clientConn, clientReader, upstreamConn)

	h.events.EmitRequestFinished(RequestFinishedEvent{
		IsConnect:  true,
		Method:     http.MethodConnect,
		Target:     authority,
		HTTPStatus: http.StatusOK,
		NetOK:      ingress > 0 || egress > 0,
		DurationNs: time.Since(start).Nanoseconds(),
	})
}

// runTunnel copies bytes in both directions between the downstream client
// and the upstream connection until one side's stream ends, then closes
// both ends. This realizes the teardown-symmetry invariant of spec ยง4.5:
// whichever direction finishes first schedules the other side's closure
// (here, via the shared defer/close calls below) rather than leaving a
// half-open tunnel.
func runTunnel(clientConn net.Conn, clientReader io.Reader, upstreamConn net.Conn) (ingress, egress int64) {
	egressDone := make(chan int64, 1)
	go func() {
		defer upstreamConn.Close()
		defer clientConn.Close()
		n, _ := io.Copy(upstreamConn, clientReader)
		egressDone <- n
	}()

	ingress, _ = io.Copy(clientConn, upstreamConn)
	clientConn.Close()
	upstreamConn.Close()
	egress = <-egressDone
	return ingress, egress
}

// tunnelClientReader returns a reader for the client->upstream direction
// that replays any bytes net/http already buffered past the CONNECT
// request line before Hijack() was called, so the tunnel stays byte-exact
// from the client's point of view.
func tunnelClientReader(clientConn net.Conn, buffered *bufio.Reader) (io.Reader, error) {
	if buffered == nil {
		return clientConn, nil
	}
	n := buffered.Buffered()
	if n == 0 {
		return clientConn, nil
	}
	prefetched := make([]byte, n)
	if _, err := io.ReadFull(buffered, prefetched); err != nil {
		return nil, err
	}
	return io.MultiReader(bytes.NewReader(prefetched), clientConn), nil
}
