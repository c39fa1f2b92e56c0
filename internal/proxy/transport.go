package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"net/textproto"
	"net/url"
	"time"

	"github.com/maypok86/otter"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/zeebo/xxh3"
)

// OutboundRequest is the request C1 built, ready for dispatch via C2.
type OutboundRequest struct {
	Method       string
	URL          string
	Headers      *OrderedHeaders
	Body         io.ReadCloser
	ProtoVersion string
	Expects100   bool
}

// UpstreamResponse is what C2 hands back to C4: status, headers, and a
// streaming body.
type UpstreamResponse struct {
	StatusCode int
	Status     string
	Headers    *OrderedHeaders
	Body       io.ReadCloser
}

// UpstreamClient is the contract the proxy needs from whatever HTTP client
// dependency reaches upstream (C2 — spec ยง4.3). Any implementation
// satisfying this interface is a valid collaborator; httpUpstreamClient is
// the default, built on a pooled *http.Transport per authority.
type UpstreamClient interface {
	// RoundTrip dispatches a forward request and returns once the upstream
	// response headers are available, streaming the body lazily. got1xx,
	// if non-nil, is invoked for every interim 1xx status (notably 100
	// Continue) observed before the final response — it never affects what
	// C4 sees as the response.
	RoundTrip(ctx context.Context, req *OutboundRequest, got1xx func(code int)) (*UpstreamResponse, error)
	// DialTunnel opens a raw TCP connection to authority ("host:port"),
	// emitting no HTTP request on it. This is the explicit "dial_only"
	// operation spec ยง9 asks for in place of the reference's
	// pre-connect-then-null-the-request pattern.
	DialTunnel(ctx context.Context, authority string) (net.Conn, error)
	// CloseIdle closes idle connections on every pooled transport. Exposed
	// so ambient housekeeping (internal/metrics's cron tick) can drop idle
	// upstream connections without reaching into the implementation; the
	// pooled per-host transports themselves are kept.
	CloseIdle()
}

// TransportConfig tunes the pooled outbound transports.
type TransportConfig struct {
	MaxIdleConns          int
	MaxIdleConnsPerHost   int
	IdleConnTimeout       time.Duration
	DialTimeout           time.Duration
	ExpectContinueTimeout time.Duration
	// FailureTTL bounds how long a host that just failed to dial is kept in
	// the circuit-breaker cache before being retried.
	FailureTTL time.Duration
}

func normalizeTransportConfig(cfg TransportConfig) TransportConfig {
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 1024
	}
	if cfg.MaxIdleConnsPerHost <= 0 {
		cfg.MaxIdleConnsPerHost = 64
	}
	if cfg.IdleConnTimeout <= 0 {
		cfg.IdleConnTimeout = 90 * time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.ExpectContinueTimeout <= 0 {
		cfg.ExpectContinueTimeout = time.Second
	}
	if cfg.FailureTTL <= 0 {
		cfg.FailureTTL = 5 * time.Second
	}
	return cfg
}

// httpUpstreamClient is the default UpstreamClient, built on pooled
// *http.Transport instances keyed by authority. Adapted from the teacher's
// OutboundTransportPool (internal/proxy/transport.go), stripped of
// sing-box's multi-outbound dialing in favor of a plain net.Dialer — there
// is exactly one upstream path in a forward proxy, not a routed fleet of
// outbounds.
type httpUpstreamClient struct {
	cfg        TransportConfig
	transports *xsync.Map[uint64, *http.Transport]
	dialer     *net.Dialer
	// failing remembers hosts whose most recent dial failed, so a burst of
	// requests to a dead upstream does not each pay a full dial timeout.
	failing otter.Cache[uint64, struct{}]
}

// NewHTTPUpstreamClient builds the default UpstreamClient.
func NewHTTPUpstreamClient(cfg TransportConfig) UpstreamClient {
	cfg = normalizeTransportConfig(cfg)
	failing, err := otter.MustBuilder[uint64, struct{}](4096).
		WithTTL(cfg.FailureTTL).
		Build()
	if err != nil {
		// otter only fails to build on invalid capacity; 4096 is always
		// valid, so this path is unreachable in practice.
		panic("proxy: failed to build circuit-breaker cache: " + err.Error())
	}
	return &httpUpstreamClient{
		cfg:        cfg,
		transports: xsync.NewMap[uint64, *http.Transport](),
		dialer:     &net.Dialer{Timeout: cfg.DialTimeout},
		failing:    failing,
	}
}

func hostKey(authority string) uint64 {
	return xxh3.HashString(authority)
}

func (c *httpUpstreamClient) transportFor(authority string) *http.Transport {
	key := hostKey(authority)
	t, _ := c.transports.LoadOrCompute(key, func() (*http.Transport, bool) {
		return &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				return c.dialer.DialContext(ctx, network, addr)
			},
			ForceAttemptHTTP2:     false,
			MaxIdleConns:          c.cfg.MaxIdleConns,
			MaxIdleConnsPerHost:   c.cfg.MaxIdleConnsPerHost,
			IdleConnTimeout:       c.cfg.IdleConnTimeout,
			ExpectContinueTimeout: c.cfg.ExpectContinueTimeout,
		}, false
	})
	return t
}

// Evict drops the pooled transport for authority, closing its idle
// connections. It is not part of UpstreamClient; the periodic job in
// internal/metrics calls CloseIdle, not Evict.
func (c *httpUpstreamClient) Evict(authority string) {
	key := hostKey(authority)
	if t, ok := c.transports.LoadAndDelete(key); ok {
		t.CloseIdleConnections()
	}
}

// CloseIdle closes idle connections on every pooled transport.
func (c *httpUpstreamClient) CloseIdle() {
	c.transports.Range(func(_ uint64, t *http.Transport) bool {
		t.CloseIdleConnections()
		return true
	})
}

func (c *httpUpstreamClient) RoundTrip(ctx context.Context, req *OutboundRequest, got1xx func(code int)) (*UpstreamResponse, error) {
	authority := authorityFromURL(req.URL)
	key := hostKey(authority)
	if _, recentlyFailed := c.failing.Get(key); recentlyFailed {
		return nil, &dialCircuitOpenError{authority: authority}
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, req.Body)
	if err != nil {
		return nil, err
	}
	httpReq.Proto = req.ProtoVersion
	req.Headers.ApplyTo(httpReq.Header)
	if req.Expects100 {
		httpReq.Header.Set("Expect", "100-continue")
	}

	if got1xx != nil {
		trace := &httptrace.ClientTrace{
			Got1xxResponse: func(code int, _ textproto.MIMEHeader) error {
				got1xx(code)
				return nil
			},
		}
		httpReq = httpReq.WithContext(httptrace.WithClientTrace(httpReq.Context(), trace))
	}

	transport := c.transportFor(authority)
	resp, err := transport.RoundTrip(httpReq)
	if err != nil {
		var opErr *net.OpError
		if errors.As(err, &opErr) && opErr.Op == "dial" {
			c.failing.Set(key, struct{}{})
		}
		return nil, err
	}

	return &UpstreamResponse{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Headers:    NewOrderedHeaders(resp.Header),
		Body:       resp.Body,
	}, nil
}

func (c *httpUpstreamClient) DialTunnel(ctx context.Context, authority string) (net.Conn, error) {
	key := hostKey(authority)
	if _, recentlyFailed := c.failing.Get(key); recentlyFailed {
		return nil, &dialCircuitOpenError{authority: authority}
	}
	conn, err := c.dialer.DialContext(ctx, "tcp", authority)
	if err != nil {
		c.failing.Set(key, struct{}{})
		return nil, err
	}
	return conn, nil
}

// dialCircuitOpenError is returned in place of re-attempting a dial to a
// host that failed within the last FailureTTL window.
type dialCircuitOpenError struct {
	authority string
}

func (e *dialCircuitOpenError) Error() string {
	return "proxy: " + e.authority + " recently failed to connect"
}

func (e *dialCircuitOpenError) Timeout() bool   { return false }
func (e *dialCircuitOpenError) Temporary() bool { return true }

// authorityFromURL extracts host:port from an absolute URL string.
func authorityFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	if u.Port() != "" {
		return u.Host
	}
	if u.Scheme == "https" {
		return u.Host + ":443"
	}
	return u.Host + ":80"
}
