package proxy

import (
	"net/http"
)

// EventEmitter receives per-request telemetry. Grounded on the teacher's
// internal/proxy/events.go; trimmed to the fields a single-tenant forward
// proxy actually has (no platform/account/node routing).
type EventEmitter interface {
	EmitRequestFinished(RequestFinishedEvent)
}

// RequestFinishedEvent is emitted at most once per inbound request, forward
// or CONNECT, when it finishes. Requests canceled by the client before an
// upstream response or tunnel exists, and CONNECT requests whose downstream
// connection cannot be hijacked, emit no event.
type RequestFinishedEvent struct {
	IsConnect  bool
	HTTPStatus int
	NetOK      bool
	DurationNs int64
	Method     string
	Target     string
}

// NoOpEventEmitter discards every event.
type NoOpEventEmitter struct{}

func (NoOpEventEmitter) EmitRequestFinished(RequestFinishedEvent) {}

// HandlerConfig wires the Handler's collaborators.
type HandlerConfig struct {
	Upstream         UpstreamClient
	HeaderMiddleware []Middleware
	ServerSoftware   string
	Events           EventEmitter
	// CopyBufferSize bounds the chunk size used to stream forward response
	// bodies downstream. This is the concrete "bounded chunk queue" of spec
	// ยง3 — io.CopyBuffer blocks on read and write in lock-step, so there is
	// never more than one buffer's worth of unconsumed data in flight.
	CopyBufferSize int
}

// Handler is the top-level http.Handler implementing the dual-mode request
// engine (spec ยง1): it classifies each inbound request (C3) and routes it
// to either the forward response pipeline (C4) or the CONNECT tunnel engine
// (C5).
type Handler struct {
	upstream   UpstreamClient
	middleware []Middleware
	software   string
	events     EventEmitter
	bufSize    int
}

// NewHandler builds a Handler from cfg, applying defaults.
func NewHandler(cfg HandlerConfig) *Handler {
	events := cfg.Events
	if events == nil {
		events = NoOpEventEmitter{}
	}
	chain := cfg.HeaderMiddleware
	if chain == nil {
		chain = []Middleware{XForwardedFor}
	}
	bufSize := cfg.CopyBufferSize
	if bufSize <= 0 {
		bufSize = 32 * 1024
	}
	return &Handler{
		upstream:   cfg.Upstream,
		middleware: chain,
		software:   cfg.ServerSoftware,
		events:     events,
		bufSize:    bufSize,
	}
}

// ServeHTTP implements C3's routing decision.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.software != "" {
		w.Header().Set("Server", h.software)
	}

	kind, classifyErr := Classify(r)
	if classifyErr != nil {
		writeProxyError(w, classifyErr)
		h.events.EmitRequestFinished(RequestFinishedEvent{
			Method:     r.Method,
			Target:     r.RequestURI,
			HTTPStatus: classifyErr.HTTPCode,
		})
		return
	}

	switch kind {
	case KindConnect:
		h.handleConnect(w, r)
	default:
		h.handleForward(w, r)
	}
}
