// Package proxy implements Kestrel's forward-proxy data plane: parsing and
// classifying inbound requests, rewriting headers, streaming forward
// responses, and running the CONNECT tunnel.
package proxy
