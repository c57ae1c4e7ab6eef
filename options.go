package eventhubscope

import (
	"context"
	"net/url"
	"time"
)

// TransportKind selects the wire transport the ConnectionFactory negotiates.
// Mirrors the teacher's Mode enum (rabbit.go's Both/Consumer/Producer) in
// shape: a small closed set validated at construction time.
type TransportKind int

const (
	// TCPTLS dials the endpoint directly over TLS on port 5671 (or the
	// endpoint's own port, if set).
	TCPTLS TransportKind = iota
	// WebSockets tunnels AMQP over a wss:// WebSocket at
	// /$servicebus/websocket/.
	WebSockets
)

func (t TransportKind) String() string {
	switch t {
	case TCPTLS:
		return "tcp-tls"
	case WebSockets:
		return "websockets"
	default:
		return "unknown"
	}
}

func validTransport(t TransportKind) error {
	switch t {
	case TCPTLS, WebSockets:
		return nil
	default:
		return NewArgumentError("unsupported transport %d (want TCPTLS or WebSockets)", int(t))
	}
}

// ProxyConfig describes an optional forward proxy used only for the
// WebSockets transport (spec.md §6: "optional proxy for WebSockets only").
type ProxyConfig struct {
	// URL is the proxy's own endpoint, e.g. "socks5://127.0.0.1:1080" or
	// "http://127.0.0.1:8080".
	URL *url.URL
}

// TokenCredential is the external collaborator that produces CBS tokens.
// The scope never inspects or caches the raw token itself - it only
// threads it through a CBS claim negotiation and keeps the returned expiry.
type TokenCredential interface {
	// GetToken returns a raw token (opaque to the scope) valid for the given
	// audience scope, plus its absolute UTC expiry.
	GetToken(ctx context.Context, scope string) (token string, expiryUTC time.Time, err error)
}

// ScopeOption customizes Scope construction. Functional options matching
// the teacher's Options-struct-plus-defaults idiom, adapted to the
// variadic-option shape more common for constructors with few required
// knobs.
type ScopeOption func(*scopeConfig)

type scopeConfig struct {
	id    string
	proxy *ProxyConfig
}

// WithScopeID overrides the auto-generated "{entity}-{rand8hex}" scope id.
func WithScopeID(id string) ScopeOption {
	return func(c *scopeConfig) { c.id = id }
}

// WithProxy attaches a forward proxy, meaningful only when transport is
// WebSockets; New rejects it with an ArgumentError for TCPTLS.
func WithProxy(p ProxyConfig) ScopeOption {
	return func(c *scopeConfig) { c.proxy = &p }
}

// ConsumerOptions carries the fields spec.md §6 recognizes for consumer
// links.
type ConsumerOptions struct {
	// PrefetchCount sets link credit; AutoFlow is derived as
	// PrefetchCount > 0.
	PrefetchCount uint32

	// OwnerLevel, when non-nil, makes this an epoch consumer, displacing any
	// lower-epoch consumer on the same partition.
	OwnerLevel *int64

	// TrackLastEnqueuedEventInformation requests the corresponding desired
	// capability so the service annotates received messages with the
	// partition's last-enqueued sequence number/offset/time.
	TrackLastEnqueuedEventInformation bool
}

func (o ConsumerOptions) autoFlow() bool { return o.PrefetchCount > 0 }
