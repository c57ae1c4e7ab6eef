// Package eventhubscope owns a single long-lived AMQP 1.0 connection to an
// Event-Hubs-style messaging service and multiplexes management, producer,
// and consumer links over it, driving Claims-Based Security token
// authorization and periodic refresh for every authorized link.
package eventhubscope

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	uuid "github.com/satori/go.uuid"
)

// Scope is bound to a single (endpoint, entity, credential, transport)
// tuple for its entire lifetime (spec.md §3).
type Scope struct {
	id         string
	endpoint   *url.URL
	entity     string
	credential TokenCredential
	transport  TransportKind

	conn *faultTolerantConnection

	mu       sync.Mutex
	disposed bool
	scopeCtx context.Context
	cancel   context.CancelFunc
}

// New constructs a Scope bound to endpoint/entity/credential/transport. The
// scope id defaults to "{entity}-{rand8hex}" (spec.md §3), reproducing the
// teacher's short-id idiom ("p-rabbit-" + uuid.NewV4().String()[0:8]) with
// entity in place of the teacher's fixed prefix.
func New(endpoint *url.URL, entity string, credential TokenCredential, transport TransportKind, opts ...ScopeOption) (*Scope, error) {
	if endpoint == nil || endpoint.Hostname() == "" {
		return nil, NewArgumentError("endpoint must be a non-nil URL with a host")
	}
	if entity == "" {
		return nil, NewArgumentError("entity must not be empty")
	}
	if credential == nil {
		return nil, NewArgumentError("credential must not be nil")
	}
	if err := validTransport(transport); err != nil {
		return nil, err
	}

	cfg := scopeConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.id == "" {
		cfg.id = entity + "-" + uuid.NewV4().String()[:8]
	}
	if transport == TCPTLS && cfg.proxy != nil {
		return nil, NewArgumentError("proxy is only supported for the WebSockets transport")
	}

	scopeCtx, cancel := context.WithCancel(context.Background())

	s := &Scope{
		id:         cfg.id,
		endpoint:   endpoint,
		entity:     entity,
		credential: credential,
		transport:  transport,
		conn:       newFaultTolerantConnection(endpoint, entity, transport, cfg.proxy, cfg.id),
		scopeCtx:   scopeCtx,
		cancel:     cancel,
	}
	return s, nil
}

// ID returns the scope's immutable identifier.
func (s *Scope) ID() string { return s.id }

// Endpoint returns the messaging endpoint this scope is bound to.
func (s *Scope) Endpoint() *url.URL { return s.endpoint }

// Entity returns the entity (event hub) name this scope is bound to.
func (s *Scope) Entity() string { return s.entity }

// IsDisposed reports whether Dispose has been called.
func (s *Scope) IsDisposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

func (s *Scope) assertNotDisposed() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return ErrDisposed
	}
	return nil
}

// OpenManagementLink opens a request/response link to the service's
// management address. Management links carry no CBS refresh (spec.md
// §4.3).
func (s *Scope) OpenManagementLink(ctx context.Context, timeout time.Duration) (*ManagementLink, error) {
	if err := s.assertNotDisposed(); err != nil {
		return nil, err
	}
	ctx, cancel := mergeContext(ctx, s.scopeCtx)
	defer cancel()
	return openManagementLink(ctx, s.conn, s.id, s.entity, timeout)
}

// OpenProducerLink opens a sending link targeting either the whole entity
// (partitionID == "") or a single partition.
func (s *Scope) OpenProducerLink(ctx context.Context, partitionID string, timeout time.Duration) (*ProducerLink, error) {
	if err := s.assertNotDisposed(); err != nil {
		return nil, err
	}
	ctx, cancel := mergeContext(ctx, s.scopeCtx)
	defer cancel()
	return openProducerLink(ctx, s.conn, s.id, s.entity, s.audience(), s.credential, partitionID, timeout)
}

// OpenConsumerLink opens a receiving link on one partition of one consumer
// group, starting at position, with the given prefetch/epoch/tracking
// options.
func (s *Scope) OpenConsumerLink(ctx context.Context, consumerGroup, partitionID string, position EventPosition, options ConsumerOptions, timeout time.Duration) (*ConsumerLink, error) {
	if err := s.assertNotDisposed(); err != nil {
		return nil, err
	}
	if consumerGroup == "" {
		return nil, NewArgumentError("consumerGroup must not be empty")
	}
	if partitionID == "" {
		return nil, NewArgumentError("partitionID must not be empty")
	}
	ctx, cancel := mergeContext(ctx, s.scopeCtx)
	defer cancel()
	return openConsumerLink(ctx, s.conn, s.id, s.entity, s.audience(), s.credential, consumerGroup, partitionID, position, options, timeout)
}

// audience is the base resource identity CBS claims are scoped to: the
// endpoint's own URI (spec.md §6: "a token credential exposing
// getToken(scope, cancellation)... whose scope is the endpoint URI").
func (s *Scope) audience() string {
	return strings.TrimSuffix(s.endpoint.String(), "/")
}

// Dispose tears the scope down: it marks the scope disposed, then disposes
// the fault-tolerant connection (which triggers the connection-close
// handler chain that safe-closes every tracked link), then cancels the
// scope-wide cancellation source. Idempotent, matching the teacher's Close()
// returning ErrShutdown instead of double-closing the underlying
// connection (spec.md §4.5 / §8: "dispose() is idempotent").
func (s *Scope) Dispose() error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil
	}
	s.disposed = true
	cancel := s.cancel
	s.mu.Unlock()

	s.conn.dispose(context.Background())
	cancel()
	return nil
}
