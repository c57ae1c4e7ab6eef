package eventhubscope

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/Azure/go-amqp"
	uuid "github.com/satori/go.uuid"
)

const (
	managementAddress = "$management"

	entityTypeEventHub      = "EventHub"
	entityTypeConsumerGroup = "ConsumerGroup"

	propEntityType  = "EntityType"
	propOwnerLevel  = "OwnerLevel"
	propTimeoutMs   = "Timeout"
	capTrackLastEnq = "com.microsoft:track-last-enqueued-event-information"
)

func nextShortID() string {
	return uuid.NewV4().String()[:8]
}

// linkName builds the "{scope};{connection}:{session}:{link}" format
// required by spec.md §3 and tested in spec.md §8.
func linkName(scopeID, connID, sessionID, linkID string) string {
	return fmt.Sprintf("%s;%s:%s:%s", scopeID, connID, sessionID, linkID)
}

// ManagementLink is a request/response link requiring no CBS refresh
// (spec.md §3 Link: "Management: ... no CBS refresh required").
type ManagementLink struct {
	name     string
	session  *amqp.Session
	sender   *amqp.Sender
	receiver *amqp.Receiver
	registry *activeLinkRegistry
}

// Name returns this link's "{scope};{conn}:{session}:{link}" identifier.
func (l *ManagementLink) Name() string { return l.name }

// Close detaches the link and session, releasing its registry entry. Safe
// to call more than once.
func (l *ManagementLink) Close(ctx context.Context) error {
	l.registry.remove(l)
	if err := l.sender.Close(ctx); err != nil {
		slog.Debug("closing management sender", "link", l.name, "error", err)
	}
	if err := l.receiver.Close(ctx); err != nil {
		slog.Debug("closing management receiver", "link", l.name, "error", err)
	}
	return l.session.Close(ctx)
}

// ProducerLink sends events to an entity or a specific partition.
type ProducerLink struct {
	name     string
	session  *amqp.Session
	sender   *amqp.Sender
	registry *activeLinkRegistry
}

func (l *ProducerLink) Name() string { return l.name }

// Send forwards a single message to the AMQP sender underneath this link.
func (l *ProducerLink) Send(ctx context.Context, msg *amqp.Message) error {
	return l.sender.Send(ctx, msg, nil)
}

func (l *ProducerLink) Close(ctx context.Context) error {
	l.registry.remove(l)
	if err := l.sender.Close(ctx); err != nil {
		slog.Debug("closing producer sender", "link", l.name, "error", err)
	}
	return l.session.Close(ctx)
}

// ConsumerLink receives events from one partition of one consumer group.
type ConsumerLink struct {
	name     string
	session  *amqp.Session
	receiver *amqp.Receiver
	registry *activeLinkRegistry
}

func (l *ConsumerLink) Name() string { return l.name }

// Receive pulls the next message off the underlying AMQP receiver.
func (l *ConsumerLink) Receive(ctx context.Context) (*amqp.Message, error) {
	return l.receiver.Receive(ctx, nil)
}

func (l *ConsumerLink) Close(ctx context.Context) error {
	l.registry.remove(l)
	if err := l.receiver.Close(ctx); err != nil {
		slog.Debug("closing consumer receiver", "link", l.name, "error", err)
	}
	return l.session.Close(ctx)
}

// linkRole identifies which of the three skeleton variants an opener call
// is running (spec.md §4.3: "three variants share a skeleton").
type linkRole int

const (
	roleManagement linkRole = iota
	roleProducer
	roleConsumer
)

func (r linkRole) claims() []string {
	switch r {
	case roleConsumer:
		return []string{"Listen"}
	case roleProducer:
		return []string{"Send"}
	default:
		return nil
	}
}

// openManagementLink runs the shared skeleton (spec.md §4.3) for the
// management role: no CBS claim, no refresh timer.
func openManagementLink(ctx context.Context, ft *faultTolerantConnection, scopeID, entity string, timeout time.Duration) (*ManagementLink, error) {
	dl := newDeadline(timeout)

	if err := checkCancelled(ctx, "openManagementLink"); err != nil {
		return nil, err
	}
	remaining, err := dl.remaining("acquire connection")
	if err != nil {
		return nil, err
	}
	connCtx, cancel := context.WithTimeout(ctx, remaining)
	active, err := ft.getOrCreate(connCtx, remaining)
	cancel()
	if err != nil {
		return nil, err
	}

	remaining, err = dl.remaining("open session")
	if err != nil {
		return nil, err
	}
	sessCtx, cancel := context.WithTimeout(ctx, remaining)
	session, err := active.conn.NewSession(sessCtx, nil)
	cancel()
	if err != nil {
		return nil, wrapLinkCreation("open management session", err)
	}

	name := linkName(scopeID, active.id, nextShortID(), nextShortID())

	remaining, err = dl.remaining("attach management sender")
	if err != nil {
		_ = session.Close(context.Background())
		return nil, err
	}
	senderCtx, cancel := context.WithTimeout(ctx, remaining)
	sender, err := session.NewSender(senderCtx, managementAddress, &amqp.SenderOptions{Name: name})
	cancel()
	if err != nil {
		_ = session.Close(context.Background())
		return nil, wrapLinkCreation("attach management sender", err)
	}

	remaining, err = dl.remaining("attach management receiver")
	if err != nil {
		_ = session.Close(context.Background())
		return nil, err
	}
	receiverCtx, cancel := context.WithTimeout(ctx, remaining)
	receiver, err := session.NewReceiver(receiverCtx, managementAddress, &amqp.ReceiverOptions{Name: name})
	cancel()
	if err != nil {
		_ = session.Close(context.Background())
		return nil, wrapLinkCreation("attach management receiver", err)
	}

	link := &ManagementLink{name: name, session: session, sender: sender, receiver: receiver, registry: active.registry}
	if err := active.registry.insert(link, nil); err != nil {
		_ = link.Close(context.Background())
		return nil, err
	}

	return link, nil
}

// openProducerLink runs the shared skeleton for the producer role,
// including the CBS claim and refresh-timer arming steps.
func openProducerLink(ctx context.Context, ft *faultTolerantConnection, scopeID, entity, endpoint string, credential TokenCredential, partitionID string, timeout time.Duration) (*ProducerLink, error) {
	dl := newDeadline(timeout)

	target := entity
	if partitionID != "" {
		target = fmt.Sprintf("%s/Partitions/%s", entity, partitionID)
	}
	audience := fmt.Sprintf("%s/%s", endpoint, target)

	if err := checkCancelled(ctx, "openProducerLink"); err != nil {
		return nil, err
	}
	remaining, err := dl.remaining("acquire connection")
	if err != nil {
		return nil, err
	}
	connCtx, cancel := context.WithTimeout(ctx, remaining)
	active, err := ft.getOrCreate(connCtx, remaining)
	cancel()
	if err != nil {
		return nil, err
	}

	remaining, err = dl.remaining("cbs authorization")
	if err != nil {
		return nil, err
	}
	expiryUTC, err := requestToken(ctx, active.cbs, credential, endpoint, audience, roleProducer.claims(), remaining)
	if err != nil {
		return nil, err
	}

	remaining, err = dl.remaining("open session")
	if err != nil {
		return nil, err
	}
	sessCtx, cancel := context.WithTimeout(ctx, remaining)
	session, err := active.conn.NewSession(sessCtx, nil)
	cancel()
	if err != nil {
		return nil, wrapLinkCreation("open producer session", err)
	}

	name := linkName(scopeID, active.id, nextShortID(), nextShortID())

	remaining, err = dl.remaining("attach producer link")
	if err != nil {
		_ = session.Close(context.Background())
		return nil, err
	}
	attachCtx, cancel := context.WithTimeout(ctx, remaining)
	sender, err := session.NewSender(attachCtx, target, &amqp.SenderOptions{
		Name: name,
		Properties: map[string]any{
			propEntityType: entityTypeEventHub,
			propTimeoutMs:  uint(remaining / time.Millisecond),
		},
	})
	cancel()
	if err != nil {
		_ = session.Close(context.Background())
		return nil, wrapLinkCreation("attach producer link", err)
	}

	link := &ProducerLink{name: name, session: session, sender: sender, registry: active.registry}

	timer := armRefreshTimer(audience, expiryUTC, func(refreshCtx context.Context) (time.Time, error) {
		return requestToken(refreshCtx, active.cbs, credential, endpoint, audience, roleProducer.claims(), refreshTimeout)
	})

	if err := active.registry.insert(link, timer); err != nil {
		timer.disarmAndDispose()
		_ = link.Close(context.Background())
		return nil, err
	}

	return link, nil
}

// openConsumerLink runs the shared skeleton for the consumer role.
func openConsumerLink(ctx context.Context, ft *faultTolerantConnection, scopeID, entity, endpoint string, credential TokenCredential, consumerGroup, partitionID string, position EventPosition, options ConsumerOptions, timeout time.Duration) (*ConsumerLink, error) {
	dl := newDeadline(timeout)

	source := fmt.Sprintf("%s/ConsumerGroups/%s/Partitions/%s", entity, consumerGroup, partitionID)
	audience := fmt.Sprintf("%s/%s", endpoint, source)

	if err := checkCancelled(ctx, "openConsumerLink"); err != nil {
		return nil, err
	}
	remaining, err := dl.remaining("acquire connection")
	if err != nil {
		return nil, err
	}
	connCtx, cancel := context.WithTimeout(ctx, remaining)
	active, err := ft.getOrCreate(connCtx, remaining)
	cancel()
	if err != nil {
		return nil, err
	}

	remaining, err = dl.remaining("cbs authorization")
	if err != nil {
		return nil, err
	}
	expiryUTC, err := requestToken(ctx, active.cbs, credential, endpoint, audience, roleConsumer.claims(), remaining)
	if err != nil {
		return nil, err
	}

	remaining, err = dl.remaining("open session")
	if err != nil {
		return nil, err
	}
	sessCtx, cancel := context.WithTimeout(ctx, remaining)
	session, err := active.conn.NewSession(sessCtx, nil)
	cancel()
	if err != nil {
		return nil, wrapLinkCreation("open consumer session", err)
	}

	name := linkName(scopeID, active.id, nextShortID(), nextShortID())

	properties := map[string]any{propEntityType: entityTypeConsumerGroup}
	if options.OwnerLevel != nil {
		properties[propOwnerLevel] = *options.OwnerLevel
	}

	var desiredCapabilities []string
	if options.TrackLastEnqueuedEventInformation {
		desiredCapabilities = append(desiredCapabilities, capTrackLastEnq)
	}

	remaining, err = dl.remaining("attach consumer link")
	if err != nil {
		_ = session.Close(context.Background())
		return nil, err
	}
	// go-amqp treats Credit 0 as "use the default credit with automatic
	// flow"; -1 selects manual credit, so no credit flows when auto-flow is
	// off (spec.md §8: autoFlow = prefetchCount > 0).
	credit := int32(options.PrefetchCount)
	if !options.autoFlow() {
		credit = -1
	}

	attachCtx, cancel := context.WithTimeout(ctx, remaining)
	receiver, err := session.NewReceiver(attachCtx, source, &amqp.ReceiverOptions{
		Name:                      name,
		Credit:                    credit,
		Properties:                properties,
		DesiredCapabilities:       desiredCapabilities,
		RequestedSenderSettleMode: amqp.SenderSettleModeSettled.Ptr(),
		Filters:                   []amqp.LinkFilter{amqp.NewSelectorFilter(position.toFilterExpression())},
	})
	cancel()
	if err != nil {
		_ = session.Close(context.Background())
		return nil, wrapLinkCreation("attach consumer link", err)
	}

	link := &ConsumerLink{name: name, session: session, receiver: receiver, registry: active.registry}

	timer := armRefreshTimer(audience, expiryUTC, func(refreshCtx context.Context) (time.Time, error) {
		return requestToken(refreshCtx, active.cbs, credential, endpoint, audience, roleConsumer.claims(), refreshTimeout)
	})

	if err := active.registry.insert(link, timer); err != nil {
		timer.disarmAndDispose()
		_ = link.Close(context.Background())
		return nil, err
	}

	return link, nil
}

// checkCancelled is the step-boundary cancellation check every public
// opener performs (spec.md §5: "polled at every step boundary").
func checkCancelled(ctx context.Context, op string) error {
	select {
	case <-ctx.Done():
		return wrapCancelled(op)
	default:
		return nil
	}
}
