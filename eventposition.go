package eventhubscope

import (
	"fmt"
	"time"
)

// positionKind discriminates which field of EventPosition is meaningful.
type positionKind int

const (
	positionEarliest positionKind = iota
	positionLatest
	positionSequenceNumber
	positionOffset
	positionEnqueuedTime
)

// EventPosition is an opaque starting point for a consumer link (spec.md
// §3, GLOSSARY). The scope only ever consumes it through
// toFilterExpression; callers build one via the constructors below.
type EventPosition struct {
	kind           positionKind
	sequenceNumber int64
	offset         string
	enqueuedTime   time.Time
	inclusive      bool
}

// EarliestEventPosition starts a consumer link at the beginning of the
// partition's retained events.
func EarliestEventPosition() EventPosition {
	return EventPosition{kind: positionEarliest}
}

// LatestEventPosition starts a consumer link at the next event enqueued
// after the link attaches.
func LatestEventPosition() EventPosition {
	return EventPosition{kind: positionLatest}
}

// SequenceNumberEventPosition starts at a specific sequence number, inclusive
// or exclusive of that number itself.
func SequenceNumberEventPosition(sequenceNumber int64, inclusive bool) EventPosition {
	return EventPosition{kind: positionSequenceNumber, sequenceNumber: sequenceNumber, inclusive: inclusive}
}

// OffsetEventPosition starts at a specific service-defined offset, inclusive
// or exclusive of that offset itself.
func OffsetEventPosition(offset string, inclusive bool) EventPosition {
	return EventPosition{kind: positionOffset, offset: offset, inclusive: inclusive}
}

// EnqueuedTimeEventPosition starts at the first event enqueued strictly
// after the given UTC time.
func EnqueuedTimeEventPosition(enqueuedTimeUTC time.Time) EventPosition {
	return EventPosition{kind: positionEnqueuedTime, enqueuedTime: enqueuedTimeUTC}
}

// toFilterExpression renders the position as an Event-Hubs selector-filter
// expression, e.g. "amqp.annotation.x-opt-sequence-number > '123'" or
// "amqp.annotation.x-opt-offset >= '456'".
func (p EventPosition) toFilterExpression() string {
	op := func(strictOp, inclusiveOp string) string {
		if p.inclusive {
			return inclusiveOp
		}
		return strictOp
	}

	switch p.kind {
	case positionEarliest:
		return "amqp.annotation.x-opt-offset > '-1'"
	case positionLatest:
		return "amqp.annotation.x-opt-offset > '@latest'"
	case positionSequenceNumber:
		return fmt.Sprintf("amqp.annotation.x-opt-sequence-number %s '%d'", op(">", ">="), p.sequenceNumber)
	case positionOffset:
		return fmt.Sprintf("amqp.annotation.x-opt-offset %s '%s'", op(">", ">="), p.offset)
	case positionEnqueuedTime:
		millis := p.enqueuedTime.UTC().UnixMilli()
		return fmt.Sprintf("amqp.annotation.x-opt-enqueued-time > '%d'", millis)
	default:
		return "amqp.annotation.x-opt-offset > '-1'"
	}
}
