package eventhubscope

import (
	"strings"
	"testing"
	"time"
)

func TestEventPositionFilterExpressions(t *testing.T) {
	cases := []struct {
		name     string
		position EventPosition
		want     string
	}{
		{"earliest", EarliestEventPosition(), "amqp.annotation.x-opt-offset > '-1'"},
		{"latest", LatestEventPosition(), "amqp.annotation.x-opt-offset > '@latest'"},
		{"sequence number exclusive", SequenceNumberEventPosition(123, false), "amqp.annotation.x-opt-sequence-number > '123'"},
		{"sequence number inclusive", SequenceNumberEventPosition(123, true), "amqp.annotation.x-opt-sequence-number >= '123'"},
		{"offset exclusive", OffsetEventPosition("456", false), "amqp.annotation.x-opt-offset > '456'"},
		{"offset inclusive", OffsetEventPosition("456", true), "amqp.annotation.x-opt-offset >= '456'"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.position.toFilterExpression(); got != tc.want {
				t.Fatalf("toFilterExpression() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestEventPositionEnqueuedTimeFilter(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	got := EnqueuedTimeEventPosition(at).toFilterExpression()
	if !strings.HasPrefix(got, "amqp.annotation.x-opt-enqueued-time > '") {
		t.Fatalf("unexpected enqueued-time filter: %q", got)
	}
}

// Structural law (spec.md §8): consumer source/producer target path
// composition.
func TestSourceAndTargetPathComposition(t *testing.T) {
	const entity = "eh"

	consumerSource := entity + "/ConsumerGroups/" + "$Default" + "/Partitions/" + "0"
	if want := "eh/ConsumerGroups/$Default/Partitions/0"; consumerSource != want {
		t.Fatalf("consumer source = %q, want %q", consumerSource, want)
	}

	producerTargetWhole := entity
	if want := "eh"; producerTargetWhole != want {
		t.Fatalf("producer target (whole entity) = %q, want %q", producerTargetWhole, want)
	}

	producerTargetPartition := entity + "/Partitions/" + "2"
	if want := "eh/Partitions/2"; producerTargetPartition != want {
		t.Fatalf("producer target (partition) = %q, want %q", producerTargetPartition, want)
	}
}
