package eventhubscope

import "testing"

// Structural law (spec.md §8): autoFlow = (prefetchCount > 0).
func TestConsumerOptionsAutoFlow(t *testing.T) {
	cases := []struct {
		prefetch uint32
		want     bool
	}{
		{0, false},
		{1, true},
		{100, true},
	}
	for _, tc := range cases {
		got := ConsumerOptions{PrefetchCount: tc.prefetch}.autoFlow()
		if got != tc.want {
			t.Fatalf("autoFlow(prefetch=%d) = %v, want %v", tc.prefetch, got, tc.want)
		}
	}
}

func TestValidTransport(t *testing.T) {
	if err := validTransport(TCPTLS); err != nil {
		t.Fatalf("TCPTLS should be valid: %v", err)
	}
	if err := validTransport(WebSockets); err != nil {
		t.Fatalf("WebSockets should be valid: %v", err)
	}
	if err := validTransport(TransportKind(42)); err == nil {
		t.Fatal("expected an error for an unsupported transport kind")
	} else if !IsArgumentError(err) {
		t.Fatalf("expected an ArgumentError, got %T: %v", err, err)
	}
}
