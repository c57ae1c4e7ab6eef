package eventhubscope

import "context"

// mergeContext returns a context that is done when either caller or scope
// is done, realizing spec.md §5's "Scope disposal cancels an internal
// cancellation source used by the token credential wrapper, allowing
// in-flight token requests to abort" without requiring every opener to take
// two separate context parameters.
func mergeContext(caller, scope context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(caller)
	stop := make(chan struct{})

	go func() {
		select {
		case <-scope.Done():
			cancel()
		case <-stop:
		}
	}()

	return merged, func() {
		close(stop)
		cancel()
	}
}
