/*
Package resilience provides the circuit breaker that guards descriptor fetches.

# States

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                       [failure]
	                                           v
	                                          Open

Closed passes requests through and counts failures. Open rejects them with
ErrCircuitOpen until Timeout elapses. Half-Open admits MaxRequests trial
requests; enough successes close the breaker, any failure reopens it.

# Usage

	breaker := resilience.New("oembed", resilience.Settings{
		Timeout: 30 * time.Second,
		ReadyToTrip: func(c resilience.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, protocol.ErrNotFound)
		},
	})

	desc, err := resilience.Call(ctx, breaker, func(ctx context.Context) (*Descriptor, error) {
		return fetch(ctx, target)
	})

Every transition advances a generation counter; results recorded against an
older generation are ignored.
*/
package resilience
