/*
Package resilience provides the circuit breaker in front of remote model services.

A run issues a model call per batch for as long as reads keep arriving.
When the service goes away, the breaker opens after a run of failures and
calls fail immediately instead of each waiting out its own retries.

	breaker := resilience.New("model", resilience.Settings{Threshold: 5, Cooldown: 15 * time.Second})
	res, err := resilience.Call(ctx, breaker, func(ctx context.Context) ([]model.CallResult, error) {
		return client.call(ctx, chunks)
	})

States:

	closed --[Threshold failures]--> open --[Cooldown]--> half-open --[Probes successes]--> closed
	                                  ^                       |
	                                  +------[any failure]----+
*/
package resilience
