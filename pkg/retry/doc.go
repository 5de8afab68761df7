// Package retry provides exponential backoff for transient failures and
// transport reconnection.
//
// # Core API
//
//   - Do: run a function until it succeeds, with backoff between attempts
//   - Backoff: a stateful delay sequence for loops that own their own waiting,
//     such as a transport read loop that reconnects after the link drops
//
// # Presets
//
//   - DefaultConfig(): 3 attempts, 100ms-5s delay
//   - Reconnect(): unlimited attempts, 1s-30s delay
//
// # Usage
//
//	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
//	    return client.Set(ctx, key, value, ttl).Err()
//	})
//
//	backoff, _ := retry.NewBackoff(retry.Reconnect())
//	for {
//	    delay, ok := backoff.Next()
//	    if !ok {
//	        return errReconnectFailed
//	    }
//	    listener.ReconnectingIn(delay)
//	    ...
//	}
//
// Errors wrapped with NonRetryable stop Do immediately. Do respects context
// cancellation both while the operation runs and during the backoff delay.
package retry
