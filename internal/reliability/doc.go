// Package reliability provides retry policies for broker calls.
//
// Policies decide whether a failed attempt is repeated and how long to wait
// first. Errors can opt out of retries by implementing IsRetryable() bool,
// directly or anywhere in their wrap chain.
//
// Example usage:
//
//	policy := NewExponentialBackoff(500*time.Millisecond, 10*time.Second, 2.0, 3)
//	err := Retry(ctx, policy, func() error {
//	    return connect()
//	})
package reliability
