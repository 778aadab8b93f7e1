// Package provider invokes model endpoints on behalf of pipeline stages.
//
// An Invoker owns every policy around a model call: the process-wide Throttle
// (concurrency cap, minimum interval, jitter, periodic cooldown), the
// RetryPolicy (exponential backoff on transient failures, then failover to
// the route's fallback endpoint), and output parsing with structural JSON
// repair. Expected failures never surface as Go errors from Invoke; they are
// reported through Result.Meta so that the caller can persist them.
//
// Every attempt is logged, counted in Metrics, and handed to an optional
// Recorder (the call journal).
package provider
