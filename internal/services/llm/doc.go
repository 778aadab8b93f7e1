// Package llm provides single-attempt model backends for the cataloging stages.
//
// Two protocols are supported:
//   - Client speaks the OpenAI-compatible chat completions protocol used by
//     OpenRouter, OpenAI, and local gateways. Requests are sent in JSON mode
//     and images travel as data: URLs.
//   - AnthropicClient wraps the official Anthropic SDK Messages API with SDK
//     retries disabled.
//
// Both implement Backend. Neither retries: failures are reported as
// *StatusError or *EmptyContentError and IsTransient / RetryAfter tell the
// provider layer whether another attempt is worthwhile.
//
// # JSON Repair
//
// ParseJSON accepts the usual model output quirks: code
// fences, prose around the document, smart quotes, trailing commas, and
// documents truncated mid-string or mid-object. Payloads that still cannot be
// parsed wrap ErrUnrepairable.
package llm
