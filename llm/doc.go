// Package llm normalizes chat-completion providers behind one Client
// interface.
//
// Every adapter produces the same session.Message shape and classifies
// failures into AuthenticationError, RateLimitError,
// ProviderUnavailableError and InvalidResponseError. Streaming responses
// are folded back into a message by Reassembler, which also separates
// <think> reasoning embedded in content. WithRetry adds exponential
// backoff for the retryable kinds.
package llm
