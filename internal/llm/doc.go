// Package llm contains adapters for invoking large language models. It
// abstracts away provider-specific APIs behind a single Client interface and
// normalizes request/response lifecycles for the chain runtime.
package llm
