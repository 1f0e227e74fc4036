// Package llm contains adapters for invoking large language models. It
// abstracts away provider-specific APIs behind a single Generate interface and
// provides tolerant JSON extraction for models that wrap structured answers in
// surrounding prose.
package llm
