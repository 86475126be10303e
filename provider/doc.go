// Package provider abstracts the text-generation and embedding backends used
// by the orchestration core. It defines the Provider contract implemented by
// the vendor adapters (subpackages openai and anthropic) and the Gateway,
// which applies the timeout / retry / ordered-fallback policy on top of one
// or more providers. A MockProvider is included for deterministic tests.
package provider
