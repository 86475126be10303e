// Package core provides the foundational domain types, interfaces and error
// taxonomy used by Concierge. It defines the core abstractions for:
//
//   - Sessions (persistent conversational containers with ordered turn history)
//   - Turns (immutable request/response exchange records)
//   - Intents (closed-set classification results with confidence)
//   - Capabilities (registered domain actions invocable with structured input)
//   - Pluggable stores for session state and semantic memory recall
//
// The package intentionally keeps implementation concerns (providers,
// persistence, the workflow engine) out of scope, exposing small interfaces to
// enable custom backends and extensions.
package core
