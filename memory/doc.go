// Package memory provides core.MemoryStore implementations backing semantic
// recall of prior turns. InMemoryStore keeps vectors in a process-local map
// and suits tests and single-node deployments; subpackage sqlite persists
// records durably. Both delegate embedding to a core.Embedder (normally the
// provider gateway) and degrade to empty recall rather than failing a turn
// when the index cannot answer within its budget.
package memory
