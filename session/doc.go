// Package session provides core.SessionStore implementations. The in-memory
// store suits tests and single-node deployments; durable conversation
// persistence is a collaborator's concern reached through the same interface.
package session
