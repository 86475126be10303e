// Package workflow owns the lifecycle of one conversational turn: memory
// recall, intent classification, capability dispatch, response synthesis and
// memory write-back, tracked through a strictly forward state machine with a
// whole-turn deadline budget. The Engine is the surface transport handlers
// call; it serializes turns within a session while processing sessions
// concurrently and independently.
package workflow
