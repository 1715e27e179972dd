// Package agent implements the run orchestrator: the control loop that takes
// a user message, composes the model transcript, optionally runs a reasoning
// sub-agent, issues the primary model call, drives tool round trips, updates
// memory and persists the finished run.
//
// The same state machine backs both execution modes. Run blocks and returns
// the single final RunResponse; RunStream yields content deltas and, when
// requested, intermediate reasoning and tool lifecycle events over a channel.
// Either way the persisted Run record is identical.
package agent
