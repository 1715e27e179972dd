// Package core contains the shared data model for agent runs: messages,
// tool call lifecycle records, reasoning steps, the Run/RunResponse records
// and the RunContext passed to the individual run steps.
//
// Types in this package are plain data carriers. Orchestration logic lives in
// the agent package; provider integration lives under model.
package core
