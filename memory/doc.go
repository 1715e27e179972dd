// Package memory implements long-term user memories and session summaries.
//
// Three model-backed components cooperate around a Db store:
//
//   - Classifier decides whether a user message deserves a new memory.
//   - Manager owns all writes, exposing add/update/delete/clear as tool
//     functions a model invokes during a single turn.
//   - Summarizer compresses the conversation into a SessionSummary once it
//     grows past a configurable threshold.
//
// AgentMemory ties them together and holds the per-session transcript an
// agent carries between runs.
package memory
