// Package agentloop provides a convenience façade over the run-loop library:
// agents that call a language model, invoke tools, reason step by step,
// retain memory and persist their runs. Most applications interact with the
// library by:
//  1. Constructing a model adapter (model/openai, model/anthropic, or a
//     custom model.Model)
//  2. Creating an agent via New() with tools, memory and storage options
//  3. Calling Run (synchronous) or RunStream (streaming)
//
// The façade re-exports the agent package's entrypoints; the subpackages
// stay importable directly for anything beyond the defaults. All defaults
// are safe for local development: in-memory stores, no-op logging.
package agentloop

import (
	"github.com/agentloop/agentloop/agent"
)

// Agent is the user-facing orchestrator entity. See package agent.
type Agent = agent.Agent

// Options configures an Agent. See package agent.
type Options = agent.Options

// New creates an agent with sensible defaults. See agent.New.
var New = agent.New
