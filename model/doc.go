// Package model defines the polymorphic interface over concrete LLM
// providers. Adapters normalize provider wire formats into Request/Response
// values so the run loop never branches per vendor: tool invocations always
// surface as a {id, name, arguments} tuple and streamed output always arrives
// as a sequence of tagged Response events.
package model
