// Package storage persists completed runs. The orchestrator hands each
// finished Run to a RunStorage implementation; readers replay them later by
// run ID or enumerate sessions by user.
package storage
