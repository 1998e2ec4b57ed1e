// Package update contains core domain types for the fleet update logic.
//
// It defines Workload (which managed image a digest belongs to), Versions
// (the last successfully applied digest per workload), Window (a backend
// maintenance window with midnight wrap), SelfUpdateOutcome (what the agent
// decided about its own pending update) and AuthState (registry login
// progress across pull attempts).
package update
