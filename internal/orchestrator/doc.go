// Package orchestrator implements the per-state handler of the command
// sync workflow.
//
// Each accepted command runs through:
//
//	check_version -> [wait_prev_command] -> set_ttl_command -> history_copy
//	  -> transform_data -> sync_data (one per handler) -> finish
//
// The handler is stateless. Every call gets the command's change record
// and the name of the state to run, and returns the state's output for the
// workflow engine to route on.
package orchestrator
