// Package state holds the mutable side of a workflow run: the execution
// context, step outcomes and the RunState value that the executor threads
// through every iteration and that checkpoints persist.
package state
