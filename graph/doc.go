// Package graph defines workflow graphs: steps, prioritized transitions,
// entry, pause and terminal markers and loop limits.
//
// A Definition is the serializable form (YAML or JSON). Compile validates a
// Definition and produces an immutable Graph that executors read
// concurrently without locking.
package graph
