// Package workflow is the in-process execution core of the recommendation
// pipeline.
//
// A Graph is declared once with a Builder: nodes, static edges (a node with
// several predecessors is a join), conditional edges chosen by a Router, and
// at most one bounded self-loop. Compile rejects graphs whose shape cannot be
// executed safely, including two potentially concurrent writers of an
// overwrite field.
//
// State flows through a StateBag whose fields are declared in a Schema with
// one ReducerKind each. Accumulating fields (append, set-union, dict-union)
// keep each writer's contribution separately and fold them in writer order,
// so concurrent branches produce the same merged value whatever order they
// finish in.
//
// The Executor runs ready nodes on an ants worker pool. Each invocation is
// guarded by a timeout, panic recovery and an optional retry policy, and is
// reported to an EventSink through the Instrumenter. A failing node is
// isolated: its status and a warning are recorded and the graph continues,
// unless the node is Critical. Cancellation through a Canceller stops new
// launches and lets running nodes finish.
package workflow
