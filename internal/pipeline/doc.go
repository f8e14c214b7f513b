// Package pipeline compiles and runs assembled build targets.
//
// A batch is a fixed pool of workers draining a queue of targets. Compiles are
// serialized by the Coordinator; runs proceed in parallel. Each target moves
// ASSEMBLED -> COMPILING -> COMPILED -> RUNNING -> SUCCEEDED, or to FAILED
// from COMPILING or RUNNING, and ends with exactly one Outcome in the Registry.
package pipeline
