// Package chain implements the composition runtime: Runnable as the smallest
// invocable unit, Pipe for sequential composition, Parallel for fan-out, and
// Batch for worker-pool execution. Concrete steps adapt prompt templates,
// model clients, output parsers and tools into the Runnable shape.
package chain
