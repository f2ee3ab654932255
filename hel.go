// Package hel is a user-space client for the managarm microkernel's
// asynchronous IPC facility: shared-memory completion queues, owned
// kernel handles, a single-threaded cooperative executor, and
// compile-time-flavored action assembly for submitting IPC operations
// over a lane.
//
// A typical program creates one Executor, enters it on the current
// (locked) OS thread, and drives everything else through BlockOn:
//
//	ex, err := hel.NewExecutor(k, ringShift, numChunks, chunkSize, logger)
//	guard := hel.EnterExecutor(ex)
//	defer guard.Close()
//	result, err := hel.BlockOn(ex, someFuture)
//
// The package never talks to a real kernel directly; all syscall
// traffic goes through the internal/kernel.Kernel interface, which has
// a real Linux implementation, a stub for other platforms that fails
// every call as an unsupported operation, and a
// simulated implementation used by this module's own tests.
package hel
