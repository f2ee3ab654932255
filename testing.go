package hel

import "github.com/managarm/hel/internal/kernel"

// SimulatedKernel is an in-memory stand-in for a real Hel kernel,
// usable directly by callers of this package the same way
// internal/kernel's tests use it: it implements the full Kernel
// interface, tracks per-method call counts, and can inject Cancelled
// or clock-driven behavior on demand.
type SimulatedKernel = kernel.SimulatedKernel

// NewSimulatedKernel creates an empty simulated kernel suitable for
// driving a Queue or Executor without a real managarm target.
func NewSimulatedKernel() *SimulatedKernel {
	return kernel.NewSimulatedKernel()
}

var _ kernel.Kernel = (*SimulatedKernel)(nil)
