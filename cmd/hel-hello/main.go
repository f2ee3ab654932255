// Command hel-hello exercises a minimal hel session end to end: it
// creates an executor, submits one action against a lane, and prints
// the completion it gets back. Real managarm targets aside, this is
// useful as a smoke test of the queue/executor/action wiring against
// the in-memory simulated kernel.
package main

import (
	"flag"
	"log"
	"os"
	"runtime"

	"github.com/managarm/hel"
	"github.com/managarm/hel/internal/logging"
	"github.com/managarm/hel/internal/uapi"
)

func main() {
	var (
		verbose  = flag.Bool("v", false, "verbose output")
		laneFlag = flag.Int64("lane", 1, "raw descriptor of the lane to greet")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	// EnterExecutor/CurrentExecutor pin the executor to this goroutine;
	// LockOSThread keeps the Go runtime from ever migrating it elsewhere.
	runtime.LockOSThread()

	k := hel.NewSimulatedKernel()
	executor, err := hel.NewExecutor(k, uapi.DefaultRingShift, uapi.DefaultNumChunks, uapi.DefaultChunkSize, logger)
	if err != nil {
		logger.Error("failed to create executor", "error", err)
		os.Exit(1)
	}

	guard := hel.EnterExecutor(executor)
	defer guard.Close()

	lane := hel.HandleFromRaw(*laneFlag)
	action := hel.SendBuffer{Data: []byte("hello, managarm")}

	logger.Info("submitting greeting", "lane", lane.Descriptor())
	result, err := hel.BlockOn(executor, hel.SubmitAsync(executor, lane, action))
	if err != nil {
		logger.Error("submission failed", "error", err)
		os.Exit(1)
	}

	simple, ok := result.(uapi.SimpleResult)
	if !ok {
		log.Fatalf("unexpected result shape %T", result)
	}
	logger.Info("greeting acknowledged", "error_code", simple.Error)

	// A zero-duration sleep always resolves immediately against the
	// simulated kernel's clock, which only advances when told to: this
	// just demonstrates the sleep path is wired, not real timing.
	if _, err := hel.BlockOn(executor, hel.SleepFor(executor, 0)); err != nil {
		logger.Error("sleep failed", "error", err)
		os.Exit(1)
	}
	logger.Info("done")
}
