// Command baseplated is a thin embedding entry point for the BasePlate
// module host core: it supplies a configuration path, constructs an
// OSManager over the statically linked search roots, boots it, and runs
// until signalled. Concrete modules are wired in wireSearchRoots; this
// binary itself carries no domain logic.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/baseplate-systems/baseplate"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	zapLogger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "baseplated: failed to construct logger: %v\n", err)
		os.Exit(1)
	}
	defer zapLogger.Sync()
	logger := baseplate.NewZapLogger(zapLogger)

	manager := baseplate.NewOSManager(
		baseplate.WithLogger(logger),
		baseplate.WithSearchRoots(wireSearchRoots()...),
		baseplate.WithHealthCacheSize(32),
	)

	if err := manager.Construct(*configPath); err != nil {
		logger.Error("construct failed", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if err := manager.Boot(ctx); err != nil {
		var bootErr *baseplate.BootError
		if asBootError(err, &bootErr) {
			logger.Error("boot failed", "phase", string(bootErr.Phase), "module", bootErr.Module, "error", bootErr.Err)
		} else {
			logger.Error("boot failed", "error", err)
		}
		os.Exit(1)
	}

	if err := manager.Run(ctx); err != nil {
		logger.Error("shutdown completed with errors", "error", err)
		os.Exit(1)
	}

	os.Exit(0)
}

func asBootError(err error, target **baseplate.BootError) bool {
	if b, ok := err.(*baseplate.BootError); ok {
		*target = b
		return true
	}
	return false
}

// wireSearchRoots returns the statically linked module factories, highest
// priority first. This embedding binary ships no concrete modules of its
// own (those are explicitly out of scope — see spec.md §1); an embedder
// copying this command adds its module factories here, split across a
// "user" root and a "builtin" root as needed for override behaviour.
func wireSearchRoots() []baseplate.SearchRoot {
	return []baseplate.SearchRoot{
		{Name: "builtin", Factories: nil},
	}
}
