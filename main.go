// SPDX-License-Identifier: MIT
package main

import (
	"os"
	"runtime"

	"asiohost/cmd"
	applog "asiohost/internal/log"
	"asiohost/pkg/build"
)

// main wires the build information and hands over to the CLI. Streaming
// happens in the run command:
//
// 1. Startup (cold path): load config and registry, open and negotiate the
// driver, create buffers.
//
// 2. Streaming (hot path): the driver's buffer switches run the engine's
// process callback until a termination signal arrives.
//
// 3. Shutdown (cold path): stop the stream, finish any recording and
// release the driver.
func main() {
	if err := build.Initialize(); err != nil {
		applog.Debugf("development build: %v", err)
	}

	// One thread for the driver's switch callbacks, one for control and I/O.
	runtime.GOMAXPROCS(2)

	if err := cmd.Execute(); err != nil {
		applog.Errorf("%v", err)
		os.Exit(1)
	}
}
