//go:build !windows

package main

import (
	"os"
	"syscall"
)

// shutdownSignals are the signals that stop serve gracefully.
var shutdownSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}
