//go:build windows

package main

import "os"

// shutdownSignals are the signals that stop serve gracefully. SIGTERM does
// not exist on Windows.
var shutdownSignals = []os.Signal{os.Interrupt}
