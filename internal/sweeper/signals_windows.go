//go:build windows

package sweeper

import (
	"os"
	"syscall"
)

// Signals lists the signals a long-running sweep listens for.
func Signals() []os.Signal {
	return []os.Signal{
		syscall.SIGINT,
		syscall.SIGTERM,
	}
}

// IsWakeSignal reports whether sig asks for an immediate sweep.
func IsWakeSignal(sig os.Signal) bool {
	return false
}
