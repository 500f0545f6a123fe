//go:build windows

package util

import "os/exec"

// configureProcessGroup is a no-op on Windows; CommandContext kills the
// direct child only.
func configureProcessGroup(cmd *exec.Cmd) {}
