//go:build windows

package utils

import (
	"os/exec"
	"strconv"
)

// setProcGroup is a no-op on Windows; killTree falls back to taskkill.
func setProcGroup(cmd *exec.Cmd) {}

// killTree terminates the process tree with taskkill /T.
func killTree(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	kill := exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(cmd.Process.Pid))
	if err := kill.Run(); err != nil {
		_ = cmd.Process.Kill()
	}
}
