//go:build !windows

package ipc

import "os/exec"

func configureAgentProcess(cmd *exec.Cmd) {}
