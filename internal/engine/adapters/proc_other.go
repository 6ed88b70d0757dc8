//go:build !unix

package adapters

import "os/exec"

// Without process groups the default CommandContext behaviour of killing the
// process itself applies.
func configureProcessGroup(*exec.Cmd) {}

func killProcessGroup(*exec.Cmd) {}
