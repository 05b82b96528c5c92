package exec

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"k8s.io/klog/v2"
)

// Runner executes a shell command line and returns its output.
type Runner interface {
	Execute(ctx context.Context, command string) (stdout, stderr string, err error)
}

// CommandError is returned when a command exits unsuccessfully or cannot be
// started. ExitCode is -1 when the process never produced an exit status.
type CommandError struct {
	Command  string
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %q failed with exit code %d: %v (stderr: %s)",
		RedactPasswords(e.Command), e.ExitCode, e.Err, strings.TrimSpace(RedactPasswords(e.Stderr)))
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// HostRunner runs commands through bash, optionally inside the host's root
// namespaces and optionally prefixed with non-interactive sudo.
type HostRunner struct {
	// Nsenter runs the command in the namespaces of PID 1. The container
	// needs to run privileged with hostPID for this to work.
	Nsenter bool
	// Sudo prefixes the command with "sudo -n".
	Sudo bool
}

var _ Runner = HostRunner{}

// Execute executes the command
func (r HostRunner) Execute(ctx context.Context, command string) (stdout, stderr string, err error) {
	if r.Sudo {
		command = "sudo -n " + command
	}
	hostCommand := []string{"/bin/bash", "-c", command}
	if r.Nsenter {
		hostCommand = append([]string{"/usr/bin/nsenter", "-a", "-t 1"}, hostCommand...)
	}

	klog.V(2).Infof("Executing: %s", RedactPasswords(strings.Join(hostCommand, " ")))

	cmd := exec.CommandContext(ctx, hostCommand[0], hostCommand[1:]...)

	var outBuilder, errBuilder strings.Builder
	cmd.Stdout = &outBuilder
	cmd.Stderr = &errBuilder

	runErr := cmd.Run()

	klog.V(4).Infof("  stdout: %s", RedactPasswords(outBuilder.String()))
	klog.V(4).Infof("  stderr: %s", RedactPasswords(errBuilder.String()))

	if runErr != nil {
		klog.V(2).Infof("  err: %v", runErr)
		return outBuilder.String(), errBuilder.String(), &CommandError{
			Command:  command,
			Stdout:   outBuilder.String(),
			Stderr:   errBuilder.String(),
			ExitCode: exitCode(runErr),
			Err:      runErr,
		}
	}
	return outBuilder.String(), errBuilder.String(), nil
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
