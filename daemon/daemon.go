// Package daemon manages running the trading loop as a detached background
// process with a PID file.
package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

const envFlag = "PERP_PILOT_DAEMON"

// IsDaemon reports whether this process was spawned by Start.
func IsDaemon() bool {
	return os.Getenv(envFlag) == "true"
}

// PIDPath returns the PID file location inside the state directory.
func PIDPath(stateDir string) string {
	return filepath.Join(stateDir, "perp-pilot.pid")
}

// Start re-execs the current binary in the background with the same
// arguments and records its PID.
func Start(stateDir string, args []string) error {
	if pid, running := runningPID(stateDir); running {
		return fmt.Errorf("already running with PID %d", pid)
	}

	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	cmd := exec.Command(execPath, args...)
	cmd.Env = append(os.Environ(), envFlag+"=true")
	cmd.Stdin = nil
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn daemon: %w", err)
	}

	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return fmt.Errorf("state dir: %w", err)
	}
	pidFile := PIDPath(stateDir)
	if err := os.WriteFile(pidFile, []byte(strconv.Itoa(cmd.Process.Pid)), 0o644); err != nil {
		return fmt.Errorf("write PID file: %w", err)
	}
	fmt.Printf("started with PID %d (%s)\n", cmd.Process.Pid, pidFile)
	return nil
}

// Stop terminates the recorded background process and removes the PID file.
func Stop(stateDir string) error {
	pidFile := PIDPath(stateDir)
	pid, err := readPID(pidFile)
	if err != nil {
		return err
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process %d: %w", pid, err)
	}
	if err := process.Kill(); err != nil {
		return fmt.Errorf("kill process %d: %w", pid, err)
	}
	if err := os.Remove(pidFile); err != nil {
		return fmt.Errorf("remove PID file: %w", err)
	}
	fmt.Printf("stopped PID %d\n", pid)
	return nil
}

// Restart stops any recorded process, then starts a fresh one.
func Restart(stateDir string, args []string) error {
	if err := Stop(stateDir); err != nil {
		fmt.Printf("warning: stop failed: %v\n", err)
	}
	return Start(stateDir, args)
}

func readPID(pidFile string) (int, error) {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return 0, fmt.Errorf("read PID file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse PID file %s: %w", pidFile, err)
	}
	return pid, nil
}

func runningPID(stateDir string) (int, bool) {
	pid, err := readPID(PIDPath(stateDir))
	if err != nil {
		return 0, false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return 0, false
	}
	// Signal 0 checks existence without touching the process.
	if err := process.Signal(syscall.Signal(0)); err != nil {
		return 0, false
	}
	return pid, true
}
