// Package procutil provides the small amount of process-tree introspection
// the runtime harness needs to kill timed-out commands without leaking
// children.
package procutil

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// KillGroup sends SIGKILL to the entire process group led by pid. The caller
// must have started the process with Setpgid so the group exists.
func KillGroup(pid int) error {
	if pid <= 0 {
		return nil
	}
	err := syscall.Kill(-pid, syscall.SIGKILL)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

// Alive reports whether a process exists and is not a zombie.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	if zombie(pid) {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}

func zombie(pid int) bool {
	if _, err := os.Stat("/proc/self/stat"); err != nil {
		return zombieFromPS(pid)
	}
	b, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "stat"))
	if err != nil {
		return false
	}
	// State is the field after the parenthesized comm, which may itself
	// contain spaces and parens.
	line := string(b)
	closeIdx := strings.LastIndexByte(line, ')')
	if closeIdx < 0 || closeIdx+2 >= len(line) {
		return false
	}
	state := line[closeIdx+2]
	return state == 'Z' || state == 'X'
}

func zombieFromPS(pid int) bool {
	out, err := exec.Command("ps", "-o", "state=", "-p", strconv.Itoa(pid)).Output()
	if err != nil {
		return false
	}
	state := strings.TrimSpace(string(out))
	if state == "" {
		return false
	}
	return state[0] == 'Z' || state[0] == 'X'
}
