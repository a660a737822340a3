//go:build linux

package sandbox

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// seccompReexecEnv flags the re-exec'd copy of this binary: install the
// filter, then replace the process image with the real target. Seccomp
// filters survive execve by design, which is the only reason this works —
// there is no other hook point in os/exec between fork and exec.
const seccompReexecEnv = "SANDBOX_SECCOMP_REEXEC"
const seccompReexecArg = "__sandbox_seccomp_init__"

func init() {
	if os.Getenv(seccompReexecEnv) == "1" {
		reexecSeccompChild()
	}
}

// reexecSeccompChild never returns: it either execve's into the real
// target or exits with a shell-style failure code.
func reexecSeccompChild() {
	if len(os.Args) < 3 || os.Args[1] != seccompReexecArg {
		os.Exit(127)
	}
	target := os.Args[2:]

	env := make([]string, 0, len(os.Environ()))
	for _, e := range os.Environ() {
		if !strings.HasPrefix(e, seccompReexecEnv+"=") {
			env = append(env, e)
		}
	}

	if err := installSeccompFilter(); err != nil {
		fmt.Fprintln(os.Stderr, "sandbox: seccomp install failed:", err)
		os.Exit(126)
	}

	path, err := exec.LookPath(target[0])
	if err != nil {
		os.Exit(127)
	}
	_ = syscall.Exec(path, target, env)
	os.Exit(127)
}

// wrapForSeccomp rewrites cmd to re-exec this binary, install the filter,
// and chain-exec into the original target. No-op (returns false) on
// architectures where the filter program can't be built.
func wrapForSeccomp(cmd *exec.Cmd) (bool, error) {
	if sysSocketNr < 0 {
		return false, nil
	}
	self, err := os.Executable()
	if err != nil {
		return false, err
	}
	realArgv := append([]string{cmd.Path}, cmd.Args[1:]...)
	cmd.Path = self
	cmd.Args = append([]string{self, seccompReexecArg}, realArgv...)
	cmd.Env = append(cmd.Env, seccompReexecEnv+"=1")
	return true, nil
}

// installSeccompFilter loads a minimal seccomp-bpf program that denies
// socket(AF_UNIX, ...) and allows everything else. Blocking AF_UNIX closes
// off the abstract-socket / D-Bus escape route while leaving AF_INET open
// so a skill can still reach the loopback NetProxy.
func installSeccompFilter() error {
	prog := buildUnixSocketDenyProgram()
	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("PR_SET_NO_NEW_PRIVS: %w", err)
	}
	if err := unix.Prctl(unix.PR_SET_SECCOMP, unix.SECCOMP_MODE_FILTER, uintptr(unsafe.Pointer(prog)), 0, 0); err != nil {
		return fmt.Errorf("PR_SET_SECCOMP: %w", err)
	}
	return nil
}

// buildUnixSocketDenyProgram assembles the raw cBPF instructions against
// the kernel's seccomp_data layout:
//
//	int      nr                     offset 0
//	uint32   arch                   offset 4
//	uint64   instruction_pointer    offset 8
//	uint64   args[6]                offset 16, 8 bytes each
//
// Program: load arch; if arch mismatches this build's target, allow
// (never kill on an arch we didn't validate); load nr; if not
// socket(2), allow; load args[0] (the address-family); if AF_UNIX,
// deny with EPERM; else allow.
func buildUnixSocketDenyProgram() *unix.SockFprog {
	const (
		offNr     = 0
		offArch   = 4
		offArg0   = 16
		retAllow  = unix.SECCOMP_RET_ALLOW
		retDenied = unix.SECCOMP_RET_ERRNO | (uint32(syscall.EPERM) & 0xffff)
	)

	// jf offsets are relative to the instruction after the jump — each
	// mismatch skips straight to the trailing ALLOW at index 7.
	filters := []unix.SockFilter{
		{Code: unix.BPF_LD | unix.BPF_W | unix.BPF_ABS, K: offArch},
		{Code: unix.BPF_JMP | unix.BPF_JEQ | unix.BPF_K, K: uint32(auditArch), Jt: 0, Jf: 5},
		{Code: unix.BPF_LD | unix.BPF_W | unix.BPF_ABS, K: offNr},
		{Code: unix.BPF_JMP | unix.BPF_JEQ | unix.BPF_K, K: uint32(sysSocketNr), Jt: 0, Jf: 3},
		{Code: unix.BPF_LD | unix.BPF_W | unix.BPF_ABS, K: offArg0},
		{Code: unix.BPF_JMP | unix.BPF_JEQ | unix.BPF_K, K: uint32(unix.AF_UNIX), Jt: 0, Jf: 1},
		{Code: unix.BPF_RET | unix.BPF_K, K: retDenied},
		{Code: unix.BPF_RET | unix.BPF_K, K: retAllow},
	}

	return &unix.SockFprog{
		Len:    uint16(len(filters)),
		Filter: &filters[0],
	}
}
