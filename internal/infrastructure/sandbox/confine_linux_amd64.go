//go:build linux && amd64

package sandbox

// AUDIT_ARCH_X86_64 (linux/audit.h) and the raw socket(2) syscall number
// for this architecture, needed by the seccomp-bpf program in
// linux_seccomp.go — the filter must check arch before nr since syscall
// numbers are not stable across architectures.
const (
	auditArch  = 0xC000003E
	sysSocketNr = 41
)
