//go:build linux && arm64

package sandbox

// AUDIT_ARCH_AARCH64 (linux/audit.h) and the raw socket(2) syscall number
// for this architecture. See confine_linux_amd64.go.
const (
	auditArch  = 0xC00000B7
	sysSocketNr = 198
)
