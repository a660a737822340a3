//go:build darwin

package sandbox

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
)

// applyConfinement on Darwin only isolates the process group — macOS has
// no user-namespace equivalent, so the real confinement happens one layer
// up in wrapForSeatbelt via sandbox-exec.
func (s *ProcessSandbox) applyConfinement(cmd *exec.Cmd) error {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true, Pgid: 0}
	return nil
}

// seatbelt.sb template: deny-by-default, with explicit allow clauses.
// (sandbox-exec / Seatbelt is deprecated by Apple but remains the only
// process-level MAC sandbox on macOS without installing a system
// extension.)
const seatbeltTemplate = `(version 1)
(deny default)
(allow process-fork)
(allow signal (target same-sandbox))
(allow file-read* (subpath "/usr/lib") (subpath "/System/Library") (subpath "/dev"))
(allow sysctl-read)
%s
%s
`

// wrapForSeatbelt rewrites cmd to run under sandbox-exec with a generated
// profile scoped to readPaths/writePaths, and denies all network unless
// allowNetwork is set (in which case the NetProxy's loopback port is the
// only reachable endpoint — enforced by the profile's allow clause, not
// by this Go code).
func wrapForSeatbelt(cmd *exec.Cmd, readPaths, writePaths []string, allowNetwork bool, proxyPort int) error {
	profile, err := writeSeatbeltProfile(readPaths, writePaths, allowNetwork, proxyPort)
	if err != nil {
		return fmt.Errorf("seatbelt profile: %w", err)
	}
	realArgv := append([]string{cmd.Path}, cmd.Args[1:]...)
	sandboxExec, err := exec.LookPath("sandbox-exec")
	if err != nil {
		return fmt.Errorf("sandbox-exec not found: %w", err)
	}
	cmd.Path = sandboxExec
	cmd.Args = append([]string{sandboxExec, "-f", profile}, realArgv...)
	return nil
}

// platformConfine sets the process group then wraps the command under
// sandbox-exec with a profile scoped to req's paths. When sandbox-exec
// itself is unavailable and req.Strict is set, it refuses rather than
// running unconfined.
func platformConfine(cmd *exec.Cmd, s *ProcessSandbox, req confineRequest) error {
	if err := s.applyConfinement(cmd); err != nil {
		return err
	}
	if err := wrapForSeatbelt(cmd, req.ReadPaths, req.WritePaths, req.AllowNetwork, req.ProxyPort); err != nil {
		if req.Strict {
			return fmt.Errorf("seatbelt confinement required but unavailable: %w", err)
		}
	}
	return nil
}

func writeSeatbeltProfile(readPaths, writePaths []string, allowNetwork bool, proxyPort int) (string, error) {
	var readClauses, writeClauses strings.Builder
	readClauses.WriteString("(allow file-read*")
	for _, p := range readPaths {
		fmt.Fprintf(&readClauses, " (subpath %q)", p)
	}
	readClauses.WriteString(")")

	writeClauses.WriteString("(allow file-write*")
	for _, p := range writePaths {
		fmt.Fprintf(&writeClauses, " (subpath %q)", p)
	}
	writeClauses.WriteString(")")

	body := fmt.Sprintf(seatbeltTemplate, readClauses.String(), writeClauses.String())
	if allowNetwork {
		body += fmt.Sprintf("(allow network* (remote ip \"localhost:%d\"))\n", proxyPort)
	}

	f, err := os.CreateTemp("", "ngoclaw-sandbox-*.sb")
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.WriteString(body); err != nil {
		return "", err
	}
	return filepath.Clean(f.Name()), nil
}
