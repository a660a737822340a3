//go:build windows

package sandbox

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

// applyConfinement sets CREATE_NEW_PROCESS_GROUP so a timeout kill reaches
// the whole tree; the real confinement (Platform C) is a Job
// Object assigned in wrapForJobObject, or the WSL bridge when available.
func (s *ProcessSandbox) applyConfinement(cmd *exec.Cmd) error {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: windows.CREATE_NEW_PROCESS_GROUP}
	return nil
}

// wslAvailable reports whether wsl.exe is on PATH. The bridge is
// preferred over the Job Object fallback because it gives the skill a
// real Linux namespace/seccomp boundary instead of Windows' much coarser
// job-level CPU/memory/process-count limits.
func wslAvailable() bool {
	_, err := exec.LookPath("wsl.exe")
	return err == nil
}

// wrapForWSL rewrites cmd to run the interpreter+script inside the
// default WSL distribution.
func wrapForWSL(cmd *exec.Cmd) error {
	wsl, err := exec.LookPath("wsl.exe")
	if err != nil {
		return err
	}
	realArgv := append([]string{cmd.Path}, cmd.Args[1:]...)
	cmd.Path = wsl
	cmd.Args = append([]string{wsl, "--"}, realArgv...)
	return nil
}

// jobObject wraps a Windows Job Object configured to kill every process in
// it when the job handle closes, and to cap working-set size — the
// fallback confinement when WSL is unavailable.
type jobObject struct {
	handle windows.Handle
}

func newJobObject(memLimitBytes int64) (*jobObject, error) {
	handle, err := windows.CreateJobObject(nil, nil)
	if err != nil {
		return nil, fmt.Errorf("CreateJobObject: %w", err)
	}
	info := windows.JOBOBJECT_EXTENDED_LIMIT_INFORMATION{
		BasicLimitInformation: windows.JOBOBJECT_BASIC_LIMIT_INFORMATION{
			LimitFlags: windows.JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE | windows.JOB_OBJECT_LIMIT_PROCESS_MEMORY,
		},
		ProcessMemoryLimit: uintptr(memLimitBytes),
	}
	if _, err := windows.SetInformationJobObject(
		handle,
		windows.JobObjectExtendedLimitInformation,
		uintptr(unsafe.Pointer(&info)),
		uint32(unsafe.Sizeof(info)),
	); err != nil {
		windows.CloseHandle(handle)
		return nil, fmt.Errorf("SetInformationJobObject: %w", err)
	}
	return &jobObject{handle: handle}, nil
}

func (j *jobObject) assign(pid int) error {
	proc, err := windows.OpenProcess(windows.PROCESS_SET_QUOTA|windows.PROCESS_TERMINATE, false, uint32(pid))
	if err != nil {
		return fmt.Errorf("OpenProcess: %w", err)
	}
	defer windows.CloseHandle(proc)
	return windows.AssignProcessToJobObject(j.handle, proc)
}

func (j *jobObject) Close() error {
	return windows.CloseHandle(j.handle)
}

// platformConfine prefers the WSL bridge; it does not attempt the Job
// Object path here because exec.Cmd has no hook to assign a job after
// start without races. Without WSL, it refuses per refuseWithoutConfinement
// when req.Strict is set (NGOCLAW_SANDBOX_ALLOW_UNCONFINED overrides).
func platformConfine(cmd *exec.Cmd, s *ProcessSandbox, req confineRequest) error {
	if err := s.applyConfinement(cmd); err != nil {
		return err
	}
	if wslAvailable() {
		if err := wrapForWSL(cmd); err == nil {
			return nil
		}
	}
	if req.Strict {
		return refuseWithoutConfinement()
	}
	return nil
}

// refuseWithoutConfinement is returned by Backend.Execute when neither
// WSL nor the Job Object path is available and the caller has not set
// NGOCLAW_SANDBOX_ALLOW_UNCONFINED=1 — an explicit refusal is required
// rather than a silent unconfined run on this platform.
func refuseWithoutConfinement() error {
	if os.Getenv("NGOCLAW_SANDBOX_ALLOW_UNCONFINED") == "1" {
		return nil
	}
	return fmt.Errorf("no sandbox confinement available on this Windows host (no WSL, job object setup failed); set NGOCLAW_SANDBOX_ALLOW_UNCONFINED=1 to run unconfined anyway")
}
