package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Config is the resource/environment policy for a sandboxed command.
type Config struct {
	WorkDir       string        // working directory for the child process
	Timeout       time.Duration // wall-clock execution timeout
	AllowedBins   []string      // basenames permitted to run
	MemoryLimit   int64         // memory cap in bytes (advisory outside Linux cgroups/Windows Job Objects)
	EnableNetwork bool          // whether to forward proxy env vars and allow the net namespace out
	TempDir       string        // scratch directory for generated scripts
	PythonEnv     string        // conda/venv root to prepend onto PATH
}

// DefaultConfig returns the baseline policy for the general-purpose bash
// tool (as opposed to skill execution, which goes through Backend and
// layers namespace/seccomp/Seatbelt confinement on top of this).
func DefaultConfig() *Config {
	// Use the real user HOME as workdir — commands need to see ~/.ssh etc.
	// This sandbox gives process-group isolation and timeouts, not
	// filesystem isolation; Backend is what adds the latter for skills.
	homeDir, _ := os.UserHomeDir()
	if homeDir == "" {
		homeDir = "/tmp/ngoclaw-sandbox" // fallback only
	}
	return &Config{
		WorkDir: homeDir,
		Timeout: 30 * time.Second,
		AllowedBins: []string{
			"bash", "sh",
			"ls", "cat", "head", "tail", "grep", "awk", "sed",
			"find", "wc", "sort", "uniq", "cut", "tr",
			"cp", "mv", "rm", "mkdir", "touch", "chmod", "chown",
			"go", "python", "python3", "node", "npm", "npx",
			"git", "make", "cargo", "rustc",
			"pwd", "whoami", "date", "env", "echo", "printf",
			"curl", "wget",
			"ssh", "scp", "ssh-keygen", "ssh-copy-id", "sshpass",
			"systemctl", "journalctl", "docker", "ping", "ip", "ss",
			"tar", "gzip", "unzip", "rsync",
		},
		MemoryLimit:   512 * 1024 * 1024, // 512MB
		EnableNetwork: true,
		TempDir:       "/tmp/ngoclaw-sandbox-tmp",
	}
}

// ProcessSandbox runs commands in their own process group with a timeout
// and a curated environment. It is the cross-platform base that Backend
// layers real confinement (namespaces, seccomp, Seatbelt, Job Objects) on
// top of for skill execution.
type ProcessSandbox struct {
	config *Config
	logger *zap.Logger
}

// NewProcessSandbox creates a process sandbox, ensuring its work and temp
// directories exist.
func NewProcessSandbox(config *Config, logger *zap.Logger) (*ProcessSandbox, error) {
	if err := os.MkdirAll(config.WorkDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}
	if err := os.MkdirAll(config.TempDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	return &ProcessSandbox{config: config, logger: logger}, nil
}

// Result is the outcome of a sandboxed command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
	Killed   bool // true if the timeout fired
}

// Execute runs command with args under the sandbox's timeout and
// confinement policy.
func (s *ProcessSandbox) Execute(ctx context.Context, command string, args []string) (*Result, error) {
	return s.execute(ctx, command, args, true, nil)
}

// ExecuteConfined is Backend's entry point: it skips the AllowedBins
// check (skill interpreters are validated by the caller against the
// manifest instead) and layers the platform confinement described by req
// on top of the baseline process-group/timeout/env isolation.
func (s *ProcessSandbox) ExecuteConfined(ctx context.Context, command string, args []string, req confineRequest) (*Result, error) {
	return s.execute(ctx, command, args, false, func(cmd *exec.Cmd) error {
		return platformConfine(cmd, s, req)
	})
}

// execute is the shared path for Execute and ExecuteConfined. confine,
// when non-nil, replaces the default per-OS applyConfinement.
func (s *ProcessSandbox) execute(ctx context.Context, command string, args []string, checkAllowed bool, confine func(*exec.Cmd) error) (*Result, error) {
	startTime := time.Now()

	if checkAllowed && !s.isAllowed(command) {
		return nil, fmt.Errorf("command '%s' is not allowed", command)
	}

	cmdPath, err := exec.LookPath(command)
	if err != nil {
		return nil, fmt.Errorf("command not found: %s", command)
	}

	execCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, cmdPath, args...)
	cmd.Dir = s.config.WorkDir
	cmd.Env = s.buildEnvironment()

	if confine != nil {
		if err := confine(cmd); err != nil {
			return nil, fmt.Errorf("applying confinement: %w", err)
		}
	} else if err := s.applyConfinement(cmd); err != nil {
		return nil, fmt.Errorf("applying confinement: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	s.logger.Info("executing sandboxed command",
		zap.String("command", command),
		zap.Strings("args", args),
		zap.String("work_dir", s.config.WorkDir),
	)

	err = cmd.Run()

	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(startTime),
	}

	if execCtx.Err() == context.DeadlineExceeded {
		result.Killed = true
		result.ExitCode = -1
		s.logger.Warn("command killed due to timeout",
			zap.String("command", command),
			zap.Duration("timeout", s.config.Timeout),
		)
		return result, fmt.Errorf("command timed out after %v", s.config.Timeout)
	}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		} else {
			return result, fmt.Errorf("execution failed: %w", err)
		}
	}

	s.logger.Info("command completed",
		zap.String("command", command),
		zap.Int("exit_code", result.ExitCode),
		zap.Duration("duration", result.Duration),
	)

	return result, nil
}

// ExecuteScript writes script to a temp file and runs it via interpreter.
func (s *ProcessSandbox) ExecuteScript(ctx context.Context, interpreter string, script string) (*Result, error) {
	tmpFile, err := os.CreateTemp(s.config.TempDir, "script-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp script: %w", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.WriteString(script); err != nil {
		return nil, fmt.Errorf("failed to write script: %w", err)
	}
	tmpFile.Close()

	return s.Execute(ctx, interpreter, []string{tmpFile.Name()})
}

// ExecuteShell runs command through bash -c.
func (s *ProcessSandbox) ExecuteShell(ctx context.Context, command string) (*Result, error) {
	return s.Execute(ctx, "bash", []string{"-c", command})
}

func (s *ProcessSandbox) isAllowed(command string) bool {
	baseName := filepath.Base(command)
	for _, allowed := range s.config.AllowedBins {
		if allowed == baseName || allowed == command {
			return true
		}
	}
	return false
}

// buildEnvironment assembles the environment the child process sees.
func (s *ProcessSandbox) buildEnvironment() []string {
	sysPath := os.Getenv("PATH")
	if sysPath == "" {
		sysPath = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"
	}
	if s.config.PythonEnv != "" {
		envBin := filepath.Join(s.config.PythonEnv, "bin")
		sysPath = envBin + ":" + sysPath
	}

	realHome, _ := os.UserHomeDir()
	if realHome == "" {
		realHome = s.config.WorkDir
	}

	env := []string{
		"PATH=" + sysPath,
		"HOME=" + realHome,
		"TMPDIR=" + s.config.TempDir,
		"LANG=en_US.UTF-8",
		"LC_ALL=en_US.UTF-8",
		"USER=" + os.Getenv("USER"),
	}

	if s.config.PythonEnv != "" {
		env = append(env,
			"CONDA_PREFIX="+s.config.PythonEnv,
			"VIRTUAL_ENV="+s.config.PythonEnv,
		)
	}

	if s.config.EnableNetwork {
		if proxy := os.Getenv("HTTP_PROXY"); proxy != "" {
			env = append(env, "HTTP_PROXY="+proxy)
		}
		if proxy := os.Getenv("HTTPS_PROXY"); proxy != "" {
			env = append(env, "HTTPS_PROXY="+proxy)
		}
	}

	return env
}

// SetWorkDir changes the working directory for subsequent executions.
func (s *ProcessSandbox) SetWorkDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("invalid work dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("work dir is not a directory: %s", dir)
	}
	s.config.WorkDir = dir
	return nil
}

// GetWorkDir returns the current working directory.
func (s *ProcessSandbox) GetWorkDir() string {
	return s.config.WorkDir
}

// AddAllowedBin appends a basename to the allow list.
func (s *ProcessSandbox) AddAllowedBin(bin string) {
	s.config.AllowedBins = append(s.config.AllowedBins, bin)
}

// Cleanup removes any leftover generated script files.
func (s *ProcessSandbox) Cleanup() error {
	entries, err := os.ReadDir(s.config.TempDir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		path := filepath.Join(s.config.TempDir, entry.Name())
		if strings.HasPrefix(entry.Name(), "script-") {
			os.Remove(path)
		}
	}
	return nil
}
