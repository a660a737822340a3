package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agentrt/core/internal/domain/skill"
	apperrors "github.com/agentrt/core/pkg/errors"
)

// readSkillFile reads a skill's entry-point source for scanning; a
// missing or unreadable file just yields an empty corpus contribution
// rather than failing the scan outright.
func readSkillFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}

// Level is the sandbox strictness a skill runs under.
type Level int

const (
	LevelNone     Level = 1 // no sandbox at all
	LevelConfined Level = 2 // confinement, no static scan
	LevelScanned  Level = 3 // confinement + static scan (default)
)

// DefaultLevel is the sandbox level used when a caller doesn't specify one.
const DefaultLevel = LevelScanned

// ResourceLimits caps what a single skill invocation may consume.
type ResourceLimits struct {
	MaxMemoryBytes int64
	WallClock      time.Duration
	MaxOpenFiles   int
}

// DefaultResourceLimits mirrors ProcessSandbox's own defaults so a caller
// that doesn't care can just pass this through.
func DefaultResourceLimits() ResourceLimits {
	return ResourceLimits{
		MaxMemoryBytes: 512 * 1024 * 1024,
		WallClock:      30 * time.Second,
		MaxOpenFiles:   256,
	}
}

// RuntimePaths are the directories a skill invocation is scoped to.
type RuntimePaths struct {
	SkillDir     string // the skill's own installed directory (read-only in spirit)
	WorkspaceDir string // the user's project workspace (read-write)
	OutputDir    string // the sandbox's designated write-output area
	TempDir      string // scratch space, cleared between runs
}

// SandboxConfig is the per-invocation policy derived from the skill's
// Manifest plus the caller's chosen Level.
type SandboxConfig struct {
	Level               Level
	Network             skill.NetworkPolicy
	AllowNetworkDomains []string
	DenyNetworkDomains  []string
	ScanCeiling         skill.Severity // default skill.SeverityHigh
}

// ExecutionResult is what Backend.Execute returns — a superset of Result
// that also carries the scan verdict and an explicit denial, distinct
// from a process-level failure.
type ExecutionResult struct {
	Stdout     string
	Stderr     string
	ExitCode   int
	Duration   time.Duration
	Killed     bool
	Denied     bool
	DenyReason string
	ScanReport *skill.ScanReport
}

// mandatoryDenyPaths are refused regardless of manifest or level — a
// skill never needs to touch these to do its job, and every one of them
// is a credential or control-plane surface.
var mandatoryDenyPaths = []string{
	".ssh", ".aws", ".gnupg", ".netrc", ".docker/config.json",
	"/etc/shadow", "/etc/passwd", "/etc/sudoers",
}

// processDenylist are interpreters/binaries a skill invocation may never
// launch directly, even at Level 1 — these can always reach outside the
// declared runtime paths regardless of confinement level.
var processDenylist = []string{
	"ssh", "scp", "sudo", "su", "doas", "mount", "umount",
	"systemctl", "docker", "kubectl", "nc", "ncat", "netcat",
}

// Backend is the façade for execute(skill_dir, runtime_paths,
// sandbox_config, input_payload, resource_limits) → ExecutionResult: it
// scans, confines, and runs a skill's entry point.
type Backend struct {
	proc    *ProcessSandbox
	scanner *Scanner
	logger  *zap.Logger
}

// NewBackend wires a Backend on top of an existing ProcessSandbox (the
// env/timeout/process-group base) and Scanner (the static-analysis gate).
func NewBackend(proc *ProcessSandbox, scanner *Scanner, logger *zap.Logger) *Backend {
	return &Backend{proc: proc, scanner: scanner, logger: logger}
}

// Execute runs a skill's interpreter+entryPoint with args, scoped to
// paths, under cfg's sandbox level, with inputPayload piped to stdin.
func (b *Backend) Execute(
	ctx context.Context,
	m skill.Manifest,
	paths RuntimePaths,
	cfg SandboxConfig,
	interpreter string,
	entryPoint string,
	args []string,
	inputPayload string,
	limits ResourceLimits,
) (*ExecutionResult, error) {
	if cfg.ScanCeiling == 0 {
		cfg.ScanCeiling = skill.SeverityHigh
	}

	if err := checkDenyPaths(paths); err != nil {
		return &ExecutionResult{Denied: true, DenyReason: err.Error()}, nil
	}
	if err := checkProcessDenylist(interpreter, entryPoint, args); err != nil {
		return &ExecutionResult{Denied: true, DenyReason: err.Error()}, nil
	}
	if err := checkMoveProtection(interpreter, args, paths.WorkspaceDir); err != nil {
		return &ExecutionResult{Denied: true, DenyReason: err.Error()}, nil
	}

	var report *skill.ScanReport
	if cfg.Level == LevelScanned {
		report = b.scanner.ScanText(scanCorpus(m, entryPoint, paths.SkillDir))
		if !b.scanner.Safe(report) {
			b.logger.Warn("skill execution denied by static scanner",
				zap.String("skill", m.Name), zap.Int("issues", len(report.Issues)))
			return &ExecutionResult{
				Denied:     true,
				DenyReason: apperrors.NewPolicyDenyError(ruleIDs(report)).Error(),
				ScanReport: report,
			}, nil
		}
	}

	execCtx := ctx
	if limits.WallClock > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, limits.WallClock)
		defer cancel()
	}

	if cfg.Level == LevelNone {
		res, err := b.proc.Execute(execCtx, interpreter, append([]string{entryPoint}, args...))
		return toExecutionResult(res, report), err
	}

	var proxyPort int
	var proxyCancel context.CancelFunc
	if cfg.Network == skill.NetworkLoopbackProxy {
		proxy, err := NewNetProxy(m, b.logger)
		if err != nil {
			return nil, apperrors.NewSandboxFailureError("starting loopback proxy", err)
		}
		proxyCtx, cancel := context.WithCancel(execCtx)
		proxyCancel = cancel
		go func() {
			if serveErr := proxy.Serve(proxyCtx); serveErr != nil {
				b.logger.Warn("netproxy stopped", zap.Error(serveErr))
			}
		}()
		proxyPort = proxy.Port()
	}
	if proxyCancel != nil {
		defer proxyCancel()
	}

	req := confineRequest{
		ReadPaths:    []string{paths.SkillDir, paths.WorkspaceDir},
		WritePaths:   []string{paths.WorkspaceDir, paths.OutputDir, paths.TempDir},
		AllowNetwork: cfg.Network != skill.NetworkDeny,
		ProxyPort:    proxyPort,
		UseSeccomp:   cfg.Level == LevelScanned,
		Strict:       cfg.Level >= LevelConfined,
	}

	res, err := b.proc.ExecuteConfined(execCtx, interpreter, append([]string{entryPoint}, args...), req)
	if err != nil {
		var sandboxErr error
		if execCtx.Err() == context.DeadlineExceeded {
			sandboxErr = apperrors.NewTimeoutError(fmt.Sprintf("skill %q exceeded its wall-clock limit", m.Name))
		} else {
			sandboxErr = apperrors.NewSandboxFailureError(fmt.Sprintf("skill %q execution failed", m.Name), err)
		}
		return toExecutionResult(res, report), sandboxErr
	}
	return toExecutionResult(res, report), nil
}

// confineRequest is the platform-neutral confinement ask; each GOOS's
// platformConfine interprets the fields it can act on.
type confineRequest struct {
	ReadPaths    []string
	WritePaths   []string
	AllowNetwork bool
	ProxyPort    int
	UseSeccomp   bool
	Strict       bool // refuse rather than run unconfined when isolation can't be set up
}

func toExecutionResult(res *Result, report *skill.ScanReport) *ExecutionResult {
	if res == nil {
		return &ExecutionResult{ScanReport: report}
	}
	return &ExecutionResult{
		Stdout:     res.Stdout,
		Stderr:     res.Stderr,
		ExitCode:   res.ExitCode,
		Duration:   res.Duration,
		Killed:     res.Killed,
		ScanReport: report,
	}
}

func ruleIDs(report *skill.ScanReport) []string {
	ids := make([]string, 0, len(report.Issues))
	for _, issue := range report.Issues {
		ids = append(ids, issue.RuleID)
	}
	return ids
}

// scanCorpus concatenates the manifest's declared fields with the entry
// point's own source so pattern rules see both the skill author's stated
// intent and its actual implementation.
func scanCorpus(m skill.Manifest, entryPoint, skillDir string) string {
	var sb strings.Builder
	sb.WriteString(m.Name)
	sb.WriteString("\n")
	sb.WriteString(m.Description)
	sb.WriteString("\n")
	sb.WriteString(m.Compatibility)
	sb.WriteString("\n")
	sb.WriteString(strings.Join(m.Packages, " "))
	sb.WriteString("\n")
	if entryPoint != "" {
		sb.WriteString(readSkillFile(filepath.Join(skillDir, entryPoint)))
	}
	return sb.String()
}

func checkDenyPaths(paths RuntimePaths) error {
	for _, candidate := range []string{paths.SkillDir, paths.WorkspaceDir, paths.OutputDir, paths.TempDir} {
		if candidate == "" {
			continue
		}
		for _, deny := range mandatoryDenyPaths {
			if strings.Contains(candidate, deny) {
				return fmt.Errorf("runtime path %q touches mandatory deny path %q", candidate, deny)
			}
		}
	}
	return nil
}

func checkProcessDenylist(interpreter, entryPoint string, args []string) error {
	candidates := append([]string{interpreter, entryPoint}, args...)
	for _, c := range candidates {
		base := filepath.Base(c)
		for _, denied := range processDenylist {
			if base == denied {
				return fmt.Errorf("process %q is on the sandbox denylist", base)
			}
		}
	}
	return nil
}

// checkMoveProtection guards the highest-priority case: a skill invoking mv/rename
// directly as its interpreter (rather than as a line inside a script,
// which the scanner covers) must stay inside the workspace — this blocks
// the common "move my own entry point over a file outside the workspace"
// escape.
func checkMoveProtection(interpreter string, args []string, workspaceRoot string) error {
	base := filepath.Base(interpreter)
	if base != "mv" && base != "rename" {
		return nil
	}
	if workspaceRoot == "" {
		return nil
	}
	for _, a := range args {
		if strings.HasPrefix(a, "-") {
			continue
		}
		abs, err := filepath.Abs(a)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(workspaceRoot, abs)
		if err != nil || strings.HasPrefix(rel, "..") {
			return fmt.Errorf("mv/rename destination %q escapes workspace %q", a, workspaceRoot)
		}
	}
	return nil
}
