// Package skill models the installed-skill data: the manifest a skill
// author ships, the derived tool schemas the loader synthesises from it, and
// the static-scan verdict attached once a scan has run. It is a sibling of
// domaintool (internal/domain/tool) the same way entity.Skill sits beside
// domain/tool in the runtime toggle model — this package owns the
// richer manifest-level Skill, entity.Skill remains the simpler
// enable/disable runtime record.
package skill

import "time"

// TrustTier reflects how much a skill has been vetted; drift in the
// integrity digest demotes it.
type TrustTier string

const (
	TrustUntrusted TrustTier = "untrusted"
	TrustReviewed  TrustTier = "reviewed"
	TrustVerified  TrustTier = "verified"
)

// NetworkPolicy controls what a skill's sandbox is allowed to reach.
type NetworkPolicy string

const (
	NetworkDeny         NetworkPolicy = "deny"
	NetworkLoopbackProxy NetworkPolicy = "loopback-proxy"
	NetworkAllowList    NetworkPolicy = "allow-list"
)

// Manifest is the declared content of a skill's SKILL.md front matter.
// Lifecycle: created externally at install time, loaded once at process
// start, stable for the process's lifetime.
type Manifest struct {
	Name          string
	Description   string
	Dir           string // directory this manifest was loaded from
	EntryPoint    string // optional single-script entry point, relative to Dir
	Compatibility string // e.g. "python>=3.10,requests,pandas"
	Packages      []string
	Network       NetworkPolicy
	AllowedTools  []string
	BashTool      bool
	TrustTier     TrustTier
	AllowNetworkDomains []string
	DenyNetworkDomains  []string
}

// Skill is the loaded runtime record for a Manifest: its integrity digest
// and current trust tier, which may have been demoted since load time.
type Skill struct {
	Manifest  Manifest
	Digest    string // first 128 bits of SHA-256(entry-point bytes + manifest bytes), hex
	LoadedAt  time.Time
	TrustTier TrustTier // current tier, may differ from Manifest.TrustTier after drift demotion
}

// ToolSchema is one JSON-Schema-bearing tool contributed by a skill.
type ToolSchema struct {
	Name        string // "{skill}" for single entry-point skills, "{skill}__{script}" otherwise
	Description string
	Parameters  map[string]interface{}
	ScriptPath  string // absolute path of the script/entry-point this tool invokes
	Interpreter string // "python" | "node" | "bash" | ...
	ReferenceOnly bool // true when the skill has no executable form (doc-only fallback)
}

// ScanReport is the Static Scanner's verdict, shared by the registry and
// the sandbox so re-scanning on every invocation is unnecessary — scan
// results are cached process-wide.
type ScanReport struct {
	Issues     []ScanIssue
	ComputedAt time.Time
	ContentHash string
}

// ScanIssue is a single pattern match found by the Static Scanner.
type ScanIssue struct {
	RuleID      string
	IssueType   string
	Severity    Severity
	Description string
	Line        int
}

// Severity is the scanner's Low < Medium < High < Critical ladder.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Safe reports whether the report clears the given ceiling: a file is safe
// iff no issue exceeds the scanner's configured ceiling.
func (r *ScanReport) Safe(ceiling Severity) bool {
	for _, issue := range r.Issues {
		if issue.Severity > ceiling {
			return false
		}
	}
	return true
}

// LoadedSkill is a Skill plus the tool schemas it contributes.
type LoadedSkill struct {
	Skill      Skill
	Tools      []ToolSchema
	ScanReport *ScanReport
}

// ContributesTool reports whether this skill owns the given tool name.
func (l *LoadedSkill) ContributesTool(name string) bool {
	for _, t := range l.Tools {
		if t.Name == name {
			return true
		}
	}
	return false
}
