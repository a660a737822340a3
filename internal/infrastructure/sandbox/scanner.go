package sandbox

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"time"

	"github.com/agentrt/core/internal/domain/skill"
)

// scanRule is one pattern→(issue, severity) mapping. Generalized from
// SecurityHook's tool-name/command-prefix trust lists (domain/service
// security_hook.go) to source-pattern matching over a skill's manifest
// and script text.
type scanRule struct {
	id          string
	pattern     *regexp.Regexp
	issueType   string
	severity    skill.Severity
	description string
}

// defaultRules is the built-in supply-chain pattern set applied during
// dependency-resolution scans: piping a fetch straight into
// a shell, base64-decoded payloads, pastebin-style drop sites, and
// instructions that tell the model to run arbitrary terminal commands are
// the highest-severity signals because they bypass the tool-call audit
// trail entirely.
var defaultRules = []scanRule{
	{
		id:          "pipe-to-shell",
		pattern:     regexp.MustCompile(`\|\s*(ba)?sh\b`),
		issueType:   "pipe_to_shell",
		severity:    skill.SeverityCritical,
		description: "pipes a downloaded payload directly into a shell",
	},
	{
		id:          "curl-pipe-sh",
		pattern:     regexp.MustCompile(`(curl|wget)[^\n]*\|\s*(ba)?sh\b`),
		issueType:   "pipe_to_shell",
		severity:    skill.SeverityCritical,
		description: "fetches a remote script and executes it unreviewed",
	},
	{
		id:          "base64-decode-exec",
		pattern:     regexp.MustCompile(`base64\s+(-d|--decode)`),
		issueType:   "obfuscated_payload",
		severity:    skill.SeverityHigh,
		description: "decodes a base64 blob, a common obfuscation for hidden commands",
	},
	{
		id:          "pastebin-url",
		pattern:     regexp.MustCompile(`https?://(pastebin\.com|paste\.ee|hastebin\.com|ix\.io)/\S+`),
		issueType:   "suspicious_url",
		severity:    skill.SeverityHigh,
		description: "references a pastebin-style drop site",
	},
	{
		id:          "run-in-terminal-instruction",
		pattern:     regexp.MustCompile(`(?i)run (this|these|the following) command(s)? in (a|your) terminal`),
		issueType:   "prompt_injection",
		severity:    skill.SeverityCritical,
		description: "manifest text instructs the model to run commands outside tool calls",
	},
	{
		id:          "reverse-shell",
		pattern:     regexp.MustCompile(`(nc|ncat|netcat)\s+-[a-zA-Z]*e\b`),
		issueType:   "reverse_shell",
		severity:    skill.SeverityCritical,
		description: "spawns a shell bound to a network socket",
	},
	{
		id:          "credential-exfil-path",
		pattern:     regexp.MustCompile(`\.(ssh|aws|gnupg|netrc)\b`),
		issueType:   "credential_access",
		severity:    skill.SeverityHigh,
		description: "references a well-known credential store path",
	},
	{
		id:          "eval-remote-content",
		pattern:     regexp.MustCompile(`eval\s*\(\s*(requests|urllib|fetch|curl)`),
		issueType:   "obfuscated_payload",
		severity:    skill.SeverityHigh,
		description: "evaluates fetched content as code",
	},
}

// Scanner runs the rule table over skill source text and caches verdicts
// by content hash so repeat invocations of the same skill don't re-scan.
type Scanner struct {
	rules   []scanRule
	ceiling skill.Severity
	cache   *ScanCache
}

// NewScanner builds a Scanner with the default rule table plus any extra
// rules supplied by the caller (per-deployment additions), enforcing the
// given severity ceiling and backed by cache for the 300s TTL — scan
// results are cached process-wide.
func NewScanner(ceiling skill.Severity, cache *ScanCache, extra ...scanRule) *Scanner {
	rules := make([]scanRule, 0, len(defaultRules)+len(extra))
	rules = append(rules, defaultRules...)
	rules = append(rules, extra...)
	return &Scanner{rules: rules, ceiling: ceiling, cache: cache}
}

// ScanText scans content (manifest front matter plus any script bodies,
// concatenated) and returns a report. If cache holds a fresh verdict for
// the resulting content hash, that is returned without re-scanning.
func (s *Scanner) ScanText(content string) *skill.ScanReport {
	hash := contentHash(content)
	if s.cache != nil {
		if cached, ok := s.cache.Get(hash); ok {
			return cached
		}
	}

	lines := splitLines(content)
	var issues []skill.ScanIssue
	for _, rule := range s.rules {
		for lineNo, line := range lines {
			if rule.pattern.MatchString(line) {
				issues = append(issues, skill.ScanIssue{
					RuleID:      rule.id,
					IssueType:   rule.issueType,
					Severity:    rule.severity,
					Description: rule.description,
					Line:        lineNo + 1,
				})
			}
		}
	}

	report := &skill.ScanReport{
		Issues:      issues,
		ComputedAt:  time.Now(),
		ContentHash: hash,
	}
	if s.cache != nil {
		s.cache.Put(hash, report)
	}
	return report
}

// Safe reports whether report clears this scanner's configured ceiling.
func (s *Scanner) Safe(report *skill.ScanReport) bool {
	return report.Safe(s.ceiling)
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	lines = append(lines, s[start:])
	return lines
}
