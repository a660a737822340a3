package tool

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	domainskill "github.com/agentrt/core/internal/domain/skill"
	domaintool "github.com/agentrt/core/internal/domain/tool"
	"github.com/agentrt/core/internal/infrastructure/sandbox"
)

// frontMatter is the YAML block between the leading `---` markers of a
// SKILL.md file. Fields map directly onto domainskill.Manifest; anything
// the author omits keeps its Go zero value.
type frontMatter struct {
	Name          string   `yaml:"name"`
	Description   string   `yaml:"description"`
	EntryPoint    string   `yaml:"entry_point"`
	Compatibility string   `yaml:"compatibility"`
	Packages      []string `yaml:"packages"`
	Network       string   `yaml:"network"`
	AllowedTools  []string `yaml:"allowed_tools"`
	BashTool      bool     `yaml:"bash_tool"`
	TrustTier     string   `yaml:"trust_tier"`
	AllowDomains  []string `yaml:"allow_network_domains"`
	DenyDomains   []string `yaml:"deny_network_domains"`
}

// DependencyResolver is the three-tier lookup a skill's declared
// `compatibility`/`packages` go through before the manifest is trusted:
// a lock cache hit short-circuits the other two tiers, an LLM-assisted
// extraction pass proposes a package set that a registry HEAD check then
// confirms actually resolves, and a fixed whitelist is the last resort
// for offline or LLM-unavailable environments.
type DependencyResolver interface {
	LockedPackages(skillName string) ([]string, bool)
	ExtractPackages(manifestText string) ([]string, error)
	HeadCheck(pkg string) bool
}

// WhitelistResolver is the offline fallback tier: packages already known
// to be safe and commonly used, resolved with no network round trip.
var WhitelistResolver = []string{
	"requests", "pyyaml", "click", "rich", "pandas", "numpy",
}

// SkillManager discovers, loads, and manages skills from a directory tree.
// Skills are identified by a SKILL.md file in their root; a skill may
// nest an `_evolved/` subdirectory holding a newer manifest revision,
// which SkillManager prefers over the parent when present.
type SkillManager struct {
	skills   map[string]*domainskill.LoadedSkill
	skillDir string
	scanner  *sandbox.Scanner
	resolver DependencyResolver
	logger   *zap.Logger
	mu       sync.RWMutex
}

// NewSkillManager creates a skill manager, scans skillDir, and runs each
// discovered skill through scanner before it is made available. A nil
// scanner disables supply-chain scanning (tests, or a deployment that
// trusts its skill directory completely).
func NewSkillManager(skillDir string, scanner *sandbox.Scanner, resolver DependencyResolver, logger *zap.Logger) *SkillManager {
	m := &SkillManager{
		skills:   make(map[string]*domainskill.LoadedSkill),
		skillDir: skillDir,
		scanner:  scanner,
		resolver: resolver,
		logger:   logger,
	}
	m.scanInstalledSkills()
	return m
}

// scanInstalledSkills walks skillDir one level deep (each entry is a
// skill directory) and loads every manifest it finds.
func (m *SkillManager) scanInstalledSkills() {
	if m.skillDir == "" {
		return
	}

	entries, err := os.ReadDir(m.skillDir)
	if err != nil {
		return
	}

	for _, entry := range entries {
		skillPath := filepath.Join(m.skillDir, entry.Name())
		info, err := os.Stat(skillPath)
		if err != nil || !info.IsDir() {
			continue
		}

		loaded, err := m.loadSkillFromPath(skillPath)
		if err != nil {
			m.logger.Warn("skill load failed", zap.String("path", skillPath), zap.Error(err))
			continue
		}
		if loaded != nil {
			m.skills[loaded.Skill.Manifest.Name] = loaded
		}
	}
}

// resolveSkillRoot follows an `_evolved` descent: if dir/_evolved/SKILL.md
// exists, that subdirectory is the authoritative version and recursion
// continues into it so a chain of evolutions always lands on the latest.
func resolveSkillRoot(dir string) string {
	for {
		evolved := filepath.Join(dir, "_evolved")
		if info, err := os.Stat(filepath.Join(evolved, "SKILL.md")); err == nil && !info.IsDir() {
			dir = evolved
			continue
		}
		return dir
	}
}

// loadSkillFromPath parses dir/SKILL.md, computes the integrity digest,
// resolves dependencies, runs the static scanner, and builds the tool
// schemas the skill contributes.
func (m *SkillManager) loadSkillFromPath(dir string) (*domainskill.LoadedSkill, error) {
	dir = resolveSkillRoot(dir)
	manifestPath := filepath.Join(dir, "SKILL.md")
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	fm, body, err := parseFrontMatter(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing front matter: %w", err)
	}
	if fm.Name == "" {
		fm.Name = filepath.Base(dir)
	}
	if fm.Description == "" {
		fm.Description = firstNonEmptyLine(body)
	}

	manifest := domainskill.Manifest{
		Name:                fm.Name,
		Description:         fm.Description,
		Dir:                 dir,
		EntryPoint:          fm.EntryPoint,
		Compatibility:       fm.Compatibility,
		Packages:            fm.Packages,
		Network:             networkPolicyFromString(fm.Network),
		AllowedTools:        fm.AllowedTools,
		BashTool:            fm.BashTool,
		TrustTier:           trustTierFromString(fm.TrustTier),
		AllowNetworkDomains: fm.AllowDomains,
		DenyNetworkDomains:  fm.DenyDomains,
	}

	entryBytes := []byte{}
	if manifest.EntryPoint != "" {
		entryBytes, _ = os.ReadFile(filepath.Join(dir, manifest.EntryPoint))
	}
	digest := computeDigest(entryBytes, raw)

	resolved := manifest.Packages
	if m.resolver != nil {
		resolved = m.resolveDependencies(manifest)
	}
	manifest.Packages = resolved

	loaded := &domainskill.LoadedSkill{
		Skill: domainskill.Skill{
			Manifest:  manifest,
			Digest:    digest,
			LoadedAt:  time.Now(),
			TrustTier: manifest.TrustTier,
		},
	}

	if m.scanner != nil {
		corpus := scanCorpusFor(manifest, string(raw), entryBytes)
		report := m.scanner.ScanText(corpus)
		loaded.ScanReport = report
		if !m.scanner.Safe(report) {
			loaded.Skill.TrustTier = domainskill.TrustUntrusted
			m.logger.Warn("skill demoted by static scan",
				zap.String("skill", manifest.Name), zap.Int("issues", len(report.Issues)))
		}
	}

	loaded.Tools = buildToolSchemas(manifest, dir)
	return loaded, nil
}

// resolveDependencies runs the three-tier lookup: lock cache, then
// LLM-assisted extraction confirmed by a registry HEAD check, then the
// offline whitelist.
func (m *SkillManager) resolveDependencies(manifest domainskill.Manifest) []string {
	if locked, ok := m.resolver.LockedPackages(manifest.Name); ok {
		return locked
	}

	if manifest.Compatibility != "" {
		extracted, err := m.resolver.ExtractPackages(manifest.Compatibility)
		if err == nil {
			var confirmed []string
			for _, pkg := range extracted {
				if m.resolver.HeadCheck(pkg) {
					confirmed = append(confirmed, pkg)
				}
			}
			if len(confirmed) > 0 {
				return confirmed
			}
		}
	}

	var fallback []string
	for _, pkg := range manifest.Packages {
		for _, allowed := range WhitelistResolver {
			if pkg == allowed {
				fallback = append(fallback, pkg)
				break
			}
		}
	}
	return fallback
}

// buildToolSchemas derives one ToolSchema per executable surface a skill
// contributes: a single-entry-point skill promotes under its own name,
// while a scripts/ directory promotes each script as "{skill}__{script}".
func buildToolSchemas(m domainskill.Manifest, dir string) []domainskill.ToolSchema {
	var schemas []domainskill.ToolSchema

	if m.EntryPoint != "" {
		schemas = append(schemas, domainskill.ToolSchema{
			Name:        m.Name,
			Description: m.Description,
			Parameters:  defaultSkillParameters(),
			ScriptPath:  filepath.Join(dir, m.EntryPoint),
			Interpreter: interpreterFor(m.EntryPoint),
		})
	}

	scriptsDir := filepath.Join(dir, "scripts")
	entries, err := os.ReadDir(scriptsDir)
	if err != nil {
		if len(schemas) == 0 {
			schemas = append(schemas, domainskill.ToolSchema{
				Name:          m.Name,
				Description:   m.Description,
				ReferenceOnly: true,
			})
		}
		return schemas
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := filepath.Ext(name)
		interp := interpreterFor(name)
		if interp == "" {
			continue
		}
		scriptName := strings.TrimSuffix(name, ext)
		schemas = append(schemas, domainskill.ToolSchema{
			Name:        fmt.Sprintf("%s__%s", m.Name, scriptName),
			Description: fmt.Sprintf("%s: %s", scriptName, m.Description),
			Parameters:  defaultSkillParameters(),
			ScriptPath:  filepath.Join(scriptsDir, name),
			Interpreter: interp,
		})
	}
	return schemas
}

func defaultSkillParameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"args": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "positional arguments passed to the script",
			},
		},
	}
}

func interpreterFor(filename string) string {
	switch filepath.Ext(filename) {
	case ".py":
		return "python"
	case ".sh":
		return "bash"
	case ".js":
		return "node"
	default:
		return ""
	}
}

// Get returns a loaded skill by name.
func (m *SkillManager) Get(name string) *domainskill.LoadedSkill {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.skills[name]
}

// List returns every loaded skill, sorted by name for stable output.
func (m *SkillManager) List() []*domainskill.LoadedSkill {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*domainskill.LoadedSkill, 0, len(m.skills))
	for _, s := range m.skills {
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Skill.Manifest.Name < result[j].Skill.Manifest.Name
	})
	return result
}

// Reload re-scans skillDir, replacing the current skill set. Used by the
// plugin loader's fsnotify-driven hot-reload path.
func (m *SkillManager) Reload() {
	m.mu.Lock()
	m.skills = make(map[string]*domainskill.LoadedSkill)
	m.mu.Unlock()
	m.scanInstalledSkills()
}

// ToolPromoter is a dependency-inverted interface for registering a
// skill's derived tool schemas as executable tool backends.
type ToolPromoter interface {
	RegisterCommand(name, description, command string, aliases map[string][]string) error
}

// PromoteToTool registers every non-reference-only tool schema a skill
// contributes with promoter, returning the number promoted.
func (m *SkillManager) PromoteToTool(skillName string, promoter ToolPromoter) (int, error) {
	m.mu.RLock()
	loaded, exists := m.skills[skillName]
	m.mu.RUnlock()
	if !exists {
		return 0, fmt.Errorf("skill not found: %s", skillName)
	}

	promoted := 0
	for _, t := range loaded.Tools {
		if t.ReferenceOnly {
			continue
		}
		command := commandFor(t.Interpreter, t.ScriptPath)
		aliases := map[string][]string{
			"claude": {t.Name, toPascalCase(t.Name)},
			"gemini": {t.Name},
			"openai": {t.Name},
		}
		if err := promoter.RegisterCommand(t.Name, t.Description, command, aliases); err != nil {
			return promoted, fmt.Errorf("failed to register tool %s: %w", t.Name, err)
		}
		promoted++
	}
	if promoted == 0 {
		return 0, fmt.Errorf("skill %s has no promotable scripts", skillName)
	}
	return promoted, nil
}

func commandFor(interpreter, scriptPath string) string {
	switch interpreter {
	case "python":
		return "python3 " + scriptPath
	case "node":
		return "node " + scriptPath
	default:
		return "bash " + scriptPath
	}
}

// httpHeadResolver is the default DependencyResolver's registry-check
// tier: a plain HTTP HEAD against PyPI, treating any 2xx as "resolves".
type httpHeadResolver struct {
	client   *http.Client
	lockDir  string
	extractFn func(string) ([]string, error)
}

// NewHTTPDependencyResolver builds a DependencyResolver whose LockedPackages
// reads a per-skill JSON lock file from lockDir, whose ExtractPackages
// delegates to extractFn (typically an LLM call), and whose HeadCheck hits
// PyPI's simple index over HTTP.
func NewHTTPDependencyResolver(lockDir string, extractFn func(string) ([]string, error)) DependencyResolver {
	return &httpHeadResolver{
		client:    &http.Client{Timeout: 5 * time.Second},
		lockDir:   lockDir,
		extractFn: extractFn,
	}
}

func (r *httpHeadResolver) LockedPackages(skillName string) ([]string, bool) {
	if r.lockDir == "" {
		return nil, false
	}
	data, err := os.ReadFile(filepath.Join(r.lockDir, skillName+".lock"))
	if err != nil {
		return nil, false
	}
	pkgs := strings.Fields(string(data))
	if len(pkgs) == 0 {
		return nil, false
	}
	return pkgs, true
}

func (r *httpHeadResolver) ExtractPackages(manifestText string) ([]string, error) {
	if r.extractFn == nil {
		return nil, fmt.Errorf("no extraction function configured")
	}
	return r.extractFn(manifestText)
}

func (r *httpHeadResolver) HeadCheck(pkg string) bool {
	resp, err := r.client.Head("https://pypi.org/simple/" + pkg + "/")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func computeDigest(entryBytes, manifestBytes []byte) string {
	h := sha256.New()
	h.Write(entryBytes)
	h.Write(manifestBytes)
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16])
}

func scanCorpusFor(m domainskill.Manifest, manifestText string, entryBytes []byte) string {
	var sb strings.Builder
	sb.WriteString(manifestText)
	sb.WriteString("\n")
	sb.Write(entryBytes)
	return sb.String()
}

func parseFrontMatter(raw []byte) (frontMatter, string, error) {
	text := string(raw)
	if !strings.HasPrefix(text, "---") {
		return frontMatter{}, text, nil
	}
	rest := text[3:]
	end := strings.Index(rest, "\n---")
	if end == -1 {
		return frontMatter{}, text, nil
	}
	yamlBlock := rest[:end]
	body := strings.TrimPrefix(rest[end+4:], "\n")

	var fm frontMatter
	if err := yaml.Unmarshal([]byte(yamlBlock), &fm); err != nil {
		return frontMatter{}, body, err
	}
	return fm, body, nil
}

func firstNonEmptyLine(body string) string {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "#")
		line = strings.TrimSpace(line)
		if line != "" {
			return line
		}
	}
	return ""
}

func networkPolicyFromString(s string) domainskill.NetworkPolicy {
	switch s {
	case "loopback-proxy":
		return domainskill.NetworkLoopbackProxy
	case "allow-list":
		return domainskill.NetworkAllowList
	default:
		return domainskill.NetworkDeny
	}
}

func trustTierFromString(s string) domainskill.TrustTier {
	switch s {
	case "reviewed":
		return domainskill.TrustReviewed
	case "verified":
		return domainskill.TrustVerified
	default:
		return domainskill.TrustUntrusted
	}
}

func toPascalCase(s string) string {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == '_' || r == '-' })
	var result string
	for _, p := range parts {
		if len(p) > 0 {
			result += strings.ToUpper(p[:1]) + p[1:]
		}
	}
	return result
}

// RegistryToolPromoter implements ToolPromoter by wrapping every promoted
// skill script as a domaintool.Tool backed by the sandbox, registered
// directly into a domaintool.Registry. This is the production ToolPromoter;
// tests can supply a narrower fake instead.
type RegistryToolPromoter struct {
	registry domaintool.Registry
	sandbox  *sandbox.ProcessSandbox
	logger   *zap.Logger
}

// NewRegistryToolPromoter builds a promoter that runs skill scripts
// through sbx and registers them into reg.
func NewRegistryToolPromoter(reg domaintool.Registry, sbx *sandbox.ProcessSandbox, logger *zap.Logger) *RegistryToolPromoter {
	return &RegistryToolPromoter{registry: reg, sandbox: sbx, logger: logger}
}

// RegisterCommand registers name as a domaintool.Tool that runs command
// through the sandbox when called.
func (p *RegistryToolPromoter) RegisterCommand(name, description, command string, aliases map[string][]string) error {
	return p.registry.Register(&skillCommandTool{
		name:        name,
		description: description,
		command:     command,
		sandbox:     p.sandbox,
		logger:      p.logger,
	})
}

// skillCommandTool runs a promoted skill script's shell command through
// the sandbox, passing the caller's "args" parameter as extra words
// appended to the command line.
type skillCommandTool struct {
	name        string
	description string
	command     string
	sandbox     *sandbox.ProcessSandbox
	logger      *zap.Logger
}

func (t *skillCommandTool) Name() string          { return t.name }
func (t *skillCommandTool) Description() string   { return t.description }
func (t *skillCommandTool) Kind() domaintool.Kind { return domaintool.KindExecute }

func (t *skillCommandTool) Schema() map[string]interface{} {
	return defaultSkillParameters()
}

func (t *skillCommandTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	if t.sandbox == nil {
		return &Result{Success: false, Error: "sandbox unavailable"}, fmt.Errorf("sandbox unavailable")
	}

	full := t.command
	if raw, ok := args["args"].([]interface{}); ok {
		for _, a := range raw {
			full += " " + fmt.Sprintf("%v", a)
		}
	}

	t.logger.Info("executing skill script", zap.String("tool", t.name))

	result, err := t.sandbox.ExecuteShell(ctx, full)
	if err != nil {
		res := &Result{Success: false, Error: err.Error()}
		if result != nil {
			res.Output = result.Stderr
		}
		return res, nil
	}

	return &Result{
		Success: result.ExitCode == 0,
		Output:  result.Stdout,
		Metadata: map[string]interface{}{
			"exit_code": result.ExitCode,
			"duration":  result.Duration.String(),
		},
	}, nil
}
