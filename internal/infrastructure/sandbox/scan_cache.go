package sandbox

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/agentrt/core/internal/domain/skill"
)

// ScanCacheTTL bounds how long a scan verdict is trusted before the
// scanner re-derives it.
const ScanCacheTTL = 300 * time.Second

type scanCacheEntry struct {
	Report    *skill.ScanReport `json:"report"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// ScanCache is a process-wide, content-hash-keyed TTL cache of scan
// verdicts, persisted as a JSON map under the cache directory so a
// process restart doesn't force a full re-scan of every installed skill.
type ScanCache struct {
	mu      sync.Mutex
	path    string
	entries map[string]scanCacheEntry
}

// NewScanCache loads any existing cache file at path (cacheDir/scan_cache.json);
// a missing or corrupt file just starts empty rather than failing, since
// the cache is a pure optimization.
func NewScanCache(cacheDir string) *ScanCache {
	c := &ScanCache{
		path:    filepath.Join(cacheDir, "scan_cache.json"),
		entries: make(map[string]scanCacheEntry),
	}
	c.load()
	return c
}

func (c *ScanCache) load() {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return
	}
	var entries map[string]scanCacheEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return
	}
	c.entries = entries
}

// Get returns the cached report for hash if present and not expired.
func (c *ScanCache) Get(hash string) (*skill.ScanReport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[hash]
	if !ok || time.Now().After(entry.ExpiresAt) {
		return nil, false
	}
	return entry.Report, true
}

// Put stores report under hash with a fresh TTL and persists the cache.
func (c *ScanCache) Put(hash string, report *skill.ScanReport) {
	c.mu.Lock()
	c.entries[hash] = scanCacheEntry{Report: report, ExpiresAt: time.Now().Add(ScanCacheTTL)}
	c.mu.Unlock()
	c.persist()
}

// persist writes the cache out via a temp-file-then-rename so a crash
// mid-write never leaves a truncated cache file behind.
func (c *ScanCache) persist() {
	c.mu.Lock()
	data, err := json.Marshal(c.entries)
	c.mu.Unlock()
	if err != nil {
		return
	}
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return
	}
	tmp, err := os.CreateTemp(dir, "scan_cache-*.tmp")
	if err != nil {
		return
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return
	}
	tmp.Close()
	_ = os.Rename(tmpName, c.path)
}

// Prune drops expired entries and persists the result; callers may run
// this periodically to keep the on-disk file from growing unbounded.
func (c *ScanCache) Prune() {
	c.mu.Lock()
	now := time.Now()
	for hash, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			delete(c.entries, hash)
		}
	}
	c.mu.Unlock()
	c.persist()
}
