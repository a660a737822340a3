package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/agentrt/core/internal/domain/entity"
)

// TranscriptStore appends entity.TranscriptEntry records as JSON lines to
// a date-segmented file per session: {dir}/{session}-{YYYY-MM-DD}.jsonl.
// A new day rolls to a new file automatically, the same rotation idea
// eventbus's PersistentBus applies to its WAL, just keyed by date instead
// of size.
type TranscriptStore struct {
	dir string

	mu          sync.Mutex
	sessionKey  string
	currentDate string
	file        *os.File
	writer      *bufio.Writer
}

// NewTranscriptStore opens a store rooted at dir for the given session,
// creating dir if it doesn't exist yet. The first Append call opens
// today's segment file.
func NewTranscriptStore(dir, sessionKey string) (*TranscriptStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}
	return &TranscriptStore{dir: dir, sessionKey: sessionKey}, nil
}

func (s *TranscriptStore) segmentPath(date string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s-%s.jsonl", s.sessionKey, date))
}

// rollLocked opens the segment file for today's date, closing any
// previously open segment first. Must be called with s.mu held.
func (s *TranscriptStore) rollLocked(now time.Time) error {
	date := now.Format("2006-01-02")
	if s.file != nil && date == s.currentDate {
		return nil
	}
	if s.writer != nil {
		_ = s.writer.Flush()
	}
	if s.file != nil {
		_ = s.file.Close()
	}

	f, err := os.OpenFile(s.segmentPath(date), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open transcript segment: %w", err)
	}
	s.file = f
	s.writer = bufio.NewWriterSize(f, 64*1024)
	s.currentDate = date
	return nil
}

// Append writes entry as a single JSON line, rolling to a new day's
// segment first if the date has changed since the last Append.
func (s *TranscriptStore) Append(entry entity.TranscriptEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.rollLocked(time.Now()); err != nil {
		return err
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal transcript entry: %w", err)
	}
	if _, err := s.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write transcript entry: %w", err)
	}
	return s.writer.Flush()
}

// ReadSegment reads every entry from the session's segment for the given
// date (format "2006-01-02"), in append order. A missing segment returns
// an empty slice rather than an error — nothing was journaled that day.
func (s *TranscriptStore) ReadSegment(date string) ([]entity.TranscriptEntry, error) {
	f, err := os.Open(s.segmentPath(date))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open transcript segment: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var entries []entity.TranscriptEntry
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry entity.TranscriptEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return entries, fmt.Errorf("scan transcript segment: %w", err)
	}
	return entries, nil
}

// Close flushes and closes the currently open segment, if any.
func (s *TranscriptStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writer != nil {
		_ = s.writer.Flush()
	}
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}
