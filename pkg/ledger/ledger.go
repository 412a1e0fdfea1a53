package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const ledgerFile = "uploads.json"

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Entry tracks one logical upload, keyed by its external id.
type Entry struct {
	ExternalID string    `json:"external_id"`
	File       string    `json:"file"`
	UploadID   int64     `json:"upload_id,omitempty"`
	ActivityID int64     `json:"activity_id,omitempty"`
	Status     Status    `json:"status"`
	Error      string    `json:"error,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Ledger remembers uploads across runs so that a retry of the same track
// resumes instead of posting it again.
type Ledger struct {
	Entries map[string]Entry `json:"entries"`
	Path    string           `json:"-"`
	mu      sync.RWMutex
	dirty   bool
	now     func() time.Time
}

// DefaultPath is the ledger file inside configDir.
func DefaultPath(configDir string) string {
	return filepath.Join(configDir, ledgerFile)
}

// Open loads the ledger at path, or starts an empty one if the file does not
// exist yet.
func Open(path string) (*Ledger, error) {
	l := &Ledger{
		Entries: make(map[string]Entry),
		Path:    path,
		now:     time.Now,
	}

	if _, err := os.Stat(path); err == nil {
		if err := l.Load(); err != nil {
			return nil, err
		}
	}

	return l, nil
}

func (l *Ledger) Load() error {
	f, err := os.Open(l.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := json.NewDecoder(f).Decode(&l.Entries); err != nil {
		return err
	}
	if l.Entries == nil {
		l.Entries = make(map[string]Entry)
	}
	return nil
}

// Save writes the ledger if it changed since the last save. The file is
// replaced by rename, so a crash mid-write leaves the previous version.
func (l *Ledger) Save() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.dirty {
		return nil
	}

	dir := filepath.Dir(l.Path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(l.Path)+".*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	encoder := json.NewEncoder(f)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(l.Entries); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, l.Path); err != nil {
		return fmt.Errorf("could not replace ledger %s: %w", l.Path, err)
	}
	l.dirty = false
	return nil
}

func (l *Ledger) Get(externalID string) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.Entries[externalID]
	return e, ok
}

// MarkPending records an accepted upload that has not become an activity yet.
func (l *Ledger) MarkPending(externalID, file string, uploadID int64) {
	l.set(Entry{ExternalID: externalID, File: file, UploadID: uploadID, Status: StatusPending})
}

// MarkCompleted records the activity an upload turned into.
func (l *Ledger) MarkCompleted(externalID, file string, uploadID, activityID int64) {
	l.set(Entry{ExternalID: externalID, File: file, UploadID: uploadID, ActivityID: activityID, Status: StatusCompleted})
}

// MarkFailed records a failed upload. Failed entries are retried next run.
func (l *Ledger) MarkFailed(externalID, file string, uploadID int64, cause error) {
	e := Entry{ExternalID: externalID, File: file, UploadID: uploadID, Status: StatusFailed}
	if cause != nil {
		e.Error = cause.Error()
	}
	l.set(e)
}

func (l *Ledger) set(e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	old, exists := l.Entries[e.ExternalID]
	if exists && old.Status == e.Status && old.UploadID == e.UploadID &&
		old.ActivityID == e.ActivityID && old.File == e.File && old.Error == e.Error {
		return
	}
	e.UpdatedAt = l.now().UTC()
	l.Entries[e.ExternalID] = e
	l.dirty = true
}

// Pending returns uploads still waiting for processing, oldest first.
func (l *Ledger) Pending() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Entry
	for _, e := range l.Entries {
		if e.Status == StatusPending {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].ExternalID < out[j].ExternalID
	})
	return out
}
