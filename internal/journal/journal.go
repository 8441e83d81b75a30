// Package journal provides persistence for backend lifecycle events.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/AnvinX1/qkd-LAB/pkg/models"
)

// Journal defines the interface for lifecycle event storage.
type Journal interface {
	Append(event *models.BackendEvent) error
	List(filter ListFilter) ([]*models.BackendEvent, error)
	Close() error
}

// ListFilter defines criteria for listing events.
type ListFilter struct {
	RunID string
	Kinds []models.EventKind
	Limit int
}

// FileJournal implements Journal using a JSON file for persistence.
type FileJournal struct {
	path    string
	events  []*models.BackendEvent
	mu      sync.RWMutex
	dirty   bool
	closeCh chan struct{}
}

// NewFileJournal creates a new file-based journal.
func NewFileJournal(path string) (*FileJournal, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	j := &FileJournal{
		path:    path,
		closeCh: make(chan struct{}),
	}

	if err := j.load(); err != nil {
		return nil, err
	}

	// Start background saver
	go j.backgroundSaver()

	return j, nil
}

func (j *FileJournal) load() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	data, err := os.ReadFile(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read journal file: %w", err)
	}

	if len(data) == 0 {
		return nil
	}

	var events []*models.BackendEvent
	if err := json.Unmarshal(data, &events); err != nil {
		return fmt.Errorf("failed to parse journal file: %w", err)
	}

	j.events = events
	return nil
}

func (j *FileJournal) save() error {
	j.mu.RLock()
	data, err := json.MarshalIndent(j.events, "", "  ")
	j.mu.RUnlock()

	if err != nil {
		return fmt.Errorf("failed to marshal events: %w", err)
	}

	tmpPath := j.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tmpPath, j.path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

func (j *FileJournal) backgroundSaver() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.mu.RLock()
			dirty := j.dirty
			j.mu.RUnlock()

			if dirty {
				if err := j.save(); err == nil {
					j.mu.Lock()
					j.dirty = false
					j.mu.Unlock()
				}
			}
		case <-j.closeCh:
			j.save()
			return
		}
	}
}

// Append records a lifecycle event.
func (j *FileJournal) Append(event *models.BackendEvent) error {
	if !models.ValidEventKind(event.Kind) {
		return fmt.Errorf("invalid event kind: %s", event.Kind)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	j.events = append(j.events, event)
	j.dirty = true

	return nil
}

// List retrieves events matching the filter, newest first.
func (j *FileJournal) List(filter ListFilter) ([]*models.BackendEvent, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var result []*models.BackendEvent

	for _, ev := range j.events {
		if j.matchesFilter(ev, filter) {
			result = append(result, ev)
		}
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.After(result[k].CreatedAt)
	})

	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}

	return result, nil
}

func (j *FileJournal) matchesFilter(ev *models.BackendEvent, filter ListFilter) bool {
	if filter.RunID != "" && ev.RunID != filter.RunID {
		return false
	}

	if len(filter.Kinds) > 0 {
		matched := false
		for _, k := range filter.Kinds {
			if ev.Kind == k {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	return true
}

// Close stops the background saver and performs a final save.
func (j *FileJournal) Close() error {
	close(j.closeCh)
	return nil
}

// ForceSave immediately persists all events to disk.
func (j *FileJournal) ForceSave() error {
	j.mu.Lock()
	j.dirty = false
	j.mu.Unlock()
	return j.save()
}
