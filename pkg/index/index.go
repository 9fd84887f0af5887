// Package index caches Google calendar name to calendar ID lookups on disk,
// saving a CalendarList round trip on every command.
package index

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

const indexFile = "calendars.json"

type CalendarIndex struct {
	Mappings map[string]string `json:"mappings"`
	Path     string            `json:"-"`
	mu       sync.RWMutex
	dirty    bool
}

// New loads the index stored in dir, starting empty when there is none.
func New(dir string) (*CalendarIndex, error) {
	idx := &CalendarIndex{
		Mappings: make(map[string]string),
		Path:     filepath.Join(dir, indexFile),
	}
	if err := idx.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return idx, nil
}

func (idx *CalendarIndex) Load() error {
	f, err := os.Open(idx.Path)
	if err != nil {
		return err
	}
	defer f.Close()
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return json.NewDecoder(f).Decode(&idx.Mappings)
}

func (idx *CalendarIndex) Save() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if !idx.dirty {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(idx.Path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(idx.Path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(idx.Mappings); err != nil {
		return err
	}
	idx.dirty = false
	return nil
}

func (idx *CalendarIndex) Get(name string) string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.Mappings[name]
}

func (idx *CalendarIndex) Set(name, calendarID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.Mappings[name] != calendarID {
		idx.Mappings[name] = calendarID
		idx.dirty = true
	}
}

// Remove drops a stale mapping, e.g. after the calendar was deleted.
func (idx *CalendarIndex) Remove(name string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if _, ok := idx.Mappings[name]; ok {
		delete(idx.Mappings, name)
		idx.dirty = true
	}
}
