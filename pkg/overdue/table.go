// Package overdue remembers confirmed focus blocks until they end, then
// flags the calendar events of blocks nobody worked on.
package overdue

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/harrisonrobin/dayblock/pkg/logx"
	"github.com/harrisonrobin/dayblock/pkg/model"
)

const tableFile = "pending_blocks.json"

type Entry struct {
	BlockID string    `json:"block_id"`
	EventID string    `json:"event_id"`
	TaskID  string    `json:"task_id"`
	Summary string    `json:"summary"`
	End     time.Time `json:"end"`
}

type Table struct {
	Entries map[string]Entry `json:"entries"`
	Path    string           `json:"-"`

	mu    sync.Mutex
	dirty bool
	log   logx.Logger
}

func NewTable(dir string, log logx.Logger) (*Table, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	t := &Table{
		Path:    filepath.Join(dir, tableFile),
		Entries: make(map[string]Entry),
		log:     log.With(logx.String("component", "overdue")),
	}
	if err := t.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return t, nil
}

func (t *Table) Load() error {
	f, err := os.Open(t.Path)
	if err != nil {
		return err
	}
	defer f.Close()
	t.mu.Lock()
	defer t.mu.Unlock()
	return json.NewDecoder(f).Decode(t)
}

func (t *Table) Save() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.dirty {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(t.Path), 0700); err != nil {
		return err
	}
	f, err := os.Create(t.Path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(t); err != nil {
		return err
	}
	t.dirty = false
	return nil
}

// Update adds or refreshes the entry for a block.
func (t *Table) Update(e Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.Entries[e.BlockID]; !ok || old != e {
		t.Entries[e.BlockID] = e
		t.dirty = true
	}
}

func (t *Table) Remove(blockID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.Entries[blockID]; ok {
		delete(t.Entries, blockID)
		t.dirty = true
	}
}

func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Entries)
}

// Sweep returns and removes entries whose block ended at or before now.
func (t *Table) Sweep(now time.Time) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	var swept []Entry
	for id, e := range t.Entries {
		if !e.End.After(now) {
			swept = append(swept, e)
			delete(t.Entries, id)
			t.dirty = true
		}
	}
	return swept
}

// Recorder returns a confirm hook that tracks every confirmed block under
// the given event summary and persists the table.
func (t *Table) Recorder(summary string) func(ctx context.Context, b model.TaskBlock, eventID string) {
	return func(_ context.Context, b model.TaskBlock, eventID string) {
		t.Update(Entry{BlockID: b.ID, EventID: eventID, TaskID: b.TaskID, Summary: summary, End: b.End})
		if err := t.Save(); err != nil {
			t.log.Warn("save pending blocks failed", logx.String("block", b.ID), logx.Err(err))
		}
	}
}
