// Package colors assigns Google Calendar event colors to tasks so every
// chunk of one task shows up in the same color.
package colors

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

const (
	cacheFile = "task_colors.json"

	// DefaultColorID is graphite, used for blocks without a task.
	DefaultColorID = "8"
	paletteSize    = 11
)

type TaskState struct {
	ColorID  string    `json:"color_id"`
	LastUsed time.Time `json:"last_used"`
}

// ColorCache hands out the 11 event colors least recently used first.
type ColorCache struct {
	Path  string
	Tasks map[string]*TaskState

	mu    sync.Mutex
	dirty bool
	now   func() time.Time
}

func NewColorCache(dir string) (*ColorCache, error) {
	c := &ColorCache{
		Path:  filepath.Join(dir, cacheFile),
		Tasks: make(map[string]*TaskState),
		now:   time.Now,
	}
	if err := c.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return c, nil
}

func (c *ColorCache) Load() error {
	f, err := os.Open(c.Path)
	if err != nil {
		return err
	}
	defer f.Close()
	c.mu.Lock()
	defer c.mu.Unlock()
	return json.NewDecoder(f).Decode(&c.Tasks)
}

func (c *ColorCache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(c.Path), 0700); err != nil {
		return err
	}
	f, err := os.Create(c.Path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(c.Tasks); err != nil {
		return err
	}
	c.dirty = false
	return nil
}

// ColorID returns the task's color, assigning a free one or recycling the
// least recently used when all are taken.
func (c *ColorCache) ColorID(taskID string) string {
	if taskID == "" {
		return DefaultColorID
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.dirty = true
	if st, ok := c.Tasks[taskID]; ok {
		st.LastUsed = now
		return st.ColorID
	}

	used := make(map[string]bool, len(c.Tasks))
	for _, st := range c.Tasks {
		used[st.ColorID] = true
	}
	for i := 1; i <= paletteSize; i++ {
		id := strconv.Itoa(i)
		if !used[id] {
			c.Tasks[taskID] = &TaskState{ColorID: id, LastUsed: now}
			return id
		}
	}

	var (
		oldest   string
		oldestAt time.Time
	)
	for id, st := range c.Tasks {
		if oldest == "" || st.LastUsed.Before(oldestAt) {
			oldest, oldestAt = id, st.LastUsed
		}
	}
	color := c.Tasks[oldest].ColorID
	delete(c.Tasks, oldest)
	c.Tasks[taskID] = &TaskState{ColorID: color, LastUsed: now}
	return color
}

// Release frees the task's color, typically once the task is done.
func (c *ColorCache) Release(taskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.Tasks[taskID]; ok {
		delete(c.Tasks, taskID)
		c.dirty = true
	}
}
