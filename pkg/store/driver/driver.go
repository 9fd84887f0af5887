// Package driver opens the configured store implementation.
package driver

import (
	"fmt"
	"strings"
	"time"

	"github.com/harrisonrobin/dayblock/pkg/logx"
	"github.com/harrisonrobin/dayblock/pkg/store"
	"github.com/harrisonrobin/dayblock/pkg/store/memory"
	"github.com/harrisonrobin/dayblock/pkg/store/sqlite"
)

type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration
}

// Open returns a store for cfg.Driver ("sqlite" when empty, or "memory").
func Open(cfg Config, log logx.Logger) (store.Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite":
		return sqlite.Open(sqlite.Config{Path: cfg.Path, BusyTimeout: cfg.BusyTimeout}, log)
	case "memory":
		log.Warn("using in-memory store; nothing will be persisted")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
