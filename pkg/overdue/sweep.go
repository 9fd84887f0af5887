package overdue

import (
	"context"
	"errors"
	"time"

	"github.com/harrisonrobin/dayblock/pkg/logx"
	"github.com/harrisonrobin/dayblock/pkg/model"
	"github.com/harrisonrobin/dayblock/pkg/store"
)

// MissedPrefix marks the title of an event whose block ended un-executed.
const MissedPrefix = "! "

type BlockGetter interface {
	GetBlock(ctx context.Context, blockID string) (model.TaskBlock, error)
}

type SummaryPatcher interface {
	PatchSummary(ctx context.Context, eventID, summary string) error
}

type Sweeper struct {
	table   *Table
	blocks  BlockGetter
	patcher SummaryPatcher
	log     logx.Logger
}

func NewSweeper(table *Table, blocks BlockGetter, patcher SummaryPatcher, log logx.Logger) *Sweeper {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sweeper{table: table, blocks: blocks, patcher: patcher, log: log.With(logx.String("component", "overdue"))}
}

type SweepResult struct {
	Checked int      `json:"checked"`
	Flagged []string `json:"flagged"`
}

// Run sweeps ended blocks. Blocks still confirmed get their event retitled
// with MissedPrefix; executed or vanished blocks are just dropped. A failed
// patch puts the entry back for the next run.
func (s *Sweeper) Run(ctx context.Context, now time.Time) (SweepResult, error) {
	res := SweepResult{Flagged: []string{}}
	for _, e := range s.table.Sweep(now) {
		res.Checked++
		b, err := s.blocks.GetBlock(ctx, e.BlockID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			s.table.Update(e)
			s.log.Warn("load block failed", logx.String("block", e.BlockID), logx.Err(err))
			continue
		}
		if b.State != model.BlockConfirmed {
			continue
		}
		if err := s.patcher.PatchSummary(ctx, e.EventID, MissedPrefix+e.Summary); err != nil {
			s.table.Update(e)
			s.log.Warn("flag missed block failed", logx.String("block", e.BlockID), logx.String("event", e.EventID), logx.Err(err))
			continue
		}
		s.log.Info("block missed", logx.String("block", e.BlockID), logx.String("task", e.TaskID))
		res.Flagged = append(res.Flagged, e.BlockID)
	}
	return res, s.table.Save()
}
