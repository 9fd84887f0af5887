// Package calsync imports busy time from external calendars into the store
// and replans the days whose calendar changed.
package calsync

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/harrisonrobin/dayblock/pkg/logx"
	"github.com/harrisonrobin/dayblock/pkg/model"
	"github.com/harrisonrobin/dayblock/pkg/planner"
	"github.com/harrisonrobin/dayblock/pkg/store"
	"github.com/harrisonrobin/dayblock/pkg/timeutil"
)

type Locator interface {
	Location(ctx context.Context, userID string) (*time.Location, error)
}

type Replanner interface {
	Replan(ctx context.Context, req planner.ReplanRequest) (planner.Proposal, error)
}

type Syncer struct {
	repo    store.CalendarBusyRepository
	loc     Locator
	sources []Source
	replan  Replanner
	log     logx.Logger
}

// New builds a syncer. replan may be nil to import without replanning.
func New(repo store.CalendarBusyRepository, loc Locator, replan Replanner, log logx.Logger, sources ...Source) *Syncer {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Syncer{repo: repo, loc: loc, sources: sources, replan: replan, log: log.With(logx.String("component", "calsync"))}
}

type SourceResult struct {
	Source    string   `json:"source"`
	Intervals int      `json:"intervals"`
	Changed   []string `json:"changed"`
	Error     string   `json:"error,omitempty"`
}

type Result struct {
	Sources   []SourceResult `json:"sources"`
	Replanned []string       `json:"replanned"`
}

// Run syncs `days` days starting at date. A failing source keeps its
// previously stored intervals and does not stop the others. Replan errors
// are returned after every day has been attempted.
func (s *Syncer) Run(ctx context.Context, userID, date string, days int) (Result, error) {
	if days < 1 {
		days = 1
	}
	loc, err := s.loc.Location(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	first, err := timeutil.DayRange(date, loc)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", planner.ErrInvalidRequest, err)
	}
	start, end := first.Start, first.Start.AddDate(0, 0, days)

	res := Result{Sources: []SourceResult{}, Replanned: []string{}}
	// First changed external id per day.
	changedDays := map[string]string{}

	for _, src := range s.sources {
		sr := SourceResult{Source: src.ID(), Changed: []string{}}
		ids, starts, n, err := s.syncSource(ctx, userID, src, start, end)
		if err != nil {
			s.log.Warn("source sync failed", logx.String("source", src.ID()), logx.Err(err))
			sr.Error = err.Error()
			res.Sources = append(res.Sources, sr)
			continue
		}
		sr.Intervals = n
		sr.Changed = ids
		for _, id := range ids {
			at, ok := starts[id]
			if !ok {
				continue
			}
			day := at.In(loc).Format(model.DateLayout)
			if _, seen := changedDays[day]; !seen {
				changedDays[day] = id
			}
		}
		res.Sources = append(res.Sources, sr)
	}

	if s.replan == nil || len(changedDays) == 0 {
		return res, nil
	}
	dates := make([]string, 0, len(changedDays))
	for d := range changedDays {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	var firstErr error
	for _, d := range dates {
		_, err := s.replan.Replan(ctx, planner.ReplanRequest{
			UserID: userID,
			Date:   d,
			Cause:  planner.Cause{Type: planner.CauseCalendarChanged, ExternalEventID: changedDays[d]},
		})
		if err != nil {
			s.log.Warn("replan failed", logx.String("date", d), logx.Err(err))
			if firstErr == nil {
				firstErr = fmt.Errorf("replan %s: %w", d, err)
			}
			continue
		}
		res.Replanned = append(res.Replanned, d)
	}
	return res, firstErr
}

// syncSource replaces the source's intervals and returns the changed ids
// along with a start time for every id seen before or after the swap, so
// removed events can still be placed on a day.
func (s *Syncer) syncSource(ctx context.Context, userID string, src Source, start, end time.Time) ([]string, map[string]time.Time, int, error) {
	fresh, err := src.Busy(ctx, start, end)
	if err != nil {
		return nil, nil, 0, err
	}
	before, err := s.repo.BusyIntervals(ctx, userID, start, end)
	if err != nil {
		return nil, nil, 0, err
	}
	starts := make(map[string]time.Time, len(fresh))
	for _, b := range before {
		if b.SourceID == src.ID() {
			starts[b.ExternalID] = b.Start
		}
	}
	for i := range fresh {
		fresh[i].UserID = userID
		fresh[i].SourceID = src.ID()
		starts[fresh[i].ExternalID] = fresh[i].Start
	}
	changed, err := s.repo.ReplaceBusy(ctx, userID, src.ID(), start, end, fresh)
	if err != nil {
		return nil, nil, 0, err
	}
	if changed == nil {
		changed = []string{}
	}
	s.log.Debug("source synced", logx.String("source", src.ID()), logx.Int("intervals", len(fresh)), logx.Int("changed", len(changed)))
	return changed, starts, len(fresh), nil
}
