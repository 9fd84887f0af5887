package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/harrisonrobin/dayblock/pkg/logx"
	"github.com/harrisonrobin/dayblock/pkg/store"
)

type CauseType string

const (
	CauseCalendarChanged CauseType = "calendar_changed"
	CauseShiftBy         CauseType = "shift_by"
	CauseTaskUpdated     CauseType = "task_updated"
)

// Cause says why a day is replanned. Only the field matching Type is read.
type Cause struct {
	Type            CauseType `json:"type"`
	ExternalEventID string    `json:"external_event_id,omitempty"`
	// Minutes is accepted for shift_by but not consulted; the day is
	// re-proposed from scratch.
	Minutes int    `json:"minutes,omitempty"`
	TaskID  string `json:"task_id,omitempty"`
}

// ParseCauseType accepts the wire names and their dashed variants.
func ParseCauseType(s string) CauseType {
	return CauseType(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
}

type ReplanRequest struct {
	UserID string
	Date   string
	Cause  Cause
}

// Replan drops the planned blocks the cause invalidates and proposes the day
// again. Confirmed and executed blocks are left alone.
func (p *Planner) Replan(ctx context.Context, req ReplanRequest) (Proposal, error) {
	if err := validateDay(req.UserID, req.Date); err != nil {
		return Proposal{}, err
	}
	day, err := p.userDay(ctx, req.UserID, req.Date)
	if err != nil {
		return Proposal{}, err
	}
	log := p.log.With(
		logx.String("user", req.UserID),
		logx.String("date", req.Date),
		logx.String("cause", string(req.Cause.Type)),
	)

	switch req.Cause.Type {
	case CauseCalendarChanged:
		ev, err := p.repo.EventByExternalID(ctx, req.UserID, req.Cause.ExternalEventID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			log.Debug("changed event not stored; re-proposing", logx.String("event", req.Cause.ExternalEventID))
		case err != nil:
			return Proposal{}, fmt.Errorf("load event %s: %w", req.Cause.ExternalEventID, err)
		default:
			if err := p.repo.DeletePlannedInWindow(ctx, req.UserID, ev.Start, ev.End); err != nil {
				return Proposal{}, fmt.Errorf("clear conflicting blocks: %w", err)
			}
		}
	case CauseShiftBy:
		if err := p.repo.DeletePlannedForDay(ctx, req.UserID, day.Start, day.End); err != nil {
			return Proposal{}, fmt.Errorf("clear planned blocks: %w", err)
		}
	case CauseTaskUpdated:
		if strings.TrimSpace(req.Cause.TaskID) == "" {
			return Proposal{}, fmt.Errorf("%w: task_updated needs a task id", ErrInvalidRequest)
		}
		if err := p.repo.DeletePlannedForTaskInWindow(ctx, req.UserID, req.Cause.TaskID, day.Start, day.End); err != nil {
			return Proposal{}, fmt.Errorf("clear task blocks: %w", err)
		}
	default:
		log.Debug("unrecognized cause; re-proposing")
	}

	log.Info("replanning")
	return p.Propose(ctx, ProposeRequest{UserID: req.UserID, Date: req.Date})
}
