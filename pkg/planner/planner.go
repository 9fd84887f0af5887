// Package planner turns a day's free time and task backlog into proposed
// focus blocks, confirms them onto the calendar and replans after changes.
//
// Callers serialize Propose, ConfirmWithUser and Replan per user and day.
package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/harrisonrobin/dayblock/pkg/freetime"
	"github.com/harrisonrobin/dayblock/pkg/logx"
	"github.com/harrisonrobin/dayblock/pkg/model"
	"github.com/harrisonrobin/dayblock/pkg/placement"
	"github.com/harrisonrobin/dayblock/pkg/scoring"
	"github.com/harrisonrobin/dayblock/pkg/store"
)

// ErrInvalidRequest marks requests rejected before touching any repository.
var ErrInvalidRequest = errors.New("invalid request")

const (
	DefaultEventSummary = "Focus block"

	SkipAlreadyCreated = "already-created"
	SkipNoEventID      = "no-event-id"
)

// Repository is the slice of the store the planner reads and writes.
type Repository interface {
	store.TaskRepository
	store.CalendarBusyRepository
	store.BlockRepository
}

// CalendarEventCreator pushes confirmed blocks to an external calendar.
type CalendarEventCreator interface {
	CreateEvent(ctx context.Context, actingUser string, req model.EventRequest) (model.CreatedEvent, error)
}

// ConfirmHook observes every block confirmed onto the calendar.
type ConfirmHook func(ctx context.Context, block model.TaskBlock, eventID string)

type Planner struct {
	repo    Repository
	days    *freetime.Engine
	events  CalendarEventCreator
	prefs   placement.Prefs
	summary string
	hooks   []ConfirmHook
	log     logx.Logger
}

type Option func(*Planner)

// WithPrefs overrides the placement buffer and chunk size.
func WithPrefs(p placement.Prefs) Option { return func(pl *Planner) { pl.prefs = p } }

// WithEventSummary sets the title of created calendar events.
func WithEventSummary(s string) Option {
	return func(pl *Planner) {
		if strings.TrimSpace(s) != "" {
			pl.summary = s
		}
	}
}

// WithConfirmHook registers h to run after each successful confirmation.
func WithConfirmHook(h ConfirmHook) Option {
	return func(pl *Planner) {
		if h != nil {
			pl.hooks = append(pl.hooks, h)
		}
	}
}

func New(repo Repository, days *freetime.Engine, events CalendarEventCreator, log logx.Logger, opts ...Option) *Planner {
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &Planner{
		repo:    repo,
		days:    days,
		events:  events,
		prefs:   placement.DefaultPrefs(),
		summary: DefaultEventSummary,
		log:     log.With(logx.String("component", "planner")),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ---- propose ----

type ProposeRequest struct {
	UserID         string
	Date           string
	IncludeTaskIDs []string
	ExcludeTaskIDs []string
}

// ProposedBlock is the outward view of a planned block, in the user's zone.
type ProposedBlock struct {
	BlockID       string    `json:"block_id"`
	TaskID        string    `json:"task_id"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	BufferMinutes int       `json:"buffer_minutes"`
	Reason        string    `json:"reason"`
	ChunkIndex    int       `json:"chunk_index,omitempty"`
}

type Proposal struct {
	ProposalID  string                  `json:"proposal_id"`
	Date        string                  `json:"date"`
	Blocks      []ProposedBlock         `json:"blocks"`
	Unplaceable []placement.Unplaceable `json:"unplaceable"`
}

func validateDay(userID, date string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	if _, err := time.Parse(model.DateLayout, date); err != nil {
		return fmt.Errorf("%w: date %q is not YYYY-MM-DD", ErrInvalidRequest, date)
	}
	return nil
}

func (p *Planner) userDay(ctx context.Context, userID, date string) (freetime.Day, error) {
	day, err := p.days.UserDay(ctx, userID, date)
	if errors.Is(err, freetime.ErrInvalidDay) {
		return day, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return day, err
}

// Propose replaces the day's unconfirmed blocks with a fresh placement.
func (p *Planner) Propose(ctx context.Context, req ProposeRequest) (Proposal, error) {
	if err := validateDay(req.UserID, req.Date); err != nil {
		return Proposal{}, err
	}
	day, err := p.userDay(ctx, req.UserID, req.Date)
	if err != nil {
		return Proposal{}, err
	}

	if err := p.repo.DeletePlannedForDay(ctx, req.UserID, day.Start, day.End); err != nil {
		return Proposal{}, fmt.Errorf("clear planned blocks: %w", err)
	}
	free, err := p.days.FreeIntervals(ctx, req.UserID, day.Start, day.End)
	if err != nil {
		return Proposal{}, err
	}
	tasks, err := p.repo.GetSchedulable(ctx, req.UserID, req.IncludeTaskIDs, req.ExcludeTaskIDs)
	if err != nil {
		return Proposal{}, fmt.Errorf("load schedulable tasks: %w", err)
	}

	prefs := p.prefs
	prefs.Location = day.Location
	ranked := scoring.Rank(tasks, day.Start)
	res := placement.Place(ranked, free, prefs)

	proposalID := uuid.NewString()
	if err := p.repo.PersistPlanned(ctx, req.UserID, proposalID, res.Blocks); err != nil {
		return Proposal{}, fmt.Errorf("persist proposal: %w", err)
	}

	out := Proposal{
		ProposalID:  proposalID,
		Date:        req.Date,
		Blocks:      make([]ProposedBlock, 0, len(res.Blocks)),
		Unplaceable: res.Unplaceable,
	}
	if out.Unplaceable == nil {
		out.Unplaceable = []placement.Unplaceable{}
	}
	for _, b := range res.Blocks {
		out.Blocks = append(out.Blocks, ProposedBlock{
			BlockID:       b.ID,
			TaskID:        b.TaskID,
			Start:         b.Start.In(day.Location),
			End:           b.End.In(day.Location),
			BufferMinutes: b.BufferMinutes,
			Reason:        b.Reason,
			ChunkIndex:    b.ChunkIndex,
		})
	}

	p.log.Info("proposal created",
		logx.String("user", req.UserID),
		logx.String("date", req.Date),
		logx.String("proposal", proposalID),
		logx.Int("free_slots", len(free)),
		logx.Int("tasks", len(tasks)),
		logx.Int("blocks", len(out.Blocks)),
		logx.Int("unplaceable", len(out.Unplaceable)),
	)
	return out, nil
}

// ---- confirm ----

type ConfirmRequest struct {
	UserID     string
	ProposalID string
	// AcceptBlockIDs restricts confirmation to these blocks and rejects the
	// proposal's other planned blocks. Empty accepts every planned block.
	AcceptBlockIDs []string
}

type CreatedBlock struct {
	BlockID string `json:"block_id"`
	EventID string `json:"event_id"`
}

type SkippedBlock struct {
	BlockID string `json:"block_id"`
	Reason  string `json:"reason"`
}

type ConfirmResult struct {
	Created []CreatedBlock `json:"created"`
	Skipped []SkippedBlock `json:"skipped"`
}

// ConfirmWithUser creates a calendar event for each accepted planned block.
// A failing block is reported in Skipped and does not stop the others.
func (p *Planner) ConfirmWithUser(ctx context.Context, req ConfirmRequest, actingUser string) (ConfirmResult, error) {
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.ProposalID) == "" {
		return ConfirmResult{}, fmt.Errorf("%w: user id and proposal id are required", ErrInvalidRequest)
	}
	if p.events == nil {
		return ConfirmResult{}, errors.New("no calendar configured")
	}

	planned, err := p.repo.GetByProposal(ctx, req.UserID, req.ProposalID, req.AcceptBlockIDs)
	if err != nil {
		return ConfirmResult{}, fmt.Errorf("load proposal %s: %w", req.ProposalID, err)
	}
	if len(planned) == 0 {
		ok, err := p.repo.ProposalExists(ctx, req.UserID, req.ProposalID)
		if err != nil {
			return ConfirmResult{}, fmt.Errorf("load proposal %s: %w", req.ProposalID, err)
		}
		if !ok {
			return ConfirmResult{}, fmt.Errorf("proposal %s: %w", req.ProposalID, store.ErrNotFound)
		}
	}

	res := ConfirmResult{Created: []CreatedBlock{}, Skipped: []SkippedBlock{}}
	for _, b := range planned {
		if b.ExternalEventID != "" {
			res.Skipped = append(res.Skipped, SkippedBlock{BlockID: b.ID, Reason: SkipAlreadyCreated})
			continue
		}
		ev, err := p.events.CreateEvent(ctx, actingUser, model.EventRequest{
			Start:       b.Start,
			End:         b.End,
			Summary:     p.summary,
			Description: b.Reason,
			PrivateMetadata: map[string]string{
				"task_id":  b.TaskID,
				"block_id": b.ID,
			},
		})
		if err != nil {
			p.log.Warn("create event failed", logx.String("block", b.ID), logx.Err(err))
			res.Skipped = append(res.Skipped, SkippedBlock{BlockID: b.ID, Reason: err.Error()})
			continue
		}
		if ev.ID == "" {
			res.Skipped = append(res.Skipped, SkippedBlock{BlockID: b.ID, Reason: SkipNoEventID})
			continue
		}
		if err := p.repo.MarkConfirmed(ctx, b.ID, ev.ID); err != nil {
			p.log.Warn("mark confirmed failed", logx.String("block", b.ID), logx.Err(err))
			res.Skipped = append(res.Skipped, SkippedBlock{BlockID: b.ID, Reason: err.Error()})
			continue
		}
		b.State = model.BlockConfirmed
		b.ExternalEventID = ev.ID
		for _, h := range p.hooks {
			h(ctx, b, ev.ID)
		}
		res.Created = append(res.Created, CreatedBlock{BlockID: b.ID, EventID: ev.ID})
	}

	if len(req.AcceptBlockIDs) > 0 {
		if err := p.repo.DeleteUnacceptedForProposal(ctx, req.UserID, req.ProposalID, req.AcceptBlockIDs); err != nil {
			p.log.Warn("reject unaccepted blocks failed", logx.String("proposal", req.ProposalID), logx.Err(err))
		}
	}

	p.log.Info("proposal confirmed",
		logx.String("user", req.UserID),
		logx.String("proposal", req.ProposalID),
		logx.Int("created", len(res.Created)),
		logx.Int("skipped", len(res.Skipped)),
	)
	return res, nil
}
