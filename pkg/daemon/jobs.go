package daemon

import (
	"context"
	"time"

	"github.com/harrisonrobin/dayblock/pkg/calsync"
	"github.com/harrisonrobin/dayblock/pkg/logx"
	"github.com/harrisonrobin/dayblock/pkg/overdue"
	"github.com/harrisonrobin/dayblock/pkg/planner"
)

type Proposer interface {
	Propose(ctx context.Context, req planner.ProposeRequest) (planner.Proposal, error)
	ConfirmWithUser(ctx context.Context, req planner.ConfirmRequest, actingUser string) (planner.ConfirmResult, error)
}

type Syncer interface {
	Run(ctx context.Context, userID, date string, days int) (calsync.Result, error)
}

type Sweeper interface {
	Run(ctx context.Context, now time.Time) (overdue.SweepResult, error)
}

// Env is what every job needs to know about the user.
type Env struct {
	UserID   string
	Location *time.Location
	Now      func() time.Time
	Log      logx.Logger
}

func (e Env) today() string {
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	loc := e.Location
	if loc == nil {
		loc = time.UTC
	}
	return now().In(loc).Format(time.DateOnly)
}

// PlanJob proposes today's plan and, when autoConfirm is set, confirms it.
func PlanJob(spec string, env Env, p Proposer, autoConfirm bool) Job {
	return Job{Name: "plan", Spec: spec, Run: func(ctx context.Context) error {
		date := env.today()
		prop, err := p.Propose(ctx, planner.ProposeRequest{UserID: env.UserID, Date: date})
		if err != nil {
			return err
		}
		env.Log.Info("plan proposed",
			logx.String("date", date),
			logx.String("proposal", prop.ProposalID),
			logx.Int("blocks", len(prop.Blocks)),
			logx.Int("unplaceable", len(prop.Unplaceable)),
		)
		if !autoConfirm || len(prop.Blocks) == 0 {
			return nil
		}
		res, err := p.ConfirmWithUser(ctx, planner.ConfirmRequest{UserID: env.UserID, ProposalID: prop.ProposalID}, env.UserID)
		if err != nil {
			return err
		}
		env.Log.Info("plan confirmed", logx.Int("created", len(res.Created)), logx.Int("skipped", len(res.Skipped)))
		return nil
	}}
}

// SyncJob imports busy time for days days starting today.
func SyncJob(spec string, env Env, s Syncer, days int) Job {
	return Job{Name: "sync", Spec: spec, Run: func(ctx context.Context) error {
		res, err := s.Run(ctx, env.UserID, env.today(), days)
		if err != nil {
			return err
		}
		failed := 0
		for _, sr := range res.Sources {
			if sr.Error != "" {
				failed++
			}
		}
		env.Log.Info("calendars synced",
			logx.Int("sources", len(res.Sources)),
			logx.Int("failed", failed),
			logx.Strings("replanned", res.Replanned),
		)
		return nil
	}}
}

func SweepJob(spec string, env Env, s Sweeper) Job {
	return Job{Name: "sweep", Spec: spec, Run: func(ctx context.Context) error {
		now := time.Now
		if env.Now != nil {
			now = env.Now
		}
		res, err := s.Run(ctx, now())
		if err != nil {
			return err
		}
		if res.Checked > 0 {
			env.Log.Info("overdue sweep", logx.Int("checked", res.Checked), logx.Int("flagged", len(res.Flagged)))
		}
		return nil
	}}
}
