package planner

import (
	"context"
	"errors"
	"testing"

	"github.com/harrisonrobin/dayblock/pkg/model"
)

func TestReplanCalendarChanged(t *testing.T) {
	ctx := context.Background()
	p, st := newTestPlanner(t, &fakeCalendar{})
	addTasks(t, st, model.Task{ID: "a", Priority: model.PriorityHigh, EstimatedMinutes: 60})

	first, err := p.Propose(ctx, ProposeRequest{UserID: "u", Date: testDate})
	if err != nil {
		t.Fatalf("Propose failed: %v", err)
	}
	if !first.Blocks[0].Start.Equal(at(9, 0)) {
		t.Fatalf("Expected first block at 09:00, got %v", first.Blocks[0].Start)
	}

	// A meeting lands on top of the planned block.
	_, err = st.ReplaceBusy(ctx, "u", "google:work", day, day.AddDate(0, 0, 1), []model.BusyInterval{
		{ExternalID: "mtg", Start: at(9, 0), End: at(10, 30)},
	})
	if err != nil {
		t.Fatalf("ReplaceBusy failed: %v", err)
	}

	next, err := p.Replan(ctx, ReplanRequest{UserID: "u", Date: testDate, Cause: Cause{Type: CauseCalendarChanged, ExternalEventID: "mtg"}})
	if err != nil {
		t.Fatalf("Replan failed: %v", err)
	}
	if len(next.Blocks) != 1 || !next.Blocks[0].Start.Equal(at(10, 30)) {
		t.Fatalf("Expected block moved to 10:30, got %+v", next.Blocks)
	}
	if _, err := st.GetBlock(ctx, first.Blocks[0].BlockID); err == nil {
		t.Error("Expected conflicting planned block deleted")
	}
}

func TestReplanKeepsConfirmedBlocks(t *testing.T) {
	ctx := context.Background()
	p, st := newTestPlanner(t, &fakeCalendar{})
	addTasks(t, st,
		model.Task{ID: "a", Priority: model.PriorityHigh, EstimatedMinutes: 60},
		model.Task{ID: "b", Priority: model.PriorityLow, EstimatedMinutes: 30},
	)
	prop, err := p.Propose(ctx, ProposeRequest{UserID: "u", Date: testDate})
	if err != nil {
		t.Fatalf("Propose failed: %v", err)
	}
	confirmed := prop.Blocks[0].BlockID
	if _, err := p.ConfirmWithUser(ctx, ConfirmRequest{UserID: "u", ProposalID: prop.ProposalID, AcceptBlockIDs: []string{confirmed}}, "me"); err != nil {
		t.Fatalf("ConfirmWithUser failed: %v", err)
	}

	for _, cause := range []Cause{
		{Type: CauseShiftBy, Minutes: 15},
		{Type: CauseTaskUpdated, TaskID: "b"},
		{Type: CauseCalendarChanged, ExternalEventID: "unknown"},
		{Type: "something_else"},
	} {
		if _, err := p.Replan(ctx, ReplanRequest{UserID: "u", Date: testDate, Cause: cause}); err != nil {
			t.Fatalf("Replan(%s) failed: %v", cause.Type, err)
		}
		b, err := st.GetBlock(ctx, confirmed)
		if err != nil || b.State != model.BlockConfirmed {
			t.Errorf("Replan(%s): expected confirmed block kept, got %+v %v", cause.Type, b, err)
		}
	}
}

func TestReplanShiftByReplacesPlanned(t *testing.T) {
	ctx := context.Background()
	p, st := newTestPlanner(t, &fakeCalendar{})
	addTasks(t, st, model.Task{ID: "a", Priority: model.PriorityMed, EstimatedMinutes: 30})

	first, err := p.Propose(ctx, ProposeRequest{UserID: "u", Date: testDate})
	if err != nil {
		t.Fatalf("Propose failed: %v", err)
	}
	next, err := p.Replan(ctx, ReplanRequest{UserID: "u", Date: testDate, Cause: Cause{Type: CauseShiftBy, Minutes: 30}})
	if err != nil {
		t.Fatalf("Replan failed: %v", err)
	}
	if next.ProposalID == first.ProposalID {
		t.Error("Expected a fresh proposal id")
	}
	// The shift amount is not applied.
	if !next.Blocks[0].Start.Equal(first.Blocks[0].Start) {
		t.Errorf("Expected same start %v, got %v", first.Blocks[0].Start, next.Blocks[0].Start)
	}
}

func TestReplanTaskUpdatedNeedsTask(t *testing.T) {
	p, _ := newTestPlanner(t, &fakeCalendar{})
	_, err := p.Replan(context.Background(), ReplanRequest{UserID: "u", Date: testDate, Cause: Cause{Type: CauseTaskUpdated}})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("Expected ErrInvalidRequest, got %v", err)
	}
}

func TestParseCauseType(t *testing.T) {
	if got := ParseCauseType(" Calendar-Changed "); got != CauseCalendarChanged {
		t.Errorf("Expected %s, got %s", CauseCalendarChanged, got)
	}
}
