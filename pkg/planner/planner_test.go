package planner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/harrisonrobin/dayblock/pkg/freetime"
	"github.com/harrisonrobin/dayblock/pkg/logx"
	"github.com/harrisonrobin/dayblock/pkg/model"
	"github.com/harrisonrobin/dayblock/pkg/store"
	"github.com/harrisonrobin/dayblock/pkg/store/memory"
)

const testDate = "2024-03-04"

var day = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func at(h, m int) time.Time {
	return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

type fakeCalendar struct {
	calls  int
	failOn map[int]error
	noID   map[int]bool
	events []model.EventRequest
}

func (f *fakeCalendar) CreateEvent(_ context.Context, _ string, req model.EventRequest) (model.CreatedEvent, error) {
	f.calls++
	if err := f.failOn[f.calls]; err != nil {
		return model.CreatedEvent{}, err
	}
	if f.noID[f.calls] {
		return model.CreatedEvent{}, nil
	}
	f.events = append(f.events, req)
	return model.CreatedEvent{ID: fmt.Sprintf("evt-%d", f.calls)}, nil
}

func newTestPlanner(t *testing.T, cal CalendarEventCreator, opts ...Option) (*Planner, *memory.Store) {
	t.Helper()
	st := memory.New()
	days := freetime.New(st, freetime.Defaults{Timezone: "UTC"})
	return New(st, days, cal, logx.Nop(), opts...), st
}

func addTasks(t *testing.T, st *memory.Store, tasks ...model.Task) {
	t.Helper()
	for _, tk := range tasks {
		tk.UserID = "u"
		if tk.Status == "" {
			tk.Status = model.StatusTodo
		}
		if err := st.UpsertTask(context.Background(), tk); err != nil {
			t.Fatalf("UpsertTask failed: %v", err)
		}
	}
}

func TestProposeSingleTask(t *testing.T) {
	p, st := newTestPlanner(t, &fakeCalendar{})
	addTasks(t, st, model.Task{ID: "t1", Title: "Report", Priority: model.PriorityHigh, Due: testDate, EstimatedMinutes: 45})

	prop, err := p.Propose(context.Background(), ProposeRequest{UserID: "u", Date: testDate})
	if err != nil {
		t.Fatalf("Propose failed: %v", err)
	}
	if len(prop.Blocks) != 1 {
		t.Fatalf("Expected 1 block, got %d", len(prop.Blocks))
	}
	b := prop.Blocks[0]
	if !b.Start.Equal(at(9, 0)) || !b.End.Equal(at(9, 45)) {
		t.Errorf("Expected 09:00-09:45, got %v-%v", b.Start, b.End)
	}
	if b.BufferMinutes != 5 {
		t.Errorf("Expected buffer 5, got %d", b.BufferMinutes)
	}
	if !strings.Contains(b.Reason, "due "+testDate) {
		t.Errorf("Expected reason to mention due date, got %q", b.Reason)
	}
	if len(prop.Unplaceable) != 0 {
		t.Errorf("Expected no unplaceable tasks, got %v", prop.Unplaceable)
	}

	stored, err := st.GetByProposal(context.Background(), "u", prop.ProposalID, nil)
	if err != nil {
		t.Fatalf("GetByProposal failed: %v", err)
	}
	if len(stored) != 1 || stored[0].State != model.BlockPlanned {
		t.Errorf("Expected one planned block stored, got %+v", stored)
	}
}

func blockShape(blocks []ProposedBlock) []string {
	out := make([]string, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, fmt.Sprintf("%s@%s-%s#%d", b.TaskID, b.Start.Format("15:04"), b.End.Format("15:04"), b.ChunkIndex))
	}
	sort.Strings(out)
	return out
}

func TestProposeIsRepeatable(t *testing.T) {
	ctx := context.Background()
	p, st := newTestPlanner(t, &fakeCalendar{})
	addTasks(t, st,
		model.Task{ID: "a", Priority: model.PriorityHigh, EstimatedMinutes: 150},
		model.Task{ID: "b", Priority: model.PriorityMed, Due: "2024-03-05", EstimatedMinutes: 30},
		model.Task{ID: "c", Priority: model.PriorityLow, EstimatedMinutes: 60},
	)

	first, err := p.Propose(ctx, ProposeRequest{UserID: "u", Date: testDate})
	if err != nil {
		t.Fatalf("Propose failed: %v", err)
	}
	second, err := p.Propose(ctx, ProposeRequest{UserID: "u", Date: testDate})
	if err != nil {
		t.Fatalf("Propose failed: %v", err)
	}

	a, b := blockShape(first.Blocks), blockShape(second.Blocks)
	if strings.Join(a, ",") != strings.Join(b, ",") {
		t.Errorf("Expected identical placements, got %v and %v", a, b)
	}
	stale, _ := st.GetByProposal(ctx, "u", first.ProposalID, nil)
	if len(stale) != 0 {
		t.Errorf("Expected first proposal superseded, found %d planned blocks", len(stale))
	}

	for i := range second.Blocks {
		for j := i + 1; j < len(second.Blocks); j++ {
			x, y := second.Blocks[i], second.Blocks[j]
			if x.Start.Before(y.End) && y.Start.Before(x.End) {
				t.Errorf("Blocks overlap: %+v %+v", x, y)
			}
		}
	}
}

func TestProposeFiltersAndSkipsConfirmedTime(t *testing.T) {
	ctx := context.Background()
	cal := &fakeCalendar{}
	p, st := newTestPlanner(t, cal)
	addTasks(t, st,
		model.Task{ID: "a", Priority: model.PriorityHigh, EstimatedMinutes: 60},
		model.Task{ID: "b", Priority: model.PriorityMed, EstimatedMinutes: 30},
	)

	prop, err := p.Propose(ctx, ProposeRequest{UserID: "u", Date: testDate, IncludeTaskIDs: []string{"a"}})
	if err != nil {
		t.Fatalf("Propose failed: %v", err)
	}
	if len(prop.Blocks) != 1 || prop.Blocks[0].TaskID != "a" {
		t.Fatalf("Expected only task a, got %+v", prop.Blocks)
	}
	if _, err := p.ConfirmWithUser(ctx, ConfirmRequest{UserID: "u", ProposalID: prop.ProposalID}, "me"); err != nil {
		t.Fatalf("ConfirmWithUser failed: %v", err)
	}

	next, err := p.Propose(ctx, ProposeRequest{UserID: "u", Date: testDate, ExcludeTaskIDs: []string{"a"}})
	if err != nil {
		t.Fatalf("Propose failed: %v", err)
	}
	if len(next.Blocks) != 1 || next.Blocks[0].TaskID != "b" {
		t.Fatalf("Expected only task b, got %+v", next.Blocks)
	}
	if !next.Blocks[0].Start.Equal(at(10, 0)) {
		t.Errorf("Expected b after the confirmed block at 10:00, got %v", next.Blocks[0].Start)
	}
}

func TestProposeInvalidRequest(t *testing.T) {
	p, _ := newTestPlanner(t, &fakeCalendar{})
	for _, req := range []ProposeRequest{
		{UserID: "", Date: testDate},
		{UserID: "u", Date: "03/04/2024"},
	} {
		if _, err := p.Propose(context.Background(), req); !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("Expected ErrInvalidRequest for %+v, got %v", req, err)
		}
	}
}

type failingRepo struct {
	*memory.Store
}

func (failingRepo) GetSchedulable(context.Context, string, []string, []string) ([]model.Task, error) {
	return nil, errors.New("database is locked")
}

func TestProposePropagatesRepositoryErrors(t *testing.T) {
	st := failingRepo{memory.New()}
	p := New(st, freetime.New(st, freetime.Defaults{Timezone: "UTC"}), nil, logx.Nop())
	_, err := p.Propose(context.Background(), ProposeRequest{UserID: "u", Date: testDate})
	if err == nil || !strings.Contains(err.Error(), "database is locked") {
		t.Fatalf("Expected repository error, got %v", err)
	}
	if errors.Is(err, ErrInvalidRequest) {
		t.Error("Repository failures must not look like invalid requests")
	}
}

func TestConfirmIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	cal := &fakeCalendar{
		failOn: map[int]error{2: errors.New("calendar quota exceeded")},
		noID:   map[int]bool{3: true},
	}
	var hooked []string
	p, st := newTestPlanner(t, cal, WithConfirmHook(func(_ context.Context, b model.TaskBlock, eventID string) {
		hooked = append(hooked, b.ID+"="+eventID)
	}))
	addTasks(t, st,
		model.Task{ID: "a", Priority: model.PriorityHigh, EstimatedMinutes: 30},
		model.Task{ID: "b", Priority: model.PriorityMed, EstimatedMinutes: 30},
		model.Task{ID: "c", Priority: model.PriorityLow, EstimatedMinutes: 30},
		model.Task{ID: "d", Priority: model.PriorityLow, EstimatedMinutes: 30},
	)
	prop, err := p.Propose(ctx, ProposeRequest{UserID: "u", Date: testDate})
	if err != nil {
		t.Fatalf("Propose failed: %v", err)
	}

	res, err := p.ConfirmWithUser(ctx, ConfirmRequest{UserID: "u", ProposalID: prop.ProposalID}, "me")
	if err != nil {
		t.Fatalf("ConfirmWithUser failed: %v", err)
	}
	if len(res.Created) != 2 {
		t.Errorf("Expected 2 created, got %+v", res.Created)
	}
	if len(res.Skipped) != 2 {
		t.Fatalf("Expected 2 skipped, got %+v", res.Skipped)
	}
	if res.Skipped[0].BlockID != prop.Blocks[1].BlockID || res.Skipped[0].Reason != "calendar quota exceeded" {
		t.Errorf("Unexpected first skip: %+v", res.Skipped[0])
	}
	if res.Skipped[1].Reason != SkipNoEventID {
		t.Errorf("Expected %q, got %q", SkipNoEventID, res.Skipped[1].Reason)
	}
	if len(hooked) != 2 {
		t.Errorf("Expected hook for each created block, got %v", hooked)
	}

	last, err := st.GetBlock(ctx, prop.Blocks[3].BlockID)
	if err != nil {
		t.Fatalf("GetBlock failed: %v", err)
	}
	if last.State != model.BlockConfirmed || last.ExternalEventID != "evt-4" {
		t.Errorf("Expected last block confirmed as evt-4, got %+v", last)
	}
	failed, _ := st.GetBlock(ctx, prop.Blocks[1].BlockID)
	if failed.State != model.BlockPlanned {
		t.Errorf("Expected failed block to stay planned, got %s", failed.State)
	}

	ev := cal.events[0]
	if ev.Summary != DefaultEventSummary {
		t.Errorf("Expected summary %q, got %q", DefaultEventSummary, ev.Summary)
	}
	if ev.PrivateMetadata["task_id"] != "a" || ev.PrivateMetadata["block_id"] != prop.Blocks[0].BlockID {
		t.Errorf("Unexpected private metadata %v", ev.PrivateMetadata)
	}
}

func TestConfirmAllowListRejectsOthers(t *testing.T) {
	ctx := context.Background()
	p, st := newTestPlanner(t, &fakeCalendar{})
	addTasks(t, st,
		model.Task{ID: "a", Priority: model.PriorityHigh, EstimatedMinutes: 30},
		model.Task{ID: "b", Priority: model.PriorityMed, EstimatedMinutes: 30},
	)
	prop, err := p.Propose(ctx, ProposeRequest{UserID: "u", Date: testDate})
	if err != nil {
		t.Fatalf("Propose failed: %v", err)
	}
	keep := prop.Blocks[0].BlockID
	res, err := p.ConfirmWithUser(ctx, ConfirmRequest{UserID: "u", ProposalID: prop.ProposalID, AcceptBlockIDs: []string{keep}}, "me")
	if err != nil {
		t.Fatalf("ConfirmWithUser failed: %v", err)
	}
	if len(res.Created) != 1 || res.Created[0].BlockID != keep {
		t.Errorf("Expected only %s created, got %+v", keep, res.Created)
	}
	if _, err := st.GetBlock(ctx, prop.Blocks[1].BlockID); err == nil {
		t.Error("Expected unaccepted block to be deleted")
	}
}

func TestConfirmUnknownProposal(t *testing.T) {
	ctx := context.Background()
	p, st := newTestPlanner(t, &fakeCalendar{})
	if _, err := p.ConfirmWithUser(ctx, ConfirmRequest{UserID: "u", ProposalID: "nope"}, "me"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown proposal, got %v", err)
	}

	addTasks(t, st, model.Task{ID: "a", Priority: model.PriorityHigh, EstimatedMinutes: 30})
	first, err := p.Propose(ctx, ProposeRequest{UserID: "u", Date: testDate})
	if err != nil {
		t.Fatalf("Propose failed: %v", err)
	}
	second, err := p.Propose(ctx, ProposeRequest{UserID: "u", Date: testDate})
	if err != nil {
		t.Fatalf("Propose failed: %v", err)
	}
	if _, err := p.ConfirmWithUser(ctx, ConfirmRequest{UserID: "u", ProposalID: first.ProposalID}, "me"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for superseded proposal, got %v", err)
	}
	if _, err := p.ConfirmWithUser(ctx, ConfirmRequest{UserID: "other", ProposalID: second.ProposalID}, "me"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for another user's proposal, got %v", err)
	}

	if _, err := p.ConfirmWithUser(ctx, ConfirmRequest{UserID: "u", ProposalID: second.ProposalID}, "me"); err != nil {
		t.Fatalf("ConfirmWithUser failed: %v", err)
	}
	res, err := p.ConfirmWithUser(ctx, ConfirmRequest{UserID: "u", ProposalID: second.ProposalID}, "me")
	if err != nil {
		t.Fatalf("Expected confirmed proposal to stay known, got %v", err)
	}
	if len(res.Created) != 0 || len(res.Skipped) != 0 {
		t.Errorf("Expected nothing left to confirm, got %+v", res)
	}
}

func TestConfirmRequiresCalendar(t *testing.T) {
	p, _ := newTestPlanner(t, nil)
	if _, err := p.ConfirmWithUser(context.Background(), ConfirmRequest{UserID: "u", ProposalID: "x"}, "me"); err == nil {
		t.Error("Expected error without a calendar")
	}
	if _, err := p.ConfirmWithUser(context.Background(), ConfirmRequest{UserID: "u"}, "me"); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("Expected ErrInvalidRequest, got %v", err)
	}
}
