package insights

import (
	"context"
	"testing"
	"time"

	"github.com/harrisonrobin/dayblock/pkg/freetime"
	"github.com/harrisonrobin/dayblock/pkg/model"
	"github.com/harrisonrobin/dayblock/pkg/store/memory"
)

var day = time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC) // a Wednesday

func at(h, m int) time.Time {
	return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

func intp(v int) *int { return &v }

func TestEstimationBias(t *testing.T) {
	sessions := []model.WorkSession{
		{State: model.SessionCompleted, MinutesWorked: intp(50), EstimateSnapshot: intp(60)},
		{State: model.SessionStopped, MinutesWorked: intp(10), EstimateSnapshot: intp(60)},
		{State: model.SessionCompleted, MinutesWorked: intp(10)},
	}
	if got := EstimationBias(sessions); got != -0.167 {
		t.Errorf("Expected -0.167, got %v", got)
	}
	if got := EstimationBias(nil); got != 0 {
		t.Errorf("Expected 0 without sessions, got %v", got)
	}
	zero := []model.WorkSession{{State: model.SessionCompleted, MinutesWorked: intp(3), EstimateSnapshot: intp(0)}}
	if got := EstimationBias(zero); got != 2 {
		t.Errorf("Expected snapshot clamped to 1, got %v", got)
	}
}

func seed(t *testing.T) *memory.Store {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	_ = st.PutUserSettings(ctx, "u", model.UserSettings{Timezone: "UTC"})
	for _, tk := range []model.Task{
		{ID: "done", UserID: "u", Title: "Shipped", EstimatedMinutes: 60, Status: model.StatusTodo},
		{ID: "slip", UserID: "u", Title: "Forgotten", EstimatedMinutes: 30, Status: model.StatusTodo},
	} {
		_ = st.UpsertTask(ctx, tk)
	}
	_ = st.PersistPlanned(ctx, "u", "p", []model.TaskBlock{
		{ID: "b1", TaskID: "done", Start: at(9, 0), End: at(10, 0)},
		{ID: "b2", TaskID: "slip", Start: at(10, 5), End: at(10, 35)},
	})
	_ = st.MarkConfirmed(ctx, "b1", "evt")

	id, _ := st.Start(ctx, "u", "done", "b1", at(9, 0))
	_, _, _ = st.Complete(ctx, "u", "done", at(9, 50))
	_ = st.SetEstimateSnapshot(ctx, id, 60)
	_ = st.UpdateEstimateAndStatus(ctx, "u", "done", 57, model.StatusDone)

	_, _ = st.ReplaceBusy(ctx, "u", "ics:team", day, day.AddDate(0, 0, 1), []model.BusyInterval{
		{ExternalID: "m1", Start: at(13, 0), End: at(14, 0)},
		{ExternalID: "m2", Start: at(13, 30), End: at(14, 30)},
	})
	return st
}

func TestDaily(t *testing.T) {
	st := seed(t)
	e := New(st, freetime.New(st, freetime.Defaults{}))
	r, err := e.Daily(context.Background(), "u", "2024-03-06")
	if err != nil {
		t.Fatalf("Daily failed: %v", err)
	}
	if r.Minutes.Planned != 90 {
		t.Errorf("Expected 90 planned minutes, got %d", r.Minutes.Planned)
	}
	if r.Minutes.Confirmed != 60 {
		t.Errorf("Expected 60 confirmed minutes, got %d", r.Minutes.Confirmed)
	}
	if r.Minutes.Executed != 50 {
		t.Errorf("Expected 50 executed minutes, got %d", r.Minutes.Executed)
	}
	// Overlapping meetings are summed, not merged.
	if r.Minutes.CalendarBusy != 120 {
		t.Errorf("Expected 120 busy minutes, got %d", r.Minutes.CalendarBusy)
	}
	if len(r.Slipped) != 1 || r.Slipped[0].TaskID != "slip" || r.Slipped[0].Title != "Forgotten" {
		t.Errorf("Expected slip to have slipped, got %+v", r.Slipped)
	}
	if r.EstimationBias != -0.167 {
		t.Errorf("Expected bias -0.167, got %v", r.EstimationBias)
	}
}

func TestWeeklyCoversMondayToSunday(t *testing.T) {
	st := seed(t)
	e := New(st, freetime.New(st, freetime.Defaults{}))
	r, err := e.Weekly(context.Background(), "u", "2024-03-06")
	if err != nil {
		t.Fatalf("Weekly failed: %v", err)
	}
	if r.Date != "2024-03-04" {
		t.Errorf("Expected week starting 2024-03-04, got %s", r.Date)
	}
	if r.Minutes.Planned != 90 || r.Minutes.Executed != 50 {
		t.Errorf("Unexpected weekly minutes %+v", r.Minutes)
	}

	other, err := e.Daily(context.Background(), "u", "2024-03-07")
	if err != nil {
		t.Fatalf("Daily failed: %v", err)
	}
	if other.Minutes.Planned != 0 || len(other.Slipped) != 0 || other.EstimationBias != 0 {
		t.Errorf("Expected empty report for a quiet day, got %+v", other)
	}
}
