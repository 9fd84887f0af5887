package placement

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/harrisonrobin/dayblock/pkg/model"
	"github.com/harrisonrobin/dayblock/pkg/scoring"
	"github.com/harrisonrobin/dayblock/pkg/timeutil"
)

var day = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func at(h, m int) time.Time {
	return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

func workday() []timeutil.Interval {
	return []timeutil.Interval{{Start: at(9, 0), End: at(17, 0)}}
}

func TestSplitMinutes(t *testing.T) {
	cases := []struct {
		total, max int
		want       []int
	}{
		{150, 60, []int{60, 60, 30}},
		{90, 60, []int{90}},
		{91, 60, []int{60, 31}},
		{240, 60, []int{60, 60, 60, 60}},
		{0, 60, []int{1}},
		{-20, 60, []int{1}},
		{200, 0, []int{60, 60, 60, 20}},
	}
	for _, c := range cases {
		if got := SplitMinutes(c.total, c.max); !reflect.DeepEqual(got, c.want) {
			t.Errorf("SplitMinutes(%d, %d): expected %v, got %v", c.total, c.max, c.want, got)
		}
	}
}

func TestPlaceSingleHighPriorityTask(t *testing.T) {
	task := model.Task{ID: "t1", Priority: model.PriorityHigh, Due: "2024-03-04", EstimatedMinutes: 45}
	res := Place(scoring.Rank([]model.Task{task}, day), workday(), DefaultPrefs())

	if len(res.Unplaceable) != 0 {
		t.Fatalf("Expected nothing unplaceable, got %v", res.Unplaceable)
	}
	if len(res.Blocks) != 1 {
		t.Fatalf("Expected 1 block, got %d", len(res.Blocks))
	}
	b := res.Blocks[0]
	if !b.Start.Equal(at(9, 0)) || b.Minutes() != 45 {
		t.Errorf("Expected 45-minute block at 09:00, got %v-%v", b.Start, b.End)
	}
	if b.BufferMinutes != 5 {
		t.Errorf("Expected buffer 5, got %d", b.BufferMinutes)
	}
	if b.ChunkIndex != 0 {
		t.Errorf("Expected chunk index 0 for single chunk, got %d", b.ChunkIndex)
	}
	if !strings.Contains(b.Reason, "due 2024-03-04") {
		t.Errorf("Expected reason to reference the due date, got %q", b.Reason)
	}
	if !strings.Contains(b.Reason, "placed after 9:00 AM–5:00 PM") {
		t.Errorf("Expected slot label in reason, got %q", b.Reason)
	}
}

func TestPlaceNoRoomToday(t *testing.T) {
	tasks := []model.Task{
		{ID: "low", Priority: model.PriorityLow, EstimatedMinutes: 480},
		{ID: "high", Priority: model.PriorityHigh, EstimatedMinutes: 480},
	}
	free := []timeutil.Interval{{Start: at(9, 0), End: at(17, 0)}}
	res := Place(scoring.Rank(tasks, day), free, Prefs{BufferMinutes: 0, MaxChunkMinutes: 60})

	placed := 0
	for _, b := range res.Blocks {
		if b.TaskID != "high" {
			t.Errorf("Expected only the high priority task placed, got block for %s", b.TaskID)
		}
		placed += b.Minutes()
	}
	if placed != 480 {
		t.Errorf("Expected high task fully placed, got %d minutes", placed)
	}
	if len(res.Unplaceable) != 1 || res.Unplaceable[0].TaskID != "low" || res.Unplaceable[0].Reason != NoRoomReason {
		t.Errorf("Expected low task unplaceable with %q, got %+v", NoRoomReason, res.Unplaceable)
	}
}

func TestPlaceBufferedDayLeavesLastChunkOut(t *testing.T) {
	tasks := []model.Task{{ID: "high", Priority: model.PriorityHigh, EstimatedMinutes: 480}}
	free := []timeutil.Interval{{Start: at(9, 0), End: at(17, 0)}}
	res := Place(scoring.Rank(tasks, day), free, DefaultPrefs())

	// Seven 65 minute strides leave 25 minutes for the eighth chunk.
	if len(res.Blocks) != 7 {
		t.Errorf("Expected 7 chunks placed, got %d", len(res.Blocks))
	}
	if len(res.Unplaceable) != 1 || res.Unplaceable[0].TaskID != "high" {
		t.Errorf("Expected high reported once as unplaceable, got %+v", res.Unplaceable)
	}
}

func TestPlaceFullFitWithoutBufferShortfall(t *testing.T) {
	tasks := []model.Task{
		{ID: "a", Priority: model.PriorityHigh, EstimatedMinutes: 480},
		{ID: "b", Priority: model.PriorityMed, EstimatedMinutes: 480},
	}
	// Eight hours plus room for eight buffers.
	free := []timeutil.Interval{{Start: at(9, 0), End: at(17, 40)}}
	res := Place(scoring.Rank(tasks, day), free, DefaultPrefs())

	total := 0
	for _, b := range res.Blocks {
		if b.TaskID != "a" {
			t.Fatalf("Unexpected block for %s", b.TaskID)
		}
		total += b.Minutes()
	}
	if total != 480 {
		t.Errorf("Expected 480 minutes placed for a, got %d", total)
	}
	if len(res.Blocks) != 8 || res.Blocks[7].ChunkIndex != 8 {
		t.Errorf("Expected 8 chunks indexed 1..8, got %d", len(res.Blocks))
	}
	if len(res.Unplaceable) != 1 || res.Unplaceable[0].TaskID != "b" {
		t.Errorf("Expected b unplaceable, got %+v", res.Unplaceable)
	}
}

func TestPlaceFirstFitAndNoOverlap(t *testing.T) {
	free := []timeutil.Interval{
		{Start: at(9, 0), End: at(9, 30)},
		{Start: at(10, 0), End: at(12, 0)},
		{Start: at(13, 0), End: at(14, 30)},
	}
	tasks := []model.Task{
		{ID: "big", Priority: model.PriorityHigh, EstimatedMinutes: 150},
		{ID: "small", Priority: model.PriorityMed, EstimatedMinutes: 20},
		{ID: "mid", Priority: model.PriorityLow, EstimatedMinutes: 40},
	}
	res := Place(scoring.Rank(tasks, day), free, DefaultPrefs())

	for i := range res.Blocks {
		for j := i + 1; j < len(res.Blocks); j++ {
			a := timeutil.Interval{Start: res.Blocks[i].Start, End: res.Blocks[i].End}
			b := timeutil.Interval{Start: res.Blocks[j].Start, End: res.Blocks[j].End}
			if a.Overlaps(b) {
				t.Errorf("Blocks %d and %d overlap: %v %v", i, j, a, b)
			}
		}
	}

	// big: 60 at 10:00, 60 skips 11:05 (only 55 left) and lands at 13:00,
	// 30 goes to 11:05.
	want := []time.Time{at(10, 0), at(13, 0), at(11, 5)}
	for i, w := range want {
		if !res.Blocks[i].Start.Equal(w) {
			t.Errorf("Chunk %d: expected start %v, got %v", i+1, w, res.Blocks[i].Start)
		}
	}
	// small fits the first slot.
	if res.Blocks[3].TaskID != "small" || !res.Blocks[3].Start.Equal(at(9, 0)) {
		t.Errorf("Expected small at 09:00, got %+v", res.Blocks[3])
	}
	if len(res.Unplaceable) != 1 || res.Unplaceable[0].TaskID != "mid" {
		t.Errorf("Expected mid unplaceable, got %+v", res.Unplaceable)
	}
}

func TestPlaceDoesNotMutateInput(t *testing.T) {
	free := workday()
	orig := free[0]
	Place(scoring.Rank([]model.Task{{ID: "x", EstimatedMinutes: 30}}, day), free, DefaultPrefs())
	if free[0] != orig {
		t.Errorf("Expected input slots untouched, got %v", free[0])
	}
}
