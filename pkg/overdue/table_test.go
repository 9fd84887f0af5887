package overdue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/harrisonrobin/dayblock/pkg/logx"
	"github.com/harrisonrobin/dayblock/pkg/model"
	"github.com/harrisonrobin/dayblock/pkg/store"
)

type fakeBlocks map[string]model.TaskBlock

func (f fakeBlocks) GetBlock(_ context.Context, id string) (model.TaskBlock, error) {
	b, ok := f[id]
	if !ok {
		return model.TaskBlock{}, store.ErrNotFound
	}
	return b, nil
}

type fakePatcher struct {
	patched map[string]string
	fail    bool
}

func (f *fakePatcher) PatchSummary(_ context.Context, eventID, summary string) error {
	if f.fail {
		return errors.New("quota")
	}
	f.patched[eventID] = summary
	return nil
}

var nine = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

func TestSweepReturnsEndedEntries(t *testing.T) {
	tbl, err := NewTable(t.TempDir(), logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	tbl.Update(Entry{BlockID: "b1", End: nine})
	tbl.Update(Entry{BlockID: "b2", End: nine.Add(time.Hour)})

	swept := tbl.Sweep(nine)
	if len(swept) != 1 || swept[0].BlockID != "b1" {
		t.Errorf("Expected b1 swept, got %+v", swept)
	}
	if tbl.Len() != 1 {
		t.Errorf("Expected one remaining entry, got %d", tbl.Len())
	}
}

func TestRecorderPersists(t *testing.T) {
	dir := t.TempDir()
	tbl, err := NewTable(dir, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	hook := tbl.Recorder("Focus block")
	hook(context.Background(), model.TaskBlock{ID: "b1", TaskID: "t1", End: nine}, "evt-1")

	again, err := NewTable(dir, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	e, ok := again.Entries["b1"]
	if !ok || e.EventID != "evt-1" || e.Summary != "Focus block" || !e.End.Equal(nine) {
		t.Errorf("Unexpected persisted entry: %+v", e)
	}
}

func TestSweeperFlagsOnlyUnexecuted(t *testing.T) {
	tbl, err := NewTable(t.TempDir(), logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	tbl.Update(Entry{BlockID: "missed", EventID: "e1", Summary: "Focus block", End: nine})
	tbl.Update(Entry{BlockID: "worked", EventID: "e2", Summary: "Focus block", End: nine})
	tbl.Update(Entry{BlockID: "gone", EventID: "e3", Summary: "Focus block", End: nine})
	tbl.Update(Entry{BlockID: "later", EventID: "e4", Summary: "Focus block", End: nine.Add(time.Hour)})

	blocks := fakeBlocks{
		"missed": {ID: "missed", State: model.BlockConfirmed},
		"worked": {ID: "worked", State: model.BlockExecuted},
		"later":  {ID: "later", State: model.BlockConfirmed},
	}
	p := &fakePatcher{patched: map[string]string{}}
	res, err := NewSweeper(tbl, blocks, p, logx.Nop()).Run(context.Background(), nine.Add(time.Minute))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Checked != 3 || len(res.Flagged) != 1 || res.Flagged[0] != "missed" {
		t.Errorf("Unexpected result: %+v", res)
	}
	if p.patched["e1"] != "! Focus block" || len(p.patched) != 1 {
		t.Errorf("Expected only e1 patched, got %v", p.patched)
	}
	if tbl.Len() != 1 {
		t.Errorf("Expected later block kept, got %d entries", tbl.Len())
	}
}

func TestSweeperRetriesFailedPatch(t *testing.T) {
	tbl, err := NewTable(t.TempDir(), logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	tbl.Update(Entry{BlockID: "missed", EventID: "e1", End: nine})
	p := &fakePatcher{patched: map[string]string{}, fail: true}
	blocks := fakeBlocks{"missed": {ID: "missed", State: model.BlockConfirmed}}

	res, err := NewSweeper(tbl, blocks, p, logx.Nop()).Run(context.Background(), nine)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(res.Flagged) != 0 || tbl.Len() != 1 {
		t.Errorf("Expected entry kept for retry, got %+v with %d entries", res, tbl.Len())
	}
}
