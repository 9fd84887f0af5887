package orgmode

import (
	"strings"
	"testing"

	"github.com/harrisonrobin/dayblock/pkg/model"
)

const agenda = `#+TITLE: Work
* Projects
** TODO [#A] Write quarterly report :work:writing:
   DEADLINE: <2024-03-04 Mon 17:00>
   :PROPERTIES:
   :ID:       3f1f0c9e-8a7b-4f7e-9d3a-1b2c3d4e5f60
   :EFFORT:   1:30
   :END:
** DONE Email the team :work:
** TODO [#C] Tidy desk
   :PROPERTIES:
   :EFFORT: 20
   :END:
* Notes
`

func TestParse(t *testing.T) {
	items, err := Parse(strings.NewReader(agenda), "work.org", "me")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("Expected 3 items, got %d", len(items))
	}

	report := items[0].Task
	if report.ID != "3f1f0c9e-8a7b-4f7e-9d3a-1b2c3d4e5f60" {
		t.Errorf("Expected :ID: to be used, got %s", report.ID)
	}
	if report.Title != "Write quarterly report" || report.Priority != model.PriorityHigh {
		t.Errorf("Unexpected report task: %+v", report)
	}
	if report.Due != "2024-03-04" || report.EstimatedMinutes != 90 {
		t.Errorf("Expected due 2024-03-04 and 90 minutes, got %s / %d", report.Due, report.EstimatedMinutes)
	}
	if len(items[0].Tags) != 2 || items[0].Tags[1] != "writing" {
		t.Errorf("Unexpected tags %v", items[0].Tags)
	}

	email := items[1].Task
	if email.Status != model.StatusDone || email.Priority != model.PriorityMed || email.EstimatedMinutes != DefaultEstimateMinutes {
		t.Errorf("Unexpected email task: %+v", email)
	}
	if email.ID == "" {
		t.Error("Expected derived id for headline without :ID:")
	}

	desk := items[2].Task
	if desk.Priority != model.PriorityLow || desk.EstimatedMinutes != 20 || desk.Due != "" {
		t.Errorf("Unexpected desk task: %+v", desk)
	}
}

func TestDerivedIDsAreStable(t *testing.T) {
	a, _ := Parse(strings.NewReader("* TODO Tidy desk\n"), "a.org", "me")
	b, _ := Parse(strings.NewReader("* TODO Tidy desk\n"), "a.org", "me")
	c, _ := Parse(strings.NewReader("* TODO Tidy desk\n"), "b.org", "me")
	if a[0].Task.ID != b[0].Task.ID {
		t.Error("Expected same id for the same headline and file")
	}
	if a[0].Task.ID == c[0].Task.ID {
		t.Error("Expected different ids across files")
	}
}

func TestFilterTasks(t *testing.T) {
	items, _ := Parse(strings.NewReader(agenda), "work.org", "me")
	if got := FilterTasks(items, "writing"); len(got) != 1 {
		t.Errorf("Expected 1 writing item, got %d", len(got))
	}
	if got := FilterTasks(items, ""); len(got) != 3 {
		t.Errorf("Expected all items, got %d", len(got))
	}
}
