package taskwarrior

import (
	"fmt"
	"strings"
	"time"

	"github.com/harrisonrobin/dayblock/pkg/model"
	"github.com/harrisonrobin/dayblock/pkg/timeutil"
)

const (
	PENDING   = "pending"
	COMPLETED = "completed"
	WAITING   = "waiting"
	DELETED   = "deleted"
)

// DefaultEstimateMinutes is used when a task has no usable est UDA.
const DefaultEstimateMinutes = 30

type CustomTime struct {
	time.Time
}

const taskwarriorTimeLayout = "20060102T150405Z"

func (ct *CustomTime) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "0" {
		ct.Time = time.Time{}
		return nil
	}
	t, err := time.Parse(taskwarriorTimeLayout, s)
	if err != nil {
		return fmt.Errorf("failed to parse Taskwarrior time string '%s': %w", s, err)
	}
	ct.Time = t
	return nil
}

func (ct CustomTime) MarshalJSON() ([]byte, error) {
	if ct.Time.IsZero() {
		return []byte(`""`), nil
	}
	return []byte(`"` + ct.Time.Format(taskwarriorTimeLayout) + `"`), nil
}

type Task struct {
	UUID        string      `json:"uuid"`
	Description string      `json:"description"`
	Due         *CustomTime `json:"due,omitempty"`
	Status      string      `json:"status"`
	Priority    string      `json:"priority,omitempty"`
	Project     string      `json:"project,omitempty"`
	Tags        []string    `json:"tags,omitempty"`
	Annotations []struct {
		Description string      `json:"description"`
		Entry       *CustomTime `json:"entry"`
	} `json:"annotations,omitempty"`
	// Est is the estimate UDA (uda.est.type=duration), e.g. PT1H30M.
	Est string `json:"est,omitempty"`
}

// ToTask maps an exported task onto a dayblock task owned by userID. Due
// dates become calendar dates in loc. ok is false for deleted and waiting
// tasks, which are not imported.
func (t Task) ToTask(userID string, loc *time.Location) (model.Task, bool) {
	var status model.TaskStatus
	switch t.Status {
	case PENDING:
		status = model.StatusTodo
	case COMPLETED:
		status = model.StatusDone
	default:
		return model.Task{}, false
	}

	out := model.Task{
		ID:               t.UUID,
		UserID:           userID,
		Title:            t.Description,
		Priority:         priority(t.Priority),
		EstimatedMinutes: estimateMinutes(t.Est),
		Status:           status,
		Source:           "taskwarrior",
	}
	if t.Due != nil && !t.Due.IsZero() {
		out.Due = t.Due.In(loc).Format(model.DateLayout)
	}
	var notes []string
	if t.Project != "" {
		notes = append(notes, "project: "+t.Project)
	}
	for _, a := range t.Annotations {
		notes = append(notes, a.Description)
	}
	out.Notes = strings.Join(notes, "\n")
	return out, true
}

func priority(p string) model.Priority {
	switch strings.ToUpper(p) {
	case "H":
		return model.PriorityHigh
	case "L":
		return model.PriorityLow
	default:
		return model.PriorityMed
	}
}

func estimateMinutes(est string) int {
	if est == "" {
		return DefaultEstimateMinutes
	}
	d, err := timeutil.ParseISODuration(est)
	if err != nil {
		if d, err = time.ParseDuration(est); err != nil {
			return DefaultEstimateMinutes
		}
	}
	if m := int(d.Round(time.Minute).Minutes()); m > 0 {
		return m
	}
	return DefaultEstimateMinutes
}
