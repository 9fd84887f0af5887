// Package scoring ranks tasks for placement.
package scoring

import (
	"fmt"
	"sort"
	"time"

	"github.com/harrisonrobin/dayblock/pkg/model"
	"github.com/harrisonrobin/dayblock/pkg/timeutil"
)

// noDue is the days-to-due value of tasks without a (parseable) due date.
const noDue = 999

func weight(p model.Priority) float64 {
	switch p {
	case model.PriorityLow:
		return 1
	case model.PriorityHigh:
		return 3
	default:
		return 2
	}
}

// DaysToDue returns whole calendar days from ref to the task's due date,
// negative when overdue.
func DaysToDue(t model.Task, ref time.Time) int {
	if !t.HasDue() {
		return noDue
	}
	due, err := time.ParseInLocation(model.DateLayout, t.Due, ref.Location())
	if err != nil {
		return noDue
	}
	return timeutil.CivilDaysBetween(ref, due)
}

// Score computes the placement priority of t relative to the day of ref.
func Score(t model.Task, ref time.Time) float64 {
	days := DaysToDue(t, ref)
	score := weight(t.Priority) * 2
	score += float64(max(0, 4-days))
	if days < 0 {
		score += 3
	}
	if t.EstimatedMinutes > 90 {
		score -= 0.5
	}
	return score
}

// Reason renders the human explanation attached to a block. chunk is 0 for
// unsplit tasks; placedAfter is an optional slot label.
func Reason(t model.Task, chunk int, placedAfter string) string {
	chunkPart := ""
	if chunk > 0 {
		chunkPart = fmt.Sprintf(" (chunk %d)", chunk)
	}
	if !t.HasDue() {
		return fmt.Sprintf("Prioritized%s by importance; scheduled early.", chunkPart)
	}
	s := fmt.Sprintf("High relevance%s; due %s", chunkPart, t.Due)
	if placedAfter != "" {
		s += "; placed after " + placedAfter
	}
	return s + "."
}

// Ranked is a task with its score.
type Ranked struct {
	Task  model.Task
	Score float64
}

// Rank scores tasks against ref and sorts them by descending score.
// Equal scores keep input order.
func Rank(tasks []model.Task, ref time.Time) []Ranked {
	out := make([]Ranked, len(tasks))
	for i, t := range tasks {
		out[i] = Ranked{Task: t, Score: Score(t, ref)}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}
