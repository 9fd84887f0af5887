// Package placement packs ranked tasks into free intervals, first fit.
package placement

import (
	"time"

	"github.com/google/uuid"

	"github.com/harrisonrobin/dayblock/pkg/model"
	"github.com/harrisonrobin/dayblock/pkg/scoring"
	"github.com/harrisonrobin/dayblock/pkg/timeutil"
)

const (
	DefaultBufferMinutes   = 5
	DefaultMaxChunkMinutes = 60

	// singleChunkLimit is the largest estimate placed as one block.
	singleChunkLimit = 90

	NoRoomReason = "No room today"
	labelLayout  = "3:04 PM"
)

type Prefs struct {
	BufferMinutes   int
	MaxChunkMinutes int
	// Location formats slot labels; nil keeps each slot's own zone.
	Location *time.Location
}

// DefaultPrefs returns a 5 minute buffer and 60 minute chunks.
func DefaultPrefs() Prefs {
	return Prefs{BufferMinutes: DefaultBufferMinutes, MaxChunkMinutes: DefaultMaxChunkMinutes}
}

func (p Prefs) normalized() Prefs {
	if p.BufferMinutes < 0 {
		p.BufferMinutes = 0
	}
	if p.MaxChunkMinutes <= 0 {
		p.MaxChunkMinutes = DefaultMaxChunkMinutes
	}
	return p
}

type Unplaceable struct {
	TaskID string `json:"task_id"`
	Reason string `json:"reason"`
}

type Result struct {
	Blocks      []model.TaskBlock
	Unplaceable []Unplaceable
}

// SplitMinutes divides total into chunks. Totals up to 90 minutes stay whole;
// larger ones are carved into maxChunk pieces with a shorter remainder.
func SplitMinutes(total, maxChunk int) []int {
	if total <= 0 {
		total = 1
	}
	if maxChunk <= 0 {
		maxChunk = DefaultMaxChunkMinutes
	}
	if total <= singleChunkLimit {
		return []int{total}
	}
	var chunks []int
	for total > 0 {
		c := min(maxChunk, total)
		chunks = append(chunks, c)
		total -= c
	}
	return chunks
}

// Place assigns each chunk of each ranked task to the first free interval
// long enough for the chunk plus buffer. free is not modified.
func Place(ranked []scoring.Ranked, free []timeutil.Interval, prefs Prefs) Result {
	prefs = prefs.normalized()
	slots := append([]timeutil.Interval(nil), free...)
	buffer := time.Duration(prefs.BufferMinutes) * time.Minute

	var res Result
	missed := make(map[string]bool)
	for _, r := range ranked {
		chunks := SplitMinutes(r.Task.EstimatedMinutes, prefs.MaxChunkMinutes)
		for i, minutes := range chunks {
			length := time.Duration(minutes) * time.Minute
			idx := firstFit(slots, length+buffer)
			if idx < 0 {
				if !missed[r.Task.ID] {
					missed[r.Task.ID] = true
					res.Unplaceable = append(res.Unplaceable, Unplaceable{TaskID: r.Task.ID, Reason: NoRoomReason})
				}
				break
			}

			slot := slots[idx]
			chunkIndex := 0
			if len(chunks) > 1 {
				chunkIndex = i + 1
			}
			res.Blocks = append(res.Blocks, model.TaskBlock{
				ID:            uuid.NewString(),
				UserID:        r.Task.UserID,
				TaskID:        r.Task.ID,
				Start:         slot.Start,
				End:           slot.Start.Add(length),
				BufferMinutes: prefs.BufferMinutes,
				State:         model.BlockPlanned,
				ChunkIndex:    chunkIndex,
				Reason:        scoring.Reason(r.Task, chunkIndex, slotLabel(slot, prefs.Location)),
			})

			next := slot.Start.Add(length + buffer)
			if !next.Before(slot.End) {
				slots = append(slots[:idx], slots[idx+1:]...)
			} else {
				slots[idx].Start = next
			}
		}
	}
	return res
}

func firstFit(slots []timeutil.Interval, need time.Duration) int {
	for i, s := range slots {
		if s.Duration() >= need {
			return i
		}
	}
	return -1
}

func slotLabel(slot timeutil.Interval, loc *time.Location) string {
	start, end := slot.Start, slot.End
	if loc != nil {
		start, end = start.In(loc), end.In(loc)
	}
	return start.Format(labelLayout) + "–" + end.Format(labelLayout)
}
