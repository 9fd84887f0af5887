// Package orgmode imports TODO headlines from Org files.
package orgmode

import (
	"bufio"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/harrisonrobin/dayblock/pkg/model"
	"github.com/harrisonrobin/dayblock/pkg/timeutil"
)

// DefaultEstimateMinutes applies to headlines without an :EFFORT: property.
const DefaultEstimateMinutes = 30

// orgNamespace derives stable ids for headlines that carry no :ID:.
var orgNamespace = uuid.MustParse("6f1c1b7e-3d2a-4a57-9a8e-0b4f1f0d6a11")

var (
	headlineRegex = regexp.MustCompile(`^\*+\s+(TODO|DONE)\s+(?:\[#([A-C])\]\s*)?(.*?)(?:\s+(:[\w@:]+:))?\s*$`)
	deadlineRegex = regexp.MustCompile(`DEADLINE:\s+<(\d{4}-\d{2}-\d{2})[^>]*>`)
	idRegex       = regexp.MustCompile(`^:ID:\s+(\S+)`)
	effortRegex   = regexp.MustCompile(`^:EFFORT:\s+(\S+)`)
)

// Item is a parsed headline with its tags.
type Item struct {
	Task model.Task
	Tags []string
}

// ParseFiles parses every file for userID.
func ParseFiles(userID string, paths []string) ([]Item, error) {
	var all []Item
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return nil, err
		}
		items, err := Parse(f, p, userID)
		f.Close()
		if err != nil {
			return nil, err
		}
		all = append(all, items...)
	}
	return all, nil
}

// Parse reads TODO/DONE headlines of any level. Priorities [#A]/[#B]/[#C]
// map to high/med/low; DEADLINE dates, :ID: and :EFFORT: properties are
// picked up from the lines below the headline.
func Parse(r io.Reader, source, userID string) ([]Item, error) {
	var (
		items   []Item
		current *Item
	)
	flush := func() {
		if current == nil || current.Task.Title == "" {
			current = nil
			return
		}
		if current.Task.ID == "" {
			current.Task.ID = uuid.NewSHA1(orgNamespace, []byte(source+"\x00"+current.Task.Title)).String()
		}
		items = append(items, *current)
		current = nil
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "*") {
			flush()
			m := headlineRegex.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			current = &Item{Task: model.Task{
				UserID:           userID,
				Title:            strings.TrimSpace(m[3]),
				Priority:         priority(m[2]),
				EstimatedMinutes: DefaultEstimateMinutes,
				Status:           model.StatusTodo,
				Source:           "orgmode",
			}}
			if m[1] == "DONE" {
				current.Task.Status = model.StatusDone
			}
			if m[4] != "" {
				current.Tags = strings.Split(strings.Trim(m[4], ":"), ":")
			}
			continue
		}
		if current == nil {
			continue
		}
		if m := deadlineRegex.FindStringSubmatch(line); m != nil {
			if _, err := time.Parse(model.DateLayout, m[1]); err == nil {
				current.Task.Due = m[1]
			}
		}
		if m := idRegex.FindStringSubmatch(line); m != nil {
			current.Task.ID = m[1]
		}
		if m := effortRegex.FindStringSubmatch(line); m != nil {
			if d, err := timeutil.ParseEffort(m[1]); err == nil && d > 0 {
				current.Task.EstimatedMinutes = int(d.Minutes())
			}
		}
	}
	flush()
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func priority(p string) model.Priority {
	switch p {
	case "A":
		return model.PriorityHigh
	case "C":
		return model.PriorityLow
	default:
		return model.PriorityMed
	}
}

// FilterTasks keeps items carrying tag. An empty tag keeps everything.
func FilterTasks(items []Item, tag string) []Item {
	if tag == "" {
		return items
	}
	var out []Item
	for _, it := range items {
		for _, t := range it.Tags {
			if t == tag {
				out = append(out, it)
				break
			}
		}
	}
	return out
}
