package engine

import (
	"sort"
	"time"

	"go-flowgate/internal/domain"

	"github.com/google/uuid"
)

// ComputeSchedule returns the scheduled time of every task.
//
// Tasks are walked in display order. Root tasks chain on a running cursor
// that starts at now, so each one is due its own delay after the root task
// before it. A child task chains on the latest task of its branch: the
// previous sibling under the same parent, or the parent itself for the
// first child.
func ComputeSchedule(tasks []domain.Task, now time.Time) map[uuid.UUID]time.Time {
	ordered := make([]domain.Task, len(tasks))
	copy(ordered, tasks)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].DisplayOrder < ordered[j].DisplayOrder
	})

	scheduled := make(map[uuid.UUID]time.Time, len(ordered))
	branchTail := make(map[uuid.UUID]time.Time)
	cursor := now

	for _, task := range ordered {
		base := cursor
		if task.ParentTaskID != nil {
			parentID := *task.ParentTaskID
			if tail, ok := branchTail[parentID]; ok {
				base = tail
			} else if at, ok := scheduled[parentID]; ok {
				base = at
			}
		}

		at := base.Add(task.Delay())
		scheduled[task.ID] = at

		if task.ParentTaskID == nil {
			cursor = at
		} else {
			branchTail[*task.ParentTaskID] = at
		}
	}

	return scheduled
}
