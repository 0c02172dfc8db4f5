package domain

import (
	"sort"

	"github.com/google/uuid"
)

// OrderedTasks returns the template tasks sorted by display order.
func (t *WorkflowTemplate) OrderedTasks() []Task {
	tasks := make([]Task, len(t.Tasks))
	copy(tasks, t.Tasks)
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].DisplayOrder < tasks[j].DisplayOrder
	})
	return tasks
}

func (t *WorkflowTemplate) FindTask(id uuid.UUID) (*Task, bool) {
	for i := range t.Tasks {
		if t.Tasks[i].ID == id {
			return &t.Tasks[i], true
		}
	}
	return nil, false
}

// GatingTask returns the task whose result gates the given one: its explicit
// parent, or for a conditional task without a parent, the task right before
// it in display order.
func (t *WorkflowTemplate) GatingTask(task *Task) (*Task, bool) {
	if task.ParentTaskID != nil {
		return t.FindTask(*task.ParentTaskID)
	}
	if task.BranchCondition == nil {
		return nil, false
	}
	ordered := t.OrderedTasks()
	for i := range ordered {
		if ordered[i].ID == task.ID {
			if i == 0 {
				return nil, false
			}
			return t.FindTask(ordered[i-1].ID)
		}
	}
	return nil, false
}
