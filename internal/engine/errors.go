package engine

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrTemplateNotFound      = errors.New("workflow template not found")
	ErrInstanceNotFound      = errors.New("workflow instance not found")
	ErrExecutionNotFound     = errors.New("task execution not found")
	ErrTaskNotFound          = errors.New("task not found in template")
	ErrInvalidBranchOperator = errors.New("invalid branch operator")

	// ErrInvalidGateState is returned when approving or rejecting an
	// execution that is not AWAITING_HITL.
	ErrInvalidGateState = errors.New("execution is not awaiting approval")

	ErrInstanceNotActive = errors.New("workflow instance is not active")
)

// FailurePolicy decides what happens to tasks gated on a FAILED task.
type FailurePolicy string

const (
	// FailureBlocksDependents leaves dependents PENDING until someone intervenes.
	FailureBlocksDependents FailurePolicy = "block"
	// FailureSkipsDependents marks dependents SKIPPED once they come due.
	FailureSkipsDependents FailurePolicy = "skip"
)

func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", FailureBlocksDependents:
		return FailureBlocksDependents, nil
	case FailureSkipsDependents:
		return FailureSkipsDependents, nil
	default:
		return "", fmt.Errorf("unknown failure policy %q", s)
	}
}
