package coordinator

import (
	"context"
	"time"

	"go-flowgate/internal/core/ports"

	"github.com/google/uuid"
)

// StoreSource finds due executions by querying the store directly. Unlike a
// queue it needs no bookkeeping: an execution stays due until it leaves
// PENDING, so deferred ones are picked up again on the next sweep.
type StoreSource struct {
	repo ports.ExecutionRepository
}

var _ ports.DueSource = StoreSource{}

func NewStoreSource(repo ports.ExecutionRepository) StoreSource {
	return StoreSource{repo: repo}
}

func (s StoreSource) Due(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	execs, err := s.repo.FindDue(ctx, now, limit)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, len(execs))
	for i, e := range execs {
		ids[i] = e.ID
	}
	return ids, nil
}
