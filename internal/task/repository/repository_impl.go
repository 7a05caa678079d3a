package repository

import (
	"context"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/creatorops/internal/clock"
	"github.com/smallbiznis/creatorops/internal/task/domain"
	"github.com/smallbiznis/creatorops/pkg/repository"
	"gorm.io/gorm"
)

type store struct {
	tasks repository.Repository[domain.Task]
	clock clock.Clock
}

func NewStore(db *gorm.DB, clk clock.Clock) domain.Store {
	return &store{
		tasks: repository.ProvideStore[domain.Task](db),
		clock: clk,
	}
}

func (s *store) Create(ctx context.Context, task domain.Task) (string, error) {
	if strings.TrimSpace(task.EntityID) == "" || strings.TrimSpace(task.Title) == "" {
		return "", domain.ErrInvalidTask
	}
	now := s.clock.Now()
	task.ID = ulid.Make().String()
	if task.Priority == "" {
		task.Priority = "normal"
	}
	task.Status = domain.StatusOpen
	task.CreatedAt = now
	task.UpdatedAt = now

	if err := s.tasks.Create(ctx, &task); err != nil {
		return "", err
	}
	return task.ID, nil
}

func (s *store) ListOpen(ctx context.Context, entityID string) ([]domain.Task, error) {
	items, err := s.tasks.Find(ctx,
		&domain.Task{EntityID: entityID, Status: domain.StatusOpen},
		repository.OrderBy("created_at asc, id asc"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Task, 0, len(items))
	for _, item := range items {
		out = append(out, *item)
	}
	return out, nil
}
