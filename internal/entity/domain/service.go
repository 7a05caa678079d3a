package domain

import "context"

// Service is the entity store consumed by the engine and the action dispatcher.
type Service interface {
	Get(ctx context.Context, id string) (Entity, error)
	ListIDs(ctx context.Context, afterID string, limit int) ([]string, error)
	UpdateStatus(ctx context.Context, id string, status Status) error
	BoostPriority(ctx context.Context, id string, by int) (int, error)
}
