package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/smallbiznis/creatorops/internal/entity/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo domain.Repository
}

type Service struct {
	db   *gorm.DB
	log  *zap.Logger
	repo domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:   p.DB,
		log:  p.Log.Named("entity.service"),
		repo: p.Repo,
	}
}

func (s *Service) Get(ctx context.Context, id string) (domain.Entity, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Entity{}, domain.ErrNotFound
	}
	entity, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Entity{}, err
	}
	if entity == nil {
		return domain.Entity{}, domain.ErrNotFound
	}
	return *entity, nil
}

func (s *Service) ListIDs(ctx context.Context, afterID string, limit int) ([]string, error) {
	return s.repo.ListIDs(ctx, s.db, afterID, limit)
}

func (s *Service) UpdateStatus(ctx context.Context, id string, status domain.Status) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidStatus, status)
	}
	affected, err := s.repo.UpdateStatus(ctx, s.db, id, status)
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// BoostPriority adds by to the entity's priority and returns the new value.
func (s *Service) BoostPriority(ctx context.Context, id string, by int) (int, error) {
	var priority int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		affected, err := s.repo.IncrementPriority(ctx, tx, id, by)
		if err != nil {
			return err
		}
		if affected == 0 {
			return domain.ErrNotFound
		}
		entity, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if entity == nil {
			return domain.ErrNotFound
		}
		priority = entity.Priority
		return nil
	})
	return priority, err
}
