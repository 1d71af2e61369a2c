package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
)

type AccountService interface {
	List(ctx context.Context, active *bool) ([]*models.Account, error)
	Freeze(ctx context.Context, id int64) error
	Unfreeze(ctx context.Context, id int64) error
}

type accountService struct {
	ar repository.AccountRepository
}

func NewAccountService(ar repository.AccountRepository) AccountService {
	return &accountService{ar: ar}
}

func (s *accountService) List(ctx context.Context, active *bool) ([]*models.Account, error) {
	accounts, err := s.ar.List(ctx, active)
	if err != nil {
		return nil, fmt.Errorf("error listing accounts: %w", err)
	}
	return accounts, nil
}

func (s *accountService) Freeze(ctx context.Context, id int64) error {
	return s.setActive(ctx, id, false)
}

func (s *accountService) Unfreeze(ctx context.Context, id int64) error {
	return s.setActive(ctx, id, true)
}

func (s *accountService) setActive(ctx context.Context, id int64, active bool) error {
	account, err := s.ar.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if account == nil {
		return errors.New("account not found")
	}
	return s.ar.SetActive(ctx, id, active)
}
