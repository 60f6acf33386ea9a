package service

import (
	"context"
	"errors"
	"fmt"

	"norvis/internal/model"
	"norvis/internal/repository"
)

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrUserAlreadyExists = repository.ErrUserExists
)

type UserService interface {
	// Create stores the profile and provisions the FREE quota.
	Create(ctx context.Context, u *model.User) (*model.User, error)
	Get(ctx context.Context, id string) (*model.User, error)
}

type userService struct {
	userRepo repository.UserRepository
	quotas   QuotaService
}

func NewUserService(userRepo repository.UserRepository, quotas QuotaService) UserService {
	return &userService{userRepo: userRepo, quotas: quotas}
}

func (s *userService) Create(ctx context.Context, u *model.User) (*model.User, error) {
	if err := s.userRepo.CreateUser(ctx, u); err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			// An earlier attempt may have stored the profile and then failed
			// to provision; EnsureQuota is idempotent.
			if qerr := s.quotas.EnsureQuota(ctx, u.UserID); qerr != nil {
				return nil, fmt.Errorf("provisioning quota: %w", qerr)
			}
		}
		return nil, err
	}
	if err := s.quotas.EnsureQuota(ctx, u.UserID); err != nil {
		return nil, fmt.Errorf("provisioning quota: %w", err)
	}
	return u, nil
}

func (s *userService) Get(ctx context.Context, id string) (*model.User, error) {
	u, err := s.userRepo.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	return u, nil
}
