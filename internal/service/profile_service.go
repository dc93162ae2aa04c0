package service

import (
	"context"
	"errors"
	"strings"

	"goldledger/internal/model"
	"goldledger/internal/repository"
)

type ProfileService struct {
	profiles ProfileStore
}

func NewProfileService(profiles ProfileStore) *ProfileService {
	return &ProfileService{profiles: profiles}
}

type RegisterRequest struct {
	Phone     string `json:"phone" binding:"required"`
	FirstName string `json:"first_name" binding:"required"`
	LastName  string `json:"last_name"`
	Email     string `json:"email" binding:"omitempty,email"`
}

func (s *ProfileService) Register(ctx context.Context, req *RegisterRequest) (*model.Profile, error) {
	phone := strings.TrimSpace(req.Phone)
	if phone == "" {
		return nil, invalidInput("手机号不能为空")
	}

	profile := &model.Profile{
		Phone:     phone,
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
		Email:     req.Email,
		KycStatus: model.KycNotStarted,
	}
	if err := s.profiles.Create(ctx, profile); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrProfileExists
		}
		return nil, err
	}
	return profile, nil
}

func (s *ProfileService) Get(ctx context.Context, phone string) (*model.Profile, error) {
	profile, err := s.profiles.GetByPhone(ctx, phone)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrProfileNotFound
	}
	return profile, err
}

func (s *ProfileService) Exists(ctx context.Context, phone string) (bool, error) {
	return s.profiles.Exists(ctx, phone)
}
