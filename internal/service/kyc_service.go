package service

import (
	"context"
	"errors"
	"fmt"

	"goldledger/internal/infrastructure/verification"
	"goldledger/internal/model"
	"goldledger/internal/repository"
	"goldledger/pkg/logger"
)

// Verifier 外部核验边界
type Verifier interface {
	Verify(ctx context.Context, req *verification.Request) (*verification.Result, error)
}

type ProfileStore interface {
	Create(ctx context.Context, profile *model.Profile) error
	GetByPhone(ctx context.Context, phone string) (*model.Profile, error)
	Exists(ctx context.Context, phone string) (bool, error)
	UpdateVerification(ctx context.Context, phone string, updates map[string]interface{}) error
}

type KycService struct {
	verifier Verifier
	profiles ProfileStore
}

func NewKycService(verifier Verifier, profiles ProfileStore) *KycService {
	return &KycService{verifier: verifier, profiles: profiles}
}

type KycResult struct {
	Result  *verification.Result `json:"result"`
	Profile *model.Profile       `json:"profile"`
}

// Verify 调用一次核验服务。success=false 原样包装成 ExternalVerificationError 返回，不重试
func (s *KycService) Verify(ctx context.Context, req *verification.Request) (*KycResult, error) {
	if req.UserRef == "" {
		return nil, invalidInput("用户不能为空")
	}
	if !req.Kind.Valid() {
		return nil, invalidInput("未知核验类型 %q", req.Kind)
	}

	profile, err := s.profiles.GetByPhone(ctx, req.UserRef)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}

	res, err := s.verifier.Verify(ctx, req)
	if err != nil {
		return nil, err
	}
	if !res.Success {
		logger.Warn("核验未通过", "user", req.UserRef, "kind", req.Kind, "message", res.Message)
		return nil, &ExternalVerificationError{Kind: string(req.Kind), Message: res.Message}
	}

	updates := map[string]interface{}{}
	switch req.Kind {
	case verification.KindPan:
		profile.PanVerified = true
		updates["pan_verified"] = true
	case verification.KindAadhaarOtpVerify:
		profile.AadhaarVerified = true
		updates["aadhaar_verified"] = true
	case verification.KindBank:
		profile.BankVerified = true
		updates["bank_verified"] = true
	case verification.KindAadhaarOtpSend:
		// 只发了验证码，资料不变
		return &KycResult{Result: res, Profile: profile}, nil
	}

	if profile.PanVerified && profile.AadhaarVerified {
		profile.KycStatus = model.KycVerified
	} else {
		profile.KycStatus = model.KycPending
	}
	updates["kyc_status"] = profile.KycStatus

	if err := s.profiles.UpdateVerification(ctx, req.UserRef, updates); err != nil {
		return nil, fmt.Errorf("更新核验状态失败: %w", err)
	}
	return &KycResult{Result: res, Profile: profile}, nil
}
