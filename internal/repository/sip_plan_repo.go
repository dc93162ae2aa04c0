package repository

import (
	"context"
	"errors"
	"time"

	"goldledger/internal/model"

	"gorm.io/gorm"
)

type SipPlanRepository struct {
	db *gorm.DB
}

func NewSipPlanRepository(db *gorm.DB) *SipPlanRepository {
	return &SipPlanRepository{db: db}
}

func (r *SipPlanRepository) Create(ctx context.Context, plan *model.SipPlan) error {
	return classify(r.db.WithContext(ctx).Create(plan).Error)
}

func (r *SipPlanRepository) GetByPlanNo(ctx context.Context, planNo string) (*model.SipPlan, error) {
	var plan model.SipPlan
	err := r.db.WithContext(ctx).Where("plan_no = ?", planNo).First(&plan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, classify(err)
	}
	return &plan, nil
}

func (r *SipPlanRepository) ListByUserRef(ctx context.Context, userRef string) ([]*model.SipPlan, error) {
	var plans []*model.SipPlan
	err := r.db.WithContext(ctx).
		Where("user_ref = ?", userRef).
		Order("id DESC").
		Find(&plans).Error
	return plans, classify(err)
}

// ListDue 到期的 ACTIVE 计划，最早到期的在前
func (r *SipPlanRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*model.SipPlan, error) {
	var plans []*model.SipPlan
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_due_date <= ?", model.PlanStatusActive, now).
		Order("next_due_date ASC").
		Limit(limit).
		Find(&plans).Error
	return plans, classify(err)
}

// Advance 以已完成期数做 CAS 推进一期；期数已被其他请求推进时返回 ErrPlanStale
func (r *SipPlanRepository) Advance(ctx context.Context, plan *model.SipPlan, expectedCycles int) error {
	result := r.db.WithContext(ctx).
		Model(&model.SipPlan{}).
		Where("plan_no = ? AND status = ? AND cycles_completed = ?", plan.PlanNo, model.PlanStatusActive, expectedCycles).
		Updates(map[string]interface{}{
			"cycles_completed": plan.CyclesCompleted,
			"next_due_date":    plan.NextDueDate,
			"status":           plan.Status,
		})

	if result.Error != nil {
		return classify(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrPlanStale
	}
	return nil
}

func (r *SipPlanRepository) UpdateStatus(ctx context.Context, planNo string, fromStatus, toStatus string) error {
	if !model.CanTransitionTo(fromStatus, toStatus) {
		return ErrStatusInvalid
	}

	result := r.db.WithContext(ctx).
		Model(&model.SipPlan{}).
		Where("plan_no = ? AND status = ?", planNo, fromStatus).
		Update("status", toStatus)

	if result.Error != nil {
		return classify(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrPlanStale
	}
	return nil
}
