package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"goldledger/internal/config"
	"goldledger/internal/metrics"
	"goldledger/internal/model"
	"goldledger/internal/repository"
	"goldledger/pkg/idgen"
	"goldledger/pkg/logger"

	"github.com/shopspring/decimal"
)

// PlanStore 定投计划持久化
type PlanStore interface {
	Create(ctx context.Context, plan *model.SipPlan) error
	GetByPlanNo(ctx context.Context, planNo string) (*model.SipPlan, error)
	ListByUserRef(ctx context.Context, userRef string) ([]*model.SipPlan, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]*model.SipPlan, error)
	Advance(ctx context.Context, plan *model.SipPlan, expectedCycles int) error
	UpdateStatus(ctx context.Context, planNo string, fromStatus, toStatus string) error
}

// ============================================================================
// 定投计划状态机
// ============================================================================
//
//   ACTIVE --扣款成功, cycles < total--> ACTIVE
//   ACTIVE --扣款成功, cycles == total--> COMPLETED
//   ACTIVE --取消--> CANCELLED
//
// COMPLETED / CANCELLED 为终态。每期扣款使用幂等键 sip:<planNo>:<cycle>，
// 期数推进是对 cycles_completed 的 CAS，重复或并发扣款不会多扣。
// 扣款和取消都在用户锁内重新读取计划后执行，取消不会插到扣款与推进之间。
// ============================================================================

type SipScheduler struct {
	plans          PlanStore
	engine         *Engine
	metrics        *metrics.Metrics
	minInstallment decimal.Decimal
	duePolicy      string
	now            func() time.Time
}

func NewSipScheduler(plans PlanStore, engine *Engine, m *metrics.Metrics, minInstallment decimal.Decimal, duePolicy string) *SipScheduler {
	return &SipScheduler{
		plans:          plans,
		engine:         engine,
		metrics:        m,
		minInstallment: minInstallment,
		duePolicy:      duePolicy,
		now:            time.Now,
	}
}

type CreatePlanRequest struct {
	UserRef     string          `json:"user_ref" binding:"required"`
	PlanAmount  decimal.Decimal `json:"plan_amount"`
	Cadence     model.Cadence   `json:"cadence" binding:"required"`
	StartDate   time.Time       `json:"start_date"`
	TotalCycles int             `json:"total_cycles"`
}

type PlanResult struct {
	Plan        *model.SipPlan     `json:"plan"`
	Transaction *model.Transaction `json:"transaction,omitempty"`
}

func installmentKey(planNo string, cycle int) string {
	return fmt.Sprintf("sip:%s:%d", planNo, cycle)
}

// CreatePlan 创建计划并立即扣第一期
func (s *SipScheduler) CreatePlan(ctx context.Context, req *CreatePlanRequest) (*PlanResult, error) {
	switch {
	case req.UserRef == "":
		return nil, fmt.Errorf("%w: 用户不能为空", ErrInvalidPlan)
	case req.PlanAmount.LessThan(s.minInstallment):
		return nil, fmt.Errorf("%w: 每期金额不能低于 %s", ErrInvalidPlan, s.minInstallment.String())
	case req.TotalCycles < 1:
		return nil, fmt.Errorf("%w: 期数至少为 1", ErrInvalidPlan)
	case !req.Cadence.Valid():
		return nil, fmt.Errorf("%w: 不支持的周期 %q", ErrInvalidPlan, req.Cadence)
	}

	start := req.StartDate
	if start.IsZero() {
		start = s.now()
	}

	plan := &model.SipPlan{
		PlanNo:          idgen.GeneratePlanNo(),
		UserRef:         req.UserRef,
		PlanAmount:      req.PlanAmount,
		Cadence:         req.Cadence,
		StartDate:       start,
		NextDueDate:     start,
		TotalCycles:     req.TotalCycles,
		CyclesCompleted: 0,
		Status:          model.PlanStatusActive,
	}
	if err := s.plans.Create(ctx, plan); err != nil {
		return nil, fmt.Errorf("创建定投计划失败: %w", err)
	}

	release, err := s.engine.lockUser(ctx, plan.UserRef)
	if err != nil {
		return nil, err
	}
	defer release()

	result, err := s.pay(ctx, plan, false)
	if err != nil {
		// 首期没扣成功，计划作废
		if cancelErr := s.plans.UpdateStatus(ctx, plan.PlanNo, model.PlanStatusActive, model.PlanStatusCancelled); cancelErr != nil {
			logger.Error("首期扣款失败后取消计划出错", "planNo", plan.PlanNo, "error", cancelErr)
		}
		return nil, err
	}

	logger.Info("定投计划已创建", "planNo", plan.PlanNo, "user", plan.UserRef, "cadence", plan.Cadence, "totalCycles", plan.TotalCycles)
	return result, nil
}

// PayInstallment 扣下一期。strict 策略下未到期返回 ErrPlanNotDue
func (s *SipScheduler) PayInstallment(ctx context.Context, planNo string) (*PlanResult, error) {
	plan, err := s.GetPlan(ctx, planNo)
	if err != nil {
		return nil, err
	}
	plan, release, err := s.lockPlan(ctx, plan)
	if err != nil {
		return nil, err
	}
	defer release()
	return s.pay(ctx, plan, s.duePolicy != config.SipDueLenient)
}

// lockPlan 取用户锁并重新读取计划，返回的 release 由调用方负责
func (s *SipScheduler) lockPlan(ctx context.Context, plan *model.SipPlan) (*model.SipPlan, func(), error) {
	release, err := s.engine.lockUser(ctx, plan.UserRef)
	if err != nil {
		return nil, nil, err
	}
	latest, err := s.GetPlan(ctx, plan.PlanNo)
	if err != nil {
		release()
		return nil, nil, err
	}
	return latest, release, nil
}

// pay 调用方必须持有计划所属用户的锁
func (s *SipScheduler) pay(ctx context.Context, plan *model.SipPlan, checkDue bool) (*PlanResult, error) {
	if model.IsTerminal(plan.Status) {
		return nil, ErrPlanTerminal
	}
	if checkDue && s.now().Before(plan.NextDueDate) {
		return nil, fmt.Errorf("%w: 下次扣款日 %s", ErrPlanNotDue, plan.NextDueDate.Format("2006-01-02"))
	}

	cycle := plan.CyclesCompleted + 1
	exec, err := s.engine.executeLocked(ctx, &Intent{
		UserRef:        plan.UserRef,
		Kind:           model.KindSip,
		Mode:           model.ModeCurrency,
		Value:          plan.PlanAmount,
		IdempotencyKey: installmentKey(plan.PlanNo, cycle),
		SipPlanNo:      plan.PlanNo,
		RequirePrimary: true,
	})
	if err != nil {
		s.metrics.IncSipInstallment("failed")
		return nil, err
	}
	if exec.Transaction.Status != model.TxnStatusSuccess {
		s.metrics.IncSipInstallment("failed")
		return nil, fmt.Errorf("第 %d 期扣款未成功: status=%s", cycle, exec.Transaction.Status)
	}

	next := *plan
	next.CyclesCompleted = cycle
	next.NextDueDate = plan.Cadence.Next(plan.NextDueDate)
	if next.CyclesCompleted >= next.TotalCycles {
		next.Status = model.PlanStatusCompleted
	}

	err = s.plans.Advance(ctx, &next, plan.CyclesCompleted)
	if errors.Is(err, repository.ErrPlanStale) {
		latest, getErr := s.GetPlan(ctx, plan.PlanNo)
		if getErr != nil {
			return nil, getErr
		}
		// 其他实例已推进本期，本次扣款被幂等键去重
		if latest.CyclesCompleted >= cycle {
			return &PlanResult{Plan: latest, Transaction: exec.Transaction}, nil
		}
		// 扣款已入账但计划被锁外修改为终态，钱已经扣了，如实返回流水
		if model.IsTerminal(latest.Status) {
			s.metrics.IncSipInstallment("paid")
			logger.Warn("定投扣款已入账但计划已结束，期数未推进",
				"planNo", latest.PlanNo,
				"cycle", cycle,
				"status", latest.Status,
				"transactionNo", exec.Transaction.TransactionNo,
			)
			return &PlanResult{Plan: latest, Transaction: exec.Transaction}, nil
		}
		return nil, fmt.Errorf("推进定投计划失败: %w", err)
	}
	if err != nil {
		return nil, fmt.Errorf("推进定投计划失败: %w", err)
	}

	s.metrics.IncSipInstallment("paid")
	logger.Info("定投扣款成功",
		"planNo", next.PlanNo,
		"cycle", next.CyclesCompleted,
		"totalCycles", next.TotalCycles,
		"status", next.Status,
		"transactionNo", exec.Transaction.TransactionNo,
	)
	return &PlanResult{Plan: &next, Transaction: exec.Transaction}, nil
}

func (s *SipScheduler) CancelPlan(ctx context.Context, planNo string) (*model.SipPlan, error) {
	plan, err := s.GetPlan(ctx, planNo)
	if err != nil {
		return nil, err
	}
	plan, release, err := s.lockPlan(ctx, plan)
	if err != nil {
		return nil, err
	}
	defer release()

	if model.IsTerminal(plan.Status) {
		return nil, ErrPlanTerminal
	}

	err = s.plans.UpdateStatus(ctx, planNo, plan.Status, model.PlanStatusCancelled)
	if errors.Is(err, repository.ErrPlanStale) {
		latest, getErr := s.GetPlan(ctx, planNo)
		if getErr != nil {
			return nil, getErr
		}
		if model.IsTerminal(latest.Status) {
			return nil, ErrPlanTerminal
		}
		return nil, fmt.Errorf("取消定投计划失败: %w", err)
	}
	if err != nil {
		return nil, fmt.Errorf("取消定投计划失败: %w", err)
	}

	plan.Status = model.PlanStatusCancelled
	logger.Info("定投计划已取消", "planNo", planNo, "cyclesCompleted", plan.CyclesCompleted)
	return plan, nil
}

func (s *SipScheduler) GetPlan(ctx context.Context, planNo string) (*model.SipPlan, error) {
	plan, err := s.plans.GetByPlanNo(ctx, planNo)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrPlanNotFound
	}
	return plan, err
}

func (s *SipScheduler) ListPlans(ctx context.Context, userRef string) ([]*model.SipPlan, error) {
	return s.plans.ListByUserRef(ctx, userRef)
}

// PayDue 扣所有已到期的计划，返回成功期数。单个计划失败只记日志
func (s *SipScheduler) PayDue(ctx context.Context, limit int) (int, error) {
	plans, err := s.plans.ListDue(ctx, s.now(), limit)
	if err != nil {
		return 0, err
	}

	paid := 0
	for _, plan := range plans {
		if _, err := s.payDue(ctx, plan); err != nil {
			logger.Warn("到期定投扣款失败", "planNo", plan.PlanNo, "user", plan.UserRef, "error", err)
			if errors.Is(err, ErrStoreUnavailable) {
				return paid, err
			}
			continue
		}
		paid++
	}
	return paid, nil
}

func (s *SipScheduler) payDue(ctx context.Context, plan *model.SipPlan) (*PlanResult, error) {
	plan, release, err := s.lockPlan(ctx, plan)
	if err != nil {
		return nil, err
	}
	defer release()
	return s.pay(ctx, plan, true)
}
