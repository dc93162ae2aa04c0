package handler

import (
	"context"
	"errors"
	"io"
	"strconv"

	"goldledger/internal/infrastructure/verification"
	"goldledger/internal/model"
	"goldledger/internal/repository"
	"goldledger/internal/service"
	"goldledger/pkg/logger"
	"goldledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// HealthChecker 主库探活
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	engine         *service.Engine
	accountService *service.AccountService
	sipScheduler   *service.SipScheduler
	profileService *service.ProfileService
	kycService     *service.KycService
	rates          service.RateProvider
	health         HealthChecker
}

type Deps struct {
	Engine         *service.Engine
	AccountService *service.AccountService
	SipScheduler   *service.SipScheduler
	ProfileService *service.ProfileService
	KycService     *service.KycService
	Rates          service.RateProvider
	Health         HealthChecker
}

// NewHandler 创建处理器实例
func NewHandler(d Deps) *Handler {
	return &Handler{
		engine:         d.Engine,
		accountService: d.AccountService,
		sipScheduler:   d.SipScheduler,
		profileService: d.ProfileService,
		kycService:     d.KycService,
		rates:          d.Rates,
		health:         d.Health,
	}
}

// writeError 业务错误映射为响应码，未知错误按 500 返回
func writeError(c *gin.Context, err error) {
	var extErr *service.ExternalVerificationError

	switch {
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, service.ErrInvalidPlan):
		response.BusinessError(c, response.CodeInvalidInput, err.Error())
	case errors.Is(err, service.ErrInsufficientBalance):
		response.BusinessError(c, response.CodeInsufficientBalance, "黄金余额不足")
	case errors.Is(err, service.ErrRateUnavailable):
		response.BusinessError(c, response.CodeRateUnavailable, err.Error())
	case errors.Is(err, service.ErrPlanNotFound):
		response.BusinessError(c, response.CodePlanNotFound, "定投计划不存在")
	case errors.Is(err, service.ErrPlanNotDue):
		response.BusinessError(c, response.CodePlanNotDue, err.Error())
	case errors.Is(err, service.ErrPlanTerminal):
		response.BusinessError(c, response.CodePlanTerminal, "定投计划已结束")
	case errors.Is(err, service.ErrReconciliationConflict):
		response.BusinessError(c, response.CodeReconcileConflict, err.Error())
	case errors.As(err, &extErr):
		response.BusinessError(c, response.CodeVerificationFailed, extErr.Message)
	case errors.Is(err, service.ErrVerificationTimeout):
		response.BusinessError(c, response.CodeVerificationTimeout, "核验服务超时，请稍后重试")
	case errors.Is(err, service.ErrProfileNotFound):
		response.BusinessError(c, response.CodeProfileNotFound, "用户不存在")
	case errors.Is(err, service.ErrProfileExists):
		response.BusinessError(c, response.CodeDuplicateRequest, "用户已注册")
	case errors.Is(err, service.ErrTransactionNotFound):
		response.BusinessError(c, response.CodeTransactionNotFound, "流水不存在")
	case errors.Is(err, service.ErrStoreTimeout):
		response.Error(c, response.CodeStoreTimeout, "账本存储超时，请稍后重试")
	case errors.Is(err, service.ErrStoreUnavailable):
		response.Error(c, response.CodeUnavailable, "账本存储暂不可用")
	default:
		logger.Error("请求处理失败", "path", c.FullPath(), "error", err)
		response.ServerError(c, err.Error())
	}
}

// Health 健康检查，主库不通时仍返回 200，由 ledger 字段区分
// GET /health
func (h *Handler) Health(c *gin.Context) {
	ledger := "ok"
	if h.health != nil {
		if err := h.health.Ping(c.Request.Context()); err != nil {
			ledger = "degraded"
		}
	}
	c.JSON(200, gin.H{"status": "ok", "ledger": ledger})
}

// ============================================================
// 行情与报价
// ============================================================

// GetRate 当前买入/卖出金价
// GET /api/v1/rate
func (h *Handler) GetRate(c *gin.Context) {
	ctx := c.Request.Context()
	buy, err := h.rates.GetRate(ctx, model.SideBuy)
	if err != nil {
		writeError(c, err)
		return
	}
	sell, err := h.rates.GetRate(ctx, model.SideSell)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"buy": buy, "sell": sell})
}

// Quote 只换算不记账
// POST /api/v1/quote
func (h *Handler) Quote(c *gin.Context) {
	var intent service.Intent
	if err := c.ShouldBindJSON(&intent); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	q, err := h.engine.Quote(c.Request.Context(), &intent)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, q)
}

// ============================================================
// 账户相关接口
// ============================================================

// GetBalance 查询黄金余额
// GET /api/v1/account/balance?user_ref=xxx
func (h *Handler) GetBalance(c *gin.Context) {
	userRef := c.Query("user_ref")
	if userRef == "" {
		response.ParamError(c, "user_ref 参数不能为空")
		return
	}

	view, err := h.accountService.GetBalance(c.Request.Context(), userRef)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, view)
}

// ListTransactions 查询流水，最新在前
// GET /api/v1/account/transactions?user_ref=xxx&kind=BUY&status=SUCCESS&page=1&page_size=20
func (h *Handler) ListTransactions(c *gin.Context) {
	userRef := c.Query("user_ref")
	if userRef == "" {
		response.ParamError(c, "user_ref 参数不能为空")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	result, err := h.accountService.ListTransactions(c.Request.Context(), userRef, repository.TransactionFilter{
		Kind:     model.Kind(c.Query("kind")),
		Status:   c.Query("status"),
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      result.Items,
		"total":     result.Total,
		"page":      page,
		"page_size": pageSize,
	})
}

// GetTransaction 查询单笔流水，降级队列中的记录状态为 PENDING
// GET /api/v1/account/transaction?transaction_no=xxx
func (h *Handler) GetTransaction(c *gin.Context) {
	transactionNo := c.Query("transaction_no")
	if transactionNo == "" {
		response.ParamError(c, "transaction_no 参数不能为空")
		return
	}

	txn, err := h.accountService.GetTransaction(c.Request.Context(), transactionNo)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, txn)
}

// ============================================================
// 交易相关接口
// ============================================================

// ExecuteTrade 买入 / 卖出 / 赠送 / 兑换
// POST /api/v1/trade/execute
//
// 主库不可达时交易写入本地队列，返回 202 与 PENDING 流水
func (h *Handler) ExecuteTrade(c *gin.Context) {
	var intent service.Intent
	if err := c.ShouldBindJSON(&intent); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	if intent.Kind == model.KindSip {
		response.ParamError(c, "定投请使用 /api/v1/sip 接口")
		return
	}

	result, err := h.engine.Execute(c.Request.Context(), &intent)
	if err != nil {
		writeError(c, err)
		return
	}
	if result.Warning != nil {
		response.Accepted(c, result.Warning.Error(), result)
		return
	}
	response.Success(c, result)
}

// Reconcile 手动触发对账，不传 user_ref 时处理所有用户
// POST /api/v1/reconcile
func (h *Handler) Reconcile(c *gin.Context) {
	var req struct {
		UserRef string `json:"user_ref"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	ctx := c.Request.Context()
	if req.UserRef != "" {
		report, err := h.engine.ReconcileUser(ctx, req.UserRef)
		if errors.Is(err, service.ErrReconciliationConflict) {
			response.ErrorWithData(c, response.CodeReconcileConflict, err.Error(), report)
			return
		}
		if err != nil {
			writeError(c, err)
			return
		}
		response.Success(c, report)
		return
	}

	reports, err := h.engine.Reconcile(ctx, 100)
	if errors.Is(err, service.ErrReconciliationConflict) {
		response.ErrorWithData(c, response.CodeReconcileConflict, err.Error(), gin.H{"reports": reports})
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"reports": reports})
}

// ============================================================
// 定投相关接口
// ============================================================

// CreateSip 创建定投计划并扣第一期
// POST /api/v1/sip/create
func (h *Handler) CreateSip(c *gin.Context) {
	var req service.CreatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.sipScheduler.CreatePlan(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, result)
}

type planNoRequest struct {
	PlanNo string `json:"plan_no" binding:"required"`
}

// PaySip 扣下一期
// POST /api/v1/sip/pay
func (h *Handler) PaySip(c *gin.Context) {
	var req planNoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.sipScheduler.PayInstallment(c.Request.Context(), req.PlanNo)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, result)
}

// CancelSip 取消定投
// POST /api/v1/sip/cancel
func (h *Handler) CancelSip(c *gin.Context) {
	var req planNoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	plan, err := h.sipScheduler.CancelPlan(c.Request.Context(), req.PlanNo)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, plan)
}

// ListSips GET /api/v1/sip/list?user_ref=xxx
func (h *Handler) ListSips(c *gin.Context) {
	userRef := c.Query("user_ref")
	if userRef == "" {
		response.ParamError(c, "user_ref 参数不能为空")
		return
	}

	plans, err := h.sipScheduler.ListPlans(c.Request.Context(), userRef)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"list": plans})
}

// GetSip GET /api/v1/sip/detail?plan_no=xxx
func (h *Handler) GetSip(c *gin.Context) {
	planNo := c.Query("plan_no")
	if planNo == "" {
		response.ParamError(c, "plan_no 参数不能为空")
		return
	}

	plan, err := h.sipScheduler.GetPlan(c.Request.Context(), planNo)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, plan)
}

// ============================================================
// 用户与核验
// ============================================================

// Register POST /api/v1/profile/register
func (h *Handler) Register(c *gin.Context) {
	var req service.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	profile, err := h.profileService.Register(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, profile)
}

// GetProfile GET /api/v1/profile?phone=xxx
func (h *Handler) GetProfile(c *gin.Context) {
	phone := c.Query("phone")
	if phone == "" {
		response.ParamError(c, "phone 参数不能为空")
		return
	}

	profile, err := h.profileService.Get(c.Request.Context(), phone)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, profile)
}

// VerifyKyc 转发一次核验请求
// POST /api/v1/kyc/verify
func (h *Handler) VerifyKyc(c *gin.Context) {
	var req verification.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.kycService.Verify(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, result)
}
