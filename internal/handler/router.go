package handler

import (
	"goldledger/internal/metrics"

	"github.com/gin-gonic/gin"
)

// SetupRouter 配置路由
func SetupRouter(h *Handler, m *metrics.Metrics) *gin.Engine {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	// API 路由组
	api := r.Group("/api/v1")
	{
		api.GET("/rate", h.GetRate)
		api.POST("/quote", h.Quote)
		api.POST("/reconcile", h.Reconcile)

		// 账户相关
		account := api.Group("/account")
		{
			account.GET("/balance", h.GetBalance)
			account.GET("/transactions", h.ListTransactions)
			account.GET("/transaction", h.GetTransaction)
		}

		// 交易相关
		trade := api.Group("/trade")
		{
			trade.POST("/execute", h.ExecuteTrade)
		}

		// 定投相关
		sip := api.Group("/sip")
		{
			sip.POST("/create", h.CreateSip)
			sip.POST("/pay", h.PaySip)
			sip.POST("/cancel", h.CancelSip)
			sip.GET("/list", h.ListSips)
			sip.GET("/detail", h.GetSip)
		}

		api.POST("/profile/register", h.Register)
		api.GET("/profile", h.GetProfile)
		api.POST("/kyc/verify", h.VerifyKyc)
	}

	// 健康检查
	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(m.Handler()))

	return r
}
